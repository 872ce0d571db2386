package webhook

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/integration-hub/internal/hub"
	"github.com/example/integration-hub/internal/notify"
)

type ghUser struct {
	Login string `json:"login"`
}

type ghLabel struct {
	Name string `json:"name"`
}

type ghRepository struct {
	FullName string `json:"full_name"`
}

type ghPullRequest struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	User      ghUser    `json:"user"`
	Labels    []ghLabel `json:"labels"`
	Merged    bool      `json:"merged"`
	Mergeable *bool     `json:"mergeable"`
	Draft     bool      `json:"draft"`
	UpdatedAt time.Time `json:"updated_at"`
	Base      struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

type ghReview struct {
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
	User    ghUser `json:"user"`
}

type ghRun struct {
	Name       string `json:"name"`
	Conclusion string `json:"conclusion"`
	HTMLURL    string `json:"html_url"`
	HeadBranch string `json:"head_branch"`
	HeadSHA    string `json:"head_sha"`
	CheckSuite struct {
		HeadBranch string `json:"head_branch"`
	} `json:"check_suite"`
}

type githubPayload struct {
	Action      string         `json:"action"`
	PullRequest *ghPullRequest `json:"pull_request"`
	Review      *ghReview      `json:"review"`
	CheckRun    *ghRun         `json:"check_run"`
	WorkflowRun *ghRun         `json:"workflow_run"`
	Repository  ghRepository   `json:"repository"`
	Sender      ghUser         `json:"sender"`
}

func ignored(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errIgnored}, args...)...)
}

func normalizeGitHub(r *http.Request, body []byte) (hub.Event, error) {
	kind := r.Header.Get("X-GitHub-Event")
	if kind == "" {
		return hub.Event{}, ignored("missing X-GitHub-Event header")
	}
	var p githubPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return hub.Event{}, fmt.Errorf("decode github %s payload: %w", kind, err)
	}

	switch kind {
	case "pull_request":
		return githubPullRequest(p)
	case "pull_request_review":
		return githubReview(p)
	case "check_run":
		return githubBuild(p, p.CheckRun, "check run")
	case "workflow_run":
		return githubBuild(p, p.WorkflowRun, "workflow")
	default:
		return hub.Event{}, ignored("github event %s", kind)
	}
}

func prData(p githubPayload) map[string]any {
	pr := p.PullRequest
	labels := make([]any, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.Name)
	}
	return map[string]any{
		"number":      pr.Number,
		"title":       pr.Title,
		"description": pr.Body,
		"url":         pr.HTMLURL,
		"repository":  p.Repository.FullName,
		"labels":      labels,
		"base_branch": pr.Base.Ref,
		"action":      p.Action,
		"updated_at":  pr.UpdatedAt,
	}
}

func githubPullRequest(p githubPayload) (hub.Event, error) {
	if p.PullRequest == nil {
		return hub.Event{}, ignored("pull_request payload without pull_request")
	}
	var typ notify.Type
	switch p.Action {
	case "opened", "reopened":
		typ = notify.PRNew
		if p.PullRequest.Draft {
			return hub.Event{}, ignored("draft pull request")
		}
	case "ready_for_review":
		typ = notify.PRReadyForReview
	case "synchronize", "edited":
		typ = notify.PRUpdated
		if m := p.PullRequest.Mergeable; m != nil && !*m {
			typ = notify.PRConflicts
		}
	case "closed":
		typ = notify.PRClosed
		if p.PullRequest.Merged {
			typ = notify.PRMerged
		}
	default:
		return hub.Event{}, ignored("pull_request action %s", p.Action)
	}
	return hub.Event{
		Type:      typ,
		Author:    p.PullRequest.User.Login,
		Data:      prData(p),
		Timestamp: p.PullRequest.UpdatedAt,
	}, nil
}

func githubReview(p githubPayload) (hub.Event, error) {
	if p.Review == nil || p.PullRequest == nil || p.Action != "submitted" {
		return hub.Event{}, ignored("pull_request_review action %s", p.Action)
	}
	var typ notify.Type
	switch strings.ToLower(p.Review.State) {
	case "approved":
		typ = notify.PRApproved
	case "changes_requested":
		typ = notify.PRChangesRequested
	default:
		return hub.Event{}, ignored("review state %s", p.Review.State)
	}
	data := prData(p)
	data["reviewer"] = p.Review.User.Login
	data["review_url"] = p.Review.HTMLURL
	return hub.Event{Type: typ, Author: p.Review.User.Login, Data: data}, nil
}

func githubBuild(p githubPayload, run *ghRun, what string) (hub.Event, error) {
	if run == nil || p.Action != "completed" {
		return hub.Event{}, ignored("%s action %s", what, p.Action)
	}
	if run.Conclusion != "failure" && run.Conclusion != "timed_out" {
		return hub.Event{}, ignored("%s conclusion %s", what, run.Conclusion)
	}
	branch := run.HeadBranch
	if branch == "" {
		branch = run.CheckSuite.HeadBranch
	}
	return hub.Event{
		Type:   notify.AlertBuildFailure,
		Author: p.Sender.Login,
		Data: map[string]any{
			"title":      fmt.Sprintf("Build failed: %s", run.Name),
			"repository": p.Repository.FullName,
			"branch":     branch,
			"commit":     run.HeadSHA,
			"url":        run.HTMLURL,
			"conclusion": run.Conclusion,
		},
	}, nil
}

type jiraNamed struct {
	Name        string `json:"name"`
	Key         string `json:"key"`
	DisplayName string `json:"displayName"`
}

type jiraIssue struct {
	Key    string `json:"key"`
	Self   string `json:"self"`
	Fields struct {
		Summary     string      `json:"summary"`
		Description string      `json:"description"`
		Labels      []string    `json:"labels"`
		Priority    *jiraNamed  `json:"priority"`
		Status      *jiraNamed  `json:"status"`
		Assignee    *jiraNamed  `json:"assignee"`
		Project     *jiraNamed  `json:"project"`
		Components  []jiraNamed `json:"components"`
	} `json:"fields"`
}

type jiraChangeItem struct {
	Field      string `json:"field"`
	FromString string `json:"fromString"`
	ToString   string `json:"toString"`
}

type jiraPayload struct {
	WebhookEvent string     `json:"webhookEvent"`
	Timestamp    int64      `json:"timestamp"`
	User         *jiraNamed `json:"user"`
	Issue        *jiraIssue `json:"issue"`
	Changelog    struct {
		Items []jiraChangeItem `json:"items"`
	} `json:"changelog"`
	Comment *struct {
		Body   string     `json:"body"`
		Author *jiraNamed `json:"author"`
	} `json:"comment"`
}

func (n *jiraNamed) String() string {
	if n == nil {
		return ""
	}
	if n.DisplayName != "" {
		return n.DisplayName
	}
	if n.Name != "" {
		return n.Name
	}
	return n.Key
}

func blockerPriority(p string) bool {
	switch strings.ToLower(p) {
	case "blocker", "highest":
		return true
	}
	return false
}

func issueData(issue *jiraIssue) map[string]any {
	f := issue.Fields
	project := ""
	if f.Project != nil {
		project = f.Project.Key
	}
	components := make([]any, 0, len(f.Components))
	for _, c := range f.Components {
		components = append(components, c.Name)
	}
	labels := make([]any, 0, len(f.Labels))
	for _, l := range f.Labels {
		labels = append(labels, l)
	}
	return map[string]any{
		"key":         issue.Key,
		"project":     project,
		"summary":     f.Summary,
		"description": f.Description,
		"priority":    f.Priority.String(),
		"status":      f.Status.String(),
		"assignee":    f.Assignee.String(),
		"labels":      labels,
		"components":  components,
		"url":         issue.Self,
	}
}

func normalizeJira(_ *http.Request, body []byte) (hub.Event, error) {
	var p jiraPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return hub.Event{}, fmt.Errorf("decode jira payload: %w", err)
	}
	if p.Issue == nil {
		return hub.Event{}, ignored("jira %s without issue", p.WebhookEvent)
	}

	ev := hub.Event{Data: issueData(p.Issue), Author: p.User.String()}
	if p.Timestamp > 0 {
		ev.Timestamp = time.UnixMilli(p.Timestamp).UTC()
	}

	switch p.WebhookEvent {
	case "jira:issue_created":
		if priority := p.Issue.Fields.Priority.String(); !blockerPriority(priority) {
			return hub.Event{}, ignored("jira issue created with priority %q", priority)
		}
		ev.Type = notify.JiraBlocker
		return ev, nil

	case "comment_created":
		if p.Comment == nil {
			return hub.Event{}, ignored("comment_created without comment")
		}
		ev.Type = notify.JiraComment
		ev.Data["comment"] = p.Comment.Body
		if author := p.Comment.Author.String(); author != "" {
			ev.Author = author
		}
		return ev, nil

	case "jira:issue_updated":
		item, ok := significantChange(p.Changelog.Items)
		if !ok {
			return hub.Event{}, ignored("jira issue update without tracked changes")
		}
		ev.Data["from"] = item.FromString
		ev.Data["to"] = item.ToString
		switch strings.ToLower(item.Field) {
		case "priority":
			ev.Type = notify.JiraPriorityChange
			if blockerPriority(item.ToString) {
				ev.Type = notify.JiraBlocker
			}
		case "status":
			ev.Type = notify.JiraStatusChange
		case "assignee":
			ev.Type = notify.JiraAssignment
		case "sprint":
			ev.Type = notify.JiraSprintChange
		}
		return ev, nil

	default:
		return hub.Event{}, ignored("jira event %s", p.WebhookEvent)
	}
}

// significantChange picks the changelog item that decides the notification
// type: priority, then status, then assignee, then sprint.
func significantChange(items []jiraChangeItem) (jiraChangeItem, bool) {
	for _, field := range []string{"priority", "status", "assignee", "sprint"} {
		for _, it := range items {
			if strings.EqualFold(it.Field, field) {
				return it, true
			}
		}
	}
	return jiraChangeItem{}, false
}
