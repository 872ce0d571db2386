package slack

import (
	"fmt"
	"strings"

	"github.com/example/integration-hub/internal/batching"
	"github.com/example/integration-hub/internal/dispatcher"
	"github.com/example/integration-hub/internal/notify"
)

// Render formats a delivery as Slack mrkdwn text, one line per message with
// a header when several messages were batched together.
func Render(d dispatcher.Delivery) string {
	var b strings.Builder
	if d.Urgency == notify.PriorityCritical {
		b.WriteString(":rotating_light: ")
	}
	if len(d.Messages) > 1 {
		fmt.Fprintf(&b, "*%d updates*\n", len(d.Messages))
		for _, m := range d.Messages {
			b.WriteString("• ")
			b.WriteString(renderLine(m))
			b.WriteByte('\n')
		}
		return strings.TrimRight(b.String(), "\n")
	}
	if len(d.Messages) == 1 {
		b.WriteString(renderLine(d.Messages[0]))
	}
	return b.String()
}

var verbs = map[notify.Type]string{
	notify.PRNew:              "opened",
	notify.PRUpdated:          "updated",
	notify.PRMerged:           "merged",
	notify.PRClosed:           "closed",
	notify.PRReadyForReview:   "ready for review",
	notify.PRApproved:         "approved",
	notify.PRChangesRequested: "changes requested",
	notify.PRConflicts:        "has conflicts",
	notify.JiraStatusChange:   "status changed",
	notify.JiraPriorityChange: "priority changed",
	notify.JiraAssignment:     "assigned",
	notify.JiraComment:        "new comment",
	notify.JiraBlocker:        "blocker",
	notify.JiraSprintChange:   "sprint changed",
}

func field(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func link(text, url string) string {
	if url == "" {
		return text
	}
	return fmt.Sprintf("<%s|%s>", url, text)
}

func renderLine(m *batching.BatchableMessage) string {
	typ := notify.Type(m.ContentType)
	d := m.Data
	var line string

	switch typ.Category() {
	case notify.CategoryPR:
		ref := field(d, "repository")
		if n := field(d, "number"); n != "" {
			ref += "#" + n
		}
		line = fmt.Sprintf("%s %s: %s", link(ref, field(d, "url")), verbs[typ], field(d, "title"))
	case notify.CategoryJira:
		line = fmt.Sprintf("%s %s: %s", link(field(d, "key"), field(d, "url")), verbs[typ], field(d, "summary"))
		if to := field(d, "to"); to != "" {
			from := field(d, "from")
			if from == "" {
				from = "none"
			}
			line += fmt.Sprintf(" (%s → %s)", from, to)
		}
	default:
		title := field(d, "title")
		if title == "" {
			title = field(d, "summary")
		}
		if title == "" {
			title = m.ContentType
		}
		line = link(title, field(d, "url"))
		if repo := field(d, "repository"); repo != "" {
			line += " in " + repo
		}
	}

	if m.Author != "" {
		line += " by " + m.Author
	}
	return line
}
