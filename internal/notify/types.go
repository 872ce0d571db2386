// Package notify holds the closed enumerations shared by the routing,
// deduplication and batching layers.
package notify

import "time"

// Type identifies the kind of event a notification was built from.
type Type string

const (
	PRNew              Type = "pr_new"
	PRUpdated          Type = "pr_updated"
	PRMerged           Type = "pr_merged"
	PRClosed           Type = "pr_closed"
	PRReadyForReview   Type = "pr_ready_for_review"
	PRApproved         Type = "pr_approved"
	PRChangesRequested Type = "pr_changes_requested"
	PRConflicts        Type = "pr_conflicts"

	JiraStatusChange   Type = "jira_status_change"
	JiraPriorityChange Type = "jira_priority_change"
	JiraAssignment     Type = "jira_assignment"
	JiraComment        Type = "jira_comment"
	JiraBlocker        Type = "jira_blocker"
	JiraSprintChange   Type = "jira_sprint_change"

	AlertBuildFailure      Type = "alert_build_failure"
	AlertDeploymentFailure Type = "alert_deployment_failure"
	AlertSecurity          Type = "alert_security_vulnerability"
	AlertOutage            Type = "alert_service_outage"
	AlertCriticalBug       Type = "alert_critical_bug"

	StandupDaily    Type = "standup_daily"
	StandupSummary  Type = "standup_summary"
	StandupReminder Type = "standup_reminder"

	WeeklyChangelog Type = "weekly_changelog"
)

// AllTypes lists every known notification type.
var AllTypes = []Type{
	PRNew, PRUpdated, PRMerged, PRClosed, PRReadyForReview, PRApproved, PRChangesRequested, PRConflicts,
	JiraStatusChange, JiraPriorityChange, JiraAssignment, JiraComment, JiraBlocker, JiraSprintChange,
	AlertBuildFailure, AlertDeploymentFailure, AlertSecurity, AlertOutage, AlertCriticalBug,
	StandupDaily, StandupSummary, StandupReminder,
	WeeklyChangelog,
}

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t Type) String() string { return string(t) }

// Category groups notification types for team-level channel mappings.
type Category string

const (
	CategoryPR      Category = "pr"
	CategoryJira    Category = "jira"
	CategoryAlert   Category = "alert"
	CategoryStandup Category = "standup"
	CategoryGeneral Category = "general"
)

// Category is a total function over Type. Unknown types land in CategoryGeneral.
func (t Type) Category() Category {
	switch t {
	case PRNew, PRUpdated, PRMerged, PRClosed, PRReadyForReview, PRApproved, PRChangesRequested, PRConflicts:
		return CategoryPR
	case JiraStatusChange, JiraPriorityChange, JiraAssignment, JiraComment, JiraBlocker, JiraSprintChange:
		return CategoryJira
	case AlertBuildFailure, AlertDeploymentFailure, AlertSecurity, AlertOutage, AlertCriticalBug:
		return CategoryAlert
	case StandupDaily, StandupSummary, StandupReminder:
		return CategoryStandup
	default:
		return CategoryGeneral
	}
}

// MappingKey is the wildcard key used in team channel mappings ("pr_*").
// CategoryGeneral has no wildcard key.
func (c Category) MappingKey() string {
	if c == CategoryGeneral || c == "" {
		return ""
	}
	return string(c) + "_*"
}

// Urgency is the escalation level of a notification.
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// Valid reports whether u is a known urgency.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyCritical, UrgencyHigh, UrgencyMedium, UrgencyLow:
		return true
	}
	return false
}

// Priority is the batching priority of a message.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// PriorityFor maps an urgency onto the batching priority of the same rank.
func PriorityFor(u Urgency) Priority {
	switch u {
	case UrgencyCritical:
		return PriorityCritical
	case UrgencyHigh:
		return PriorityHigh
	case UrgencyLow:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// RoutingContext is the immutable input to a routing decision.
type RoutingContext struct {
	Type      Type
	Urgency   Urgency
	TeamID    string
	Data      map[string]any
	Author    string
	Timestamp time.Time
	Metadata  map[string]string
}
