package routing

import (
	"fmt"
	"strings"

	"github.com/example/integration-hub/internal/notify"
)

const DefaultFallbackChannel = "#general"

// ContentFilter routes a notification to Channel when Field in the content
// data matches Value.
type ContentFilter struct {
	Field   string `yaml:"field" json:"field"`
	Value   string `yaml:"value" json:"value"`
	Channel string `yaml:"channel" json:"channel"`
}

var supportedFilterFields = map[string]bool{
	"repository": true,
	"priority":   true,
	"label":      true,
	"component":  true,
	"author":     true,
}

// ParseContentFilter parses the "field:value" form used in policy files.
func ParseContentFilter(expr, channel string) (ContentFilter, error) {
	field, value, ok := strings.Cut(expr, ":")
	if !ok || value == "" {
		return ContentFilter{}, fmt.Errorf("content filter %q must be field:value", expr)
	}
	field = strings.ToLower(strings.TrimSpace(field))
	if !supportedFilterFields[field] {
		return ContentFilter{}, fmt.Errorf("unsupported content filter field %q", field)
	}
	return ContentFilter{Field: field, Value: strings.TrimSpace(value), Channel: channel}, nil
}

// RoutingRule is the static routing policy for one notification type.
type RoutingRule struct {
	Type             notify.Type
	DefaultChannel   string
	UrgencyOverrides map[notify.Urgency]string
	// ContentFilters are evaluated in order; the first match wins.
	ContentFilters []ContentFilter
	TeamOverrides  map[string]string
	Enabled        bool
}

// HourRange is a half-open [Start, End) range of hours. Start > End wraps midnight.
type HourRange struct {
	Start int `yaml:"start" json:"start"`
	End   int `yaml:"end" json:"end"`
}

// Contains reports whether hour falls inside the range.
func (h HourRange) Contains(hour int) bool {
	if h.Start == h.End {
		return true
	}
	if h.Start < h.End {
		return hour >= h.Start && hour < h.End
	}
	return hour >= h.Start || hour < h.End
}

// ChannelConfig restricts what a channel accepts. Empty sets mean unrestricted.
type ChannelConfig struct {
	ChannelID          string
	MaxMessagesPerHour int
	AllowedUrgencies   map[notify.Urgency]bool
	AllowedTypes       map[notify.Type]bool
	TeamRestrictions   map[string]bool
	ActiveHours        *HourRange
	Enabled            bool
}

func urgencySet(us ...notify.Urgency) map[notify.Urgency]bool {
	out := make(map[notify.Urgency]bool, len(us))
	for _, u := range us {
		out[u] = true
	}
	return out
}

func typeSet(ts ...notify.Type) map[notify.Type]bool {
	out := make(map[notify.Type]bool, len(ts))
	for _, t := range ts {
		out[t] = true
	}
	return out
}

// DefaultRules returns the built-in routing table.
func DefaultRules() map[notify.Type]RoutingRule {
	critical := map[notify.Urgency]string{notify.UrgencyCritical: "#critical-alerts"}
	rules := []RoutingRule{
		{
			Type:             notify.PRNew,
			DefaultChannel:   "#development",
			UrgencyOverrides: critical,
			ContentFilters: []ContentFilter{
				{Field: "label", Value: "security", Channel: "#security"},
				{Field: "label", Value: "hotfix", Channel: "#dev-urgent"},
			},
		},
		{Type: notify.PRUpdated, DefaultChannel: "#development", UrgencyOverrides: critical},
		{Type: notify.PRMerged, DefaultChannel: "#development", UrgencyOverrides: critical},
		{Type: notify.PRClosed, DefaultChannel: "#development"},
		{Type: notify.PRReadyForReview, DefaultChannel: "#code-review", UrgencyOverrides: critical},
		{Type: notify.PRApproved, DefaultChannel: "#code-review"},
		{Type: notify.PRChangesRequested, DefaultChannel: "#code-review"},
		{
			Type:           notify.PRConflicts,
			DefaultChannel: "#development",
			UrgencyOverrides: map[notify.Urgency]string{
				notify.UrgencyCritical: "#critical-alerts",
				notify.UrgencyHigh:     "#dev-urgent",
			},
		},
		{Type: notify.JiraStatusChange, DefaultChannel: "#project-updates", UrgencyOverrides: critical},
		{
			Type:           notify.JiraPriorityChange,
			DefaultChannel: "#project-updates",
			UrgencyOverrides: map[notify.Urgency]string{
				notify.UrgencyCritical: "#critical-alerts",
				notify.UrgencyHigh:     "#project-alerts",
			},
		},
		{Type: notify.JiraAssignment, DefaultChannel: "#project-updates"},
		{Type: notify.JiraComment, DefaultChannel: "#project-updates"},
		{Type: notify.JiraBlocker, DefaultChannel: "#project-alerts", UrgencyOverrides: critical},
		{Type: notify.JiraSprintChange, DefaultChannel: "#project-updates"},
		{
			Type:             notify.AlertBuildFailure,
			DefaultChannel:   "#build-alerts",
			UrgencyOverrides: critical,
			ContentFilters: []ContentFilter{
				{Field: "repository", Value: "infra", Channel: "#devops"},
			},
		},
		{Type: notify.AlertDeploymentFailure, DefaultChannel: "#devops", UrgencyOverrides: critical},
		{Type: notify.AlertSecurity, DefaultChannel: "#security", UrgencyOverrides: critical},
		{Type: notify.AlertOutage, DefaultChannel: "#critical-alerts"},
		{Type: notify.AlertCriticalBug, DefaultChannel: "#critical-alerts"},
		{Type: notify.StandupDaily, DefaultChannel: "#standup"},
		{Type: notify.StandupSummary, DefaultChannel: "#standup"},
		{Type: notify.StandupReminder, DefaultChannel: "#standup"},
	}

	out := make(map[notify.Type]RoutingRule, len(rules))
	for _, r := range rules {
		r.Enabled = true
		out[r.Type] = r
	}
	return out
}

// DefaultChannels returns eligibility settings for every channel named in DefaultRules.
func DefaultChannels() map[string]ChannelConfig {
	channels := []ChannelConfig{
		{ChannelID: DefaultFallbackChannel, MaxMessagesPerHour: 100},
		{ChannelID: "#development", MaxMessagesPerHour: 200},
		{ChannelID: "#code-review", MaxMessagesPerHour: 150},
		{ChannelID: "#dev-urgent", MaxMessagesPerHour: 60,
			AllowedUrgencies: urgencySet(notify.UrgencyCritical, notify.UrgencyHigh, notify.UrgencyMedium)},
		{ChannelID: "#critical-alerts", MaxMessagesPerHour: 100,
			AllowedUrgencies: urgencySet(notify.UrgencyCritical, notify.UrgencyHigh)},
		{ChannelID: "#project-updates", MaxMessagesPerHour: 150},
		{ChannelID: "#project-alerts", MaxMessagesPerHour: 60},
		{ChannelID: "#build-alerts", MaxMessagesPerHour: 100},
		{ChannelID: "#devops", MaxMessagesPerHour: 100},
		{ChannelID: "#security", MaxMessagesPerHour: 50},
		{ChannelID: "#standup", MaxMessagesPerHour: 30,
			AllowedTypes: typeSet(notify.StandupDaily, notify.StandupSummary, notify.StandupReminder)},
	}

	out := make(map[string]ChannelConfig, len(channels))
	for _, c := range channels {
		c.Enabled = true
		out[c.ChannelID] = c
	}
	return out
}
