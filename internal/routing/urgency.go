package routing

import (
	"fmt"
	"strings"

	"github.com/example/integration-hub/internal/notify"
)

var (
	criticalKeywords = []string{
		"critical", "urgent", "emergency", "outage", "down", "security",
		"vulnerability", "breach", "failure", "error", "broken",
	}
	highKeywords = []string{
		"blocker", "blocked", "conflict", "failed", "timeout", "issue",
		"problem", "alert", "warning",
	}
)

// AnalyzeUrgency infers urgency from content. Keyword matches always take
// precedence over the type and the explicit priority field.
func AnalyzeUrgency(data map[string]any, typ notify.Type) notify.Urgency {
	text := searchableText(data)

	if containsAny(text, criticalKeywords) {
		return notify.UrgencyCritical
	}
	if containsAny(text, highKeywords) {
		return notify.UrgencyHigh
	}

	switch typ {
	case notify.AlertSecurity, notify.AlertOutage:
		return notify.UrgencyCritical
	case notify.PRConflicts, notify.JiraBlocker:
		return notify.UrgencyHigh
	}

	switch strings.ToLower(stringField(data, "priority")) {
	case "critical", "blocker", "highest":
		return notify.UrgencyCritical
	case "high", "major":
		return notify.UrgencyHigh
	case "low", "minor", "trivial":
		return notify.UrgencyLow
	}
	return notify.UrgencyMedium
}

func searchableText(data map[string]any) string {
	parts := []string{
		stringField(data, "title"),
		stringField(data, "summary"),
		stringField(data, "description"),
	}
	parts = append(parts, stringList(data["labels"])...)
	return strings.ToLower(strings.Join(parts, " "))
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func stringField(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// stringList flattens the label/component shapes GitHub and JIRA send:
// plain strings, lists of strings, and lists of objects with a name.
func stringList(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			switch it := item.(type) {
			case string:
				out = append(out, it)
			case map[string]any:
				if name, ok := it["name"].(string); ok {
					out = append(out, name)
				}
			default:
				out = append(out, fmt.Sprint(it))
			}
		}
		return out
	default:
		return []string{fmt.Sprint(val)}
	}
}
