package routing

import (
	"testing"

	"github.com/example/integration-hub/internal/notify"
)

func TestAnalyzeUrgency(t *testing.T) {
	tests := []struct {
		name string
		typ  notify.Type
		data map[string]any
		want notify.Urgency
	}{
		{
			name: "critical keyword beats low priority",
			typ:  notify.JiraStatusChange,
			data: map[string]any{"title": "CRITICAL: payments API returns 500", "priority": "low"},
			want: notify.UrgencyCritical,
		},
		{
			name: "critical keyword in labels",
			typ:  notify.PRNew,
			data: map[string]any{"title": "Bump deps", "labels": []any{"security"}},
			want: notify.UrgencyCritical,
		},
		{
			name: "high keyword in description",
			typ:  notify.JiraComment,
			data: map[string]any{"summary": "Login page", "description": "Users are blocked from signing in"},
			want: notify.UrgencyHigh,
		},
		{
			name: "security type",
			typ:  notify.AlertSecurity,
			data: map[string]any{"title": "Dependency report"},
			want: notify.UrgencyCritical,
		},
		{
			name: "conflict type",
			typ:  notify.PRConflicts,
			data: map[string]any{"title": "Refactor handlers"},
			want: notify.UrgencyHigh,
		},
		{
			name: "explicit highest priority",
			typ:  notify.JiraStatusChange,
			data: map[string]any{"title": "Update copy", "priority": "Highest"},
			want: notify.UrgencyCritical,
		},
		{
			name: "explicit major priority",
			typ:  notify.JiraStatusChange,
			data: map[string]any{"title": "Update copy", "priority": "major"},
			want: notify.UrgencyHigh,
		},
		{
			name: "explicit trivial priority",
			typ:  notify.JiraStatusChange,
			data: map[string]any{"title": "Update copy", "priority": "Trivial"},
			want: notify.UrgencyLow,
		},
		{
			name: "nothing matches",
			typ:  notify.PRNew,
			data: map[string]any{"title": "Add caching"},
			want: notify.UrgencyMedium,
		},
		{
			name: "nil data",
			typ:  notify.PRNew,
			want: notify.UrgencyMedium,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := AnalyzeUrgency(tc.data, tc.typ); got != tc.want {
				t.Fatalf("AnalyzeUrgency()=%s, expected %s", got, tc.want)
			}
		})
	}
}
