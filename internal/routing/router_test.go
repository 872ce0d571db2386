package routing

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/integration-hub/internal/notify"
)

var fixedNow = time.Date(2024, 3, 12, 14, 30, 0, 0, time.UTC)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	opts := DefaultOptions()
	opts.Now = func() time.Time { return fixedNow }
	return NewRouter(opts, zerolog.Nop())
}

func ctxFor(typ notify.Type, urgency notify.Urgency, team string, data map[string]any) notify.RoutingContext {
	return notify.RoutingContext{
		Type:      typ,
		Urgency:   urgency,
		TeamID:    team,
		Data:      data,
		Timestamp: fixedNow,
	}
}

func TestRouteNotificationIsDeterministic(t *testing.T) {
	r := newTestRouter(t)
	rc := ctxFor(notify.PRConflicts, notify.UrgencyCritical, "backend", nil)

	for i := 0; i < 5; i++ {
		assert.Equal(t, "#critical-alerts", r.RouteNotification(rc, ""))
	}
}

func TestRouteNotificationDefaultRule(t *testing.T) {
	r := newTestRouter(t)
	rc := ctxFor(notify.PRNew, notify.UrgencyMedium, "backend", map[string]any{
		"number":     42,
		"repository": "acme/api",
		"title":      "Add caching",
	})
	assert.Equal(t, "#development", r.RouteNotification(rc, ""))
}

func TestRouteNotificationUrgencyEscalation(t *testing.T) {
	r := newTestRouter(t)

	assert.Equal(t, "#critical-alerts", r.RouteNotification(ctxFor(notify.JiraBlocker, notify.UrgencyCritical, "", nil), ""))
	assert.Equal(t, "#project-alerts", r.RouteNotification(ctxFor(notify.JiraBlocker, notify.UrgencyHigh, "", nil), ""))
}

func TestRouteNotificationPrecedence(t *testing.T) {
	r := newTestRouter(t)
	r.AddChannelConfig(ChannelConfig{ChannelID: "#custom-override", MaxMessagesPerHour: 10, Enabled: true})
	r.AddTeamChannelMapping("backend", string(notify.PRNew), "#backend-prs")
	rc := ctxFor(notify.PRNew, notify.UrgencyMedium, "backend", nil)

	assert.Equal(t, "#custom-override", r.RouteNotification(rc, "#custom-override"), "valid override wins")
	assert.Equal(t, "#backend-prs", r.RouteNotification(rc, "#not-configured"), "invalid override falls to team mapping")
	assert.Equal(t, "#backend-prs", r.RouteNotification(rc, ""), "team mapping beats rule")

	other := ctxFor(notify.PRNew, notify.UrgencyMedium, "frontend", nil)
	assert.Equal(t, "#development", r.RouteNotification(other, ""), "rule beats fallback")

	r.AddRoutingRule(RoutingRule{Type: notify.PRNew, DefaultChannel: "#development", Enabled: false})
	assert.Equal(t, DefaultFallbackChannel, r.RouteNotification(other, ""), "disabled rule falls back")
}

func TestTeamMappingCategoryKey(t *testing.T) {
	r := newTestRouter(t)
	r.AddTeamChannelMapping("mobile", "jira_*", "#mobile-jira")
	r.AddTeamChannelMapping("mobile", string(notify.JiraBlocker), "#mobile-blockers")

	assert.Equal(t, "#mobile-jira", r.RouteNotification(ctxFor(notify.JiraComment, notify.UrgencyLow, "mobile", nil), ""))
	assert.Equal(t, "#mobile-blockers", r.RouteNotification(ctxFor(notify.JiraBlocker, notify.UrgencyLow, "mobile", nil), ""))
	assert.Equal(t, "#development", r.RouteNotification(ctxFor(notify.PRNew, notify.UrgencyLow, "mobile", nil), ""))
}

func TestContentFilters(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name string
		data map[string]any
		want string
	}{
		{name: "security label", data: map[string]any{"labels": []any{"Security", "backend"}}, want: "#security"},
		{name: "first filter wins", data: map[string]any{"labels": []string{"hotfix", "security"}}, want: "#security"},
		{name: "label objects", data: map[string]any{"labels": []any{map[string]any{"name": "HOTFIX"}}}, want: "#dev-urgent"},
		{name: "no match", data: map[string]any{"labels": []string{"docs"}}, want: "#development"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := r.RouteNotification(ctxFor(notify.PRNew, notify.UrgencyMedium, "", tc.data), "")
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRuleTeamOverridesSitBetweenUrgencyAndFilters(t *testing.T) {
	r := newTestRouter(t)
	r.AddRoutingRule(RoutingRule{
		Type:             notify.PRNew,
		DefaultChannel:   "#development",
		UrgencyOverrides: map[notify.Urgency]string{notify.UrgencyCritical: "#critical-alerts"},
		TeamOverrides:    map[string]string{"mobile": "#code-review"},
		ContentFilters:   []ContentFilter{{Field: "label", Value: "security", Channel: "#security"}},
		Enabled:          true,
	})
	security := map[string]any{"labels": []string{"security"}}

	assert.Equal(t, "#critical-alerts", r.RouteNotification(ctxFor(notify.PRNew, notify.UrgencyCritical, "mobile", security), ""),
		"urgency override beats team override")
	assert.Equal(t, "#code-review", r.RouteNotification(ctxFor(notify.PRNew, notify.UrgencyMedium, "mobile", security), ""),
		"team override beats content filters")
	assert.Equal(t, "#security", r.RouteNotification(ctxFor(notify.PRNew, notify.UrgencyMedium, "web", security), ""))
	assert.Equal(t, "#development", r.RouteNotification(ctxFor(notify.PRNew, notify.UrgencyMedium, "", nil), ""))
}

func TestRepositoryFilterIsSubstringMatch(t *testing.T) {
	r := newTestRouter(t)
	rc := ctxFor(notify.AlertBuildFailure, notify.UrgencyHigh, "", map[string]any{"repository": "acme/Infra-Terraform"})
	assert.Equal(t, "#devops", r.RouteNotification(rc, ""))
}

func TestIneligibleRuleChannelFallsBack(t *testing.T) {
	r := newTestRouter(t)
	// #critical-alerts only accepts critical/high, so a low-urgency outage goes to the fallback.
	rc := ctxFor(notify.AlertOutage, notify.UrgencyLow, "", nil)
	assert.Equal(t, DefaultFallbackChannel, r.RouteNotification(rc, ""))
}

func TestIsValidChannel(t *testing.T) {
	r := newTestRouter(t)
	r.AddChannelConfig(ChannelConfig{
		ChannelID:        "#night-ops",
		AllowedUrgencies: urgencySet(notify.UrgencyCritical),
		AllowedTypes:     typeSet(notify.AlertOutage),
		TeamRestrictions: map[string]bool{"sre": true},
		ActiveHours:      &HourRange{Start: 22, End: 6},
		Enabled:          true,
	})
	at := func(hour int) time.Time { return time.Date(2024, 3, 12, hour, 0, 0, 0, time.UTC) }

	base := notify.RoutingContext{Type: notify.AlertOutage, Urgency: notify.UrgencyCritical, TeamID: "sre", Timestamp: at(23)}

	tests := []struct {
		name   string
		mutate func(rc *notify.RoutingContext)
		want   bool
	}{
		{name: "all satisfied", mutate: func(*notify.RoutingContext) {}, want: true},
		{name: "after midnight", mutate: func(rc *notify.RoutingContext) { rc.Timestamp = at(3) }, want: true},
		{name: "daytime", mutate: func(rc *notify.RoutingContext) { rc.Timestamp = at(12) }, want: false},
		{name: "end hour excluded", mutate: func(rc *notify.RoutingContext) { rc.Timestamp = at(6) }, want: false},
		{name: "urgency", mutate: func(rc *notify.RoutingContext) { rc.Urgency = notify.UrgencyHigh }, want: false},
		{name: "type", mutate: func(rc *notify.RoutingContext) { rc.Type = notify.AlertSecurity }, want: false},
		{name: "team", mutate: func(rc *notify.RoutingContext) { rc.TeamID = "web" }, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rc := base
			tc.mutate(&rc)
			assert.Equal(t, tc.want, r.IsValidChannel("#night-ops", rc))
		})
	}

	assert.False(t, r.IsValidChannel("#unknown", base))
	r.AddChannelConfig(ChannelConfig{ChannelID: "#off", Enabled: false})
	assert.False(t, r.IsValidChannel("#off", base))
}

func TestChannelHourlyLimit(t *testing.T) {
	r := newTestRouter(t)
	r.AddChannelConfig(ChannelConfig{ChannelID: "#tiny", MaxMessagesPerHour: 2, Enabled: true})
	rc := ctxFor(notify.PRNew, notify.UrgencyMedium, "", nil)

	assert.Equal(t, "#tiny", r.RouteNotification(rc, "#tiny"))
	assert.Equal(t, "#tiny", r.RouteNotification(rc, "#tiny"))
	assert.Equal(t, "#development", r.RouteNotification(rc, "#tiny"), "third message exceeds the hourly cap")
}

func TestRoutingStatsAndCleanup(t *testing.T) {
	now := fixedNow
	opts := DefaultOptions()
	opts.Now = func() time.Time { return now }
	r := NewRouter(opts, zerolog.Nop())

	rc := ctxFor(notify.PRNew, notify.UrgencyMedium, "", nil)
	r.RouteNotification(rc, "")
	r.RouteNotification(rc, "")

	stats := r.GetRoutingStats()
	require.Contains(t, stats.Channels, "#development")
	assert.Equal(t, 2, stats.TotalRouted)
	assert.Equal(t, 2, stats.Channels["#development"].CurrentHour)
	assert.Equal(t, DefaultFallbackChannel, stats.FallbackChannel)

	now = now.Add(3 * time.Hour)
	assert.Equal(t, 1, r.CleanupOldStats(time.Hour))
	stats = r.GetRoutingStats()
	assert.Equal(t, 0, stats.Channels["#development"].CurrentHour)
	assert.Equal(t, 2, stats.Channels["#development"].Total)
}

func TestSetFallbackChannel(t *testing.T) {
	r := newTestRouter(t)
	r.SetFallbackChannel("#catch-all")
	assert.Equal(t, "#catch-all", r.RouteNotification(ctxFor(notify.WeeklyChangelog, notify.UrgencyLow, "", nil), ""))
}

func TestParseContentFilter(t *testing.T) {
	f, err := ParseContentFilter("Repository:acme/api", "#api")
	require.NoError(t, err)
	assert.Equal(t, ContentFilter{Field: "repository", Value: "acme/api", Channel: "#api"}, f)

	_, err = ParseContentFilter("milestone:v2", "#x")
	assert.Error(t, err)
	_, err = ParseContentFilter("label", "#x")
	assert.Error(t, err)
}
