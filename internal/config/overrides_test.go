package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/integration-hub/internal/notify"
	"github.com/example/integration-hub/internal/routing"
)

func baseChannel() routing.ChannelConfig {
	return routing.ChannelConfig{
		ChannelID:          "#dev-urgent",
		MaxMessagesPerHour: 30,
		AllowedUrgencies:   map[notify.Urgency]bool{notify.UrgencyCritical: true, notify.UrgencyHigh: true},
		ActiveHours:        &routing.HourRange{Start: 9, End: 17},
		Enabled:            true,
	}
}

func TestApplyChannelOverrides(t *testing.T) {
	base := baseChannel()
	out, err := ApplyChannelOverrides(base, map[string]any{
		"max_messages_per_hour": 60,
		"enabled":               false,
		"allowed_urgencies":     []any{"critical"},
		"team_restrictions":     []string{"platform"},
		"active_hours":          map[string]any{"start": 22, "end": 6},
	})
	require.NoError(t, err)

	assert.Equal(t, 60, out.MaxMessagesPerHour)
	assert.False(t, out.Enabled)
	assert.Equal(t, map[notify.Urgency]bool{notify.UrgencyCritical: true}, out.AllowedUrgencies)
	assert.Equal(t, map[string]bool{"platform": true}, out.TeamRestrictions)
	assert.Equal(t, routing.HourRange{Start: 22, End: 6}, *out.ActiveHours)

	assert.Equal(t, baseChannel(), base, "base is left untouched")
}

func TestApplyChannelOverridesCopiesMaps(t *testing.T) {
	base := baseChannel()
	out, err := ApplyChannelOverrides(base, map[string]any{"enabled": false})
	require.NoError(t, err)

	out.AllowedUrgencies[notify.UrgencyLow] = true
	out.ActiveHours.End = 23
	assert.False(t, base.AllowedUrgencies[notify.UrgencyLow])
	assert.Equal(t, 17, base.ActiveHours.End)
}

func TestApplyChannelOverridesClearsActiveHours(t *testing.T) {
	out, err := ApplyChannelOverrides(baseChannel(), map[string]any{"active_hours": nil})
	require.NoError(t, err)
	assert.Nil(t, out.ActiveHours)
}

func TestApplyChannelOverridesErrors(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
	}{
		{"unknown field", map[string]any{"color": "red"}},
		{"negative cap", map[string]any{"max_messages_per_hour": -1}},
		{"cap not a number", map[string]any{"max_messages_per_hour": "lots"}},
		{"enabled not a bool", map[string]any{"enabled": "yes"}},
		{"urgency list of numbers", map[string]any{"allowed_urgencies": []any{1}}},
		{"unknown urgency", map[string]any{"allowed_urgencies": []any{"urgent"}}},
		{"unknown type", map[string]any{"allowed_types": []string{"pr_exploded"}}},
		{"hours out of range", map[string]any{"active_hours": map[string]any{"start": 9, "end": 30}}},
		{"hours not a mapping", map[string]any{"active_hours": "9-17"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			base := baseChannel()
			out, err := ApplyChannelOverrides(base, tc.overrides)
			assert.Error(t, err)
			assert.Equal(t, baseChannel(), out)
		})
	}
}
