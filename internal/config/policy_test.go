package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/integration-hub/internal/batching"
	"github.com/example/integration-hub/internal/dedup"
	"github.com/example/integration-hub/internal/notify"
	"github.com/example/integration-hub/internal/routing"
)

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)

	opts, err := p.RouterOptions()
	require.NoError(t, err)
	defaults := routing.DefaultOptions()
	assert.Equal(t, defaults.FallbackChannel, opts.FallbackChannel)
	assert.Equal(t, len(defaults.Rules), len(opts.Rules))
	assert.Equal(t, len(defaults.Channels), len(opts.Channels))

	bopts, err := p.BatcherOptions()
	require.NoError(t, err)
	assert.Equal(t, batching.DefaultSpamPreventionConfig().Strategies, bopts.Spam.Strategies)
	assert.Equal(t, batching.DefaultTimingConfig().Mode, bopts.Timing.Mode)
	assert.Equal(t, batching.DefaultMaxBatchSize, bopts.MaxBatchSize)

	rules, err := p.DedupRules()
	require.NoError(t, err)
	assert.Equal(t, dedup.DefaultRules(), rules)
}

func TestLoadPolicyFile(t *testing.T) {
	p, err := Load(filepath.Join("testdata", "policy.yaml"))
	require.NoError(t, err)

	opts, err := p.RouterOptions()
	require.NoError(t, err)
	assert.Equal(t, "#engineering", opts.FallbackChannel)

	pr := opts.Rules[notify.PRNew]
	assert.Equal(t, "#eng-prs", pr.DefaultChannel)
	assert.True(t, pr.Enabled)
	assert.Equal(t, "#critical-alerts", pr.UrgencyOverrides[notify.UrgencyCritical])
	assert.Equal(t, []routing.ContentFilter{{Field: "repository", Value: "payments", Channel: "#payments-dev"}}, pr.ContentFilters)
	assert.Equal(t, "#mobile-prs", pr.TeamOverrides["mobile"])
	assert.False(t, opts.Rules[notify.JiraSprintChange].Enabled)
	assert.Equal(t, "#project-alerts", opts.Rules[notify.JiraBlocker].DefaultChannel, "rules not in the file keep their defaults")

	payments := opts.Channels["#payments-dev"]
	assert.True(t, payments.Enabled)
	assert.Equal(t, 20, payments.MaxMessagesPerHour)
	assert.False(t, payments.AllowedUrgencies[notify.UrgencyLow])
	assert.True(t, payments.TeamRestrictions["payments"])
	require.NotNil(t, payments.ActiveHours)
	assert.Equal(t, routing.HourRange{Start: 8, End: 20}, *payments.ActiveHours)

	dev := opts.Channels["#development"]
	assert.Equal(t, 5, dev.MaxMessagesPerHour)
	assert.Equal(t, map[notify.Type]bool{notify.PRNew: true, notify.PRUpdated: true}, dev.AllowedTypes)

	assert.Equal(t, "#payments-dev", opts.TeamMappings["payments"]["pr_*"])

	rules, err := p.DedupRules()
	require.NoError(t, err)
	build := rules[notify.AlertBuildFailure]
	assert.Equal(t, dedup.StrategyCustomKey, build.Strategy)
	assert.Equal(t, 45*time.Minute, build.Timeframe)
	assert.True(t, build.Enabled)

	bopts, err := p.BatcherOptions()
	require.NoError(t, err)
	assert.Equal(t, 6, bopts.Spam.MaxMessagesPerMinute)
	assert.Equal(t, 100, bopts.Spam.MaxMessagesPerHour, "unset fields keep defaults")
	assert.Equal(t, 90*time.Second, bopts.Spam.BurstWindow)
	assert.True(t, bopts.Spam.Strategies[batching.StrategyQuietHours])
	assert.True(t, bopts.Spam.Strategies[batching.StrategyRateLimiting], "strategies merge with defaults")
	require.NotNil(t, bopts.Spam.QuietHoursLocation)
	assert.Equal(t, "Europe/Berlin", bopts.Spam.QuietHoursLocation.String())

	assert.Equal(t, batching.TimingFixedInterval, bopts.Timing.Mode)
	assert.Equal(t, time.Minute, bopts.Timing.BaseInterval)
	assert.Equal(t, 15*time.Minute, bopts.Timing.PriorityMaxIntervals[notify.PriorityLow])
	assert.Equal(t, 2*time.Minute, bopts.Timing.PriorityMaxIntervals[notify.PriorityHigh])
	assert.Equal(t, 5, bopts.MaxBatchSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)
}

func TestPolicyValidation(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		convert func(*Policy) error
	}{
		{
			name: "unknown rule type",
			doc:  "rules:\n  - type: pr_exploded\n    default_channel: '#x'\n",
			convert: func(p *Policy) error {
				_, err := p.RouterOptions()
				return err
			},
		},
		{
			name: "rule without default channel",
			doc:  "rules:\n  - type: pr_new\n",
			convert: func(p *Policy) error {
				_, err := p.RouterOptions()
				return err
			},
		},
		{
			name: "bad content filter",
			doc:  "rules:\n  - type: pr_new\n    default_channel: '#x'\n    content_filters:\n      - match: 'branch:main'\n        channel: '#y'\n",
			convert: func(p *Policy) error {
				_, err := p.RouterOptions()
				return err
			},
		},
		{
			name: "unknown urgency on channel",
			doc:  "channels:\n  - id: '#x'\n    allowed_urgencies: [urgent]\n",
			convert: func(p *Policy) error {
				_, err := p.RouterOptions()
				return err
			},
		},
		{
			name: "unknown dedup strategy",
			doc:  "deduplication:\n  - type: pr_new\n    strategy: fuzzy\n    timeframe: 1m\n",
			convert: func(p *Policy) error {
				_, err := p.DedupRules()
				return err
			},
		},
		{
			name: "custom key without fields",
			doc:  "deduplication:\n  - type: pr_new\n    strategy: custom_key\n    timeframe: 1m\n",
			convert: func(p *Policy) error {
				_, err := p.DedupRules()
				return err
			},
		},
		{
			name: "unknown spam strategy",
			doc:  "spam_prevention:\n  strategies:\n    captcha: true\n",
			convert: func(p *Policy) error {
				_, err := p.BatcherOptions()
				return err
			},
		},
		{
			name: "unknown timing mode",
			doc:  "timing:\n  mode: eventually\n",
			convert: func(p *Policy) error {
				_, err := p.BatcherOptions()
				return err
			},
		},
		{
			name: "quiet hours out of range",
			doc:  "spam_prevention:\n  quiet_hours_start: 25\n",
			convert: func(p *Policy) error {
				_, err := p.BatcherOptions()
				return err
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Parse([]byte(tc.doc))
			require.NoError(t, err)
			assert.Error(t, tc.convert(p))
		})
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("spam_prevention:\n  burst_window: soon\n"))
	assert.Error(t, err)
}

func TestChannelOverridesUnknownChannel(t *testing.T) {
	p, err := Parse([]byte("channel_overrides:\n  '#nowhere':\n    enabled: false\n"))
	require.NoError(t, err)
	_, err = p.RouterOptions()
	assert.True(t, errors.Is(err, ErrUnknownChannel))
}
