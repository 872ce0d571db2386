// Package config loads the routing policy file and converts it into the
// router, deduplicator and batcher settings. Anything the file leaves out
// keeps its built-in default.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/integration-hub/internal/batching"
	"github.com/example/integration-hub/internal/dedup"
	"github.com/example/integration-hub/internal/notify"
	"github.com/example/integration-hub/internal/routing"
)

// ErrUnknownChannel is returned when an override names a channel that has no
// configuration.
var ErrUnknownChannel = errors.New("unknown channel")

// Duration accepts Go duration strings ("90s", "30m") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", value.Line, err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

type FilterSpec struct {
	Match   string `yaml:"match"`
	Channel string `yaml:"channel"`
}

type RuleSpec struct {
	Type             string            `yaml:"type"`
	DefaultChannel   string            `yaml:"default_channel"`
	UrgencyOverrides map[string]string `yaml:"urgency_overrides"`
	ContentFilters   []FilterSpec      `yaml:"content_filters"`
	TeamOverrides    map[string]string `yaml:"team_overrides"`
	Enabled          *bool             `yaml:"enabled"`
}

type ChannelSpec struct {
	ID                 string             `yaml:"id"`
	MaxMessagesPerHour int                `yaml:"max_messages_per_hour"`
	AllowedUrgencies   []string           `yaml:"allowed_urgencies"`
	AllowedTypes       []string           `yaml:"allowed_types"`
	TeamRestrictions   []string           `yaml:"team_restrictions"`
	ActiveHours        *routing.HourRange `yaml:"active_hours"`
	Enabled            *bool              `yaml:"enabled"`
}

type DedupRuleSpec struct {
	Type            string   `yaml:"type"`
	Strategy        string   `yaml:"strategy"`
	Timeframe       Duration `yaml:"timeframe"`
	CustomKeyFields []string `yaml:"custom_key_fields"`
	IgnoreFields    []string `yaml:"ignore_fields"`
	Enabled         *bool    `yaml:"enabled"`
}

type SpamSpec struct {
	MaxMessagesPerMinute   int             `yaml:"max_messages_per_minute"`
	MaxMessagesPerHour     int             `yaml:"max_messages_per_hour"`
	PriorityRateLimits     map[string]int  `yaml:"priority_rate_limits"`
	BurstThreshold         int             `yaml:"burst_threshold"`
	BurstWindow            Duration        `yaml:"burst_window"`
	CooldownAfterBurst     Duration        `yaml:"cooldown_after_burst"`
	DuplicateContentWindow Duration        `yaml:"duplicate_content_window"`
	QuietHoursStart        int             `yaml:"quiet_hours_start"`
	QuietHoursEnd          int             `yaml:"quiet_hours_end"`
	QuietHoursTimezone     string          `yaml:"quiet_hours_timezone"`
	Strategies             map[string]bool `yaml:"strategies"`
}

type TimingSpec struct {
	Mode                 string              `yaml:"mode"`
	BaseInterval         Duration            `yaml:"base_interval"`
	MinInterval          Duration            `yaml:"min_interval"`
	MaxInterval          Duration            `yaml:"max_interval"`
	AdaptiveFactor       float64             `yaml:"adaptive_factor"`
	PriorityOverrides    map[string]Duration `yaml:"priority_overrides"`
	PriorityMaxIntervals map[string]Duration `yaml:"priority_max_intervals"`
	MaxBatchSize         int                 `yaml:"max_batch_size"`
	Disabled             bool                `yaml:"disabled"`
}

// Policy is the decoded policy file. Rules, channels and dedup rules overlay
// the defaults by type or channel id.
type Policy struct {
	FallbackChannel  string                       `yaml:"fallback_channel"`
	Rules            []RuleSpec                   `yaml:"rules"`
	Channels         []ChannelSpec                `yaml:"channels"`
	TeamMappings     map[string]map[string]string `yaml:"team_mappings"`
	Deduplication    []DedupRuleSpec              `yaml:"deduplication"`
	SpamPrevention   SpamSpec                     `yaml:"spam_prevention"`
	Timing           TimingSpec                   `yaml:"timing"`
	ChannelOverrides map[string]map[string]any    `yaml:"channel_overrides"`
}

// Default returns the policy used when no file is configured.
func Default() *Policy {
	spam := batching.DefaultSpamPreventionConfig()
	timing := batching.DefaultTimingConfig()

	p := &Policy{
		FallbackChannel: routing.DefaultFallbackChannel,
		SpamPrevention: SpamSpec{
			MaxMessagesPerMinute:   spam.MaxMessagesPerMinute,
			MaxMessagesPerHour:     spam.MaxMessagesPerHour,
			PriorityRateLimits:     make(map[string]int),
			BurstThreshold:         spam.BurstThreshold,
			BurstWindow:            Duration(spam.BurstWindow),
			CooldownAfterBurst:     Duration(spam.CooldownAfterBurst),
			DuplicateContentWindow: Duration(spam.DuplicateContentWindow),
			QuietHoursStart:        spam.QuietHoursStart,
			QuietHoursEnd:          spam.QuietHoursEnd,
			Strategies:             make(map[string]bool),
		},
		Timing: TimingSpec{
			Mode:                 string(timing.Mode),
			BaseInterval:         Duration(timing.BaseInterval),
			MinInterval:          Duration(timing.MinInterval),
			MaxInterval:          Duration(timing.MaxInterval),
			AdaptiveFactor:       timing.AdaptiveFactor,
			PriorityOverrides:    make(map[string]Duration),
			PriorityMaxIntervals: make(map[string]Duration),
			MaxBatchSize:         batching.DefaultMaxBatchSize,
		},
	}
	for pr, n := range spam.PriorityRateLimits {
		p.SpamPrevention.PriorityRateLimits[string(pr)] = n
	}
	for s, on := range spam.Strategies {
		p.SpamPrevention.Strategies[string(s)] = on
	}
	for pr, d := range timing.PriorityOverrides {
		p.Timing.PriorityOverrides[string(pr)] = Duration(d)
	}
	for pr, d := range timing.PriorityMaxIntervals {
		p.Timing.PriorityMaxIntervals[string(pr)] = Duration(d)
	}
	return p
}

// Load reads the policy at path. An empty path yields Default().
func Load(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a policy document on top of Default(). Maps such as
// strategies merge key by key.
func Parse(data []byte) (*Policy, error) {
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return p, nil
}

func enabled(b *bool) bool { return b == nil || *b }

func parseType(s string) (notify.Type, error) {
	t := notify.Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown notification type %q", s)
	}
	return t, nil
}

func parseUrgency(s string) (notify.Urgency, error) {
	u := notify.Urgency(s)
	if !u.Valid() {
		return "", fmt.Errorf("unknown urgency %q", s)
	}
	return u, nil
}

func parsePriority(s string) (notify.Priority, error) {
	u, err := parseUrgency(s)
	if err != nil {
		return "", err
	}
	return notify.PriorityFor(u), nil
}

// RouterOptions returns the default router tables with the policy applied.
func (p *Policy) RouterOptions() (routing.Options, error) {
	opts := routing.DefaultOptions()
	if p.FallbackChannel != "" {
		opts.FallbackChannel = p.FallbackChannel
	}

	for _, spec := range p.Rules {
		rule, err := spec.toRule()
		if err != nil {
			return routing.Options{}, err
		}
		opts.Rules[rule.Type] = rule
	}

	for _, spec := range p.Channels {
		ch, err := spec.toChannel()
		if err != nil {
			return routing.Options{}, err
		}
		opts.Channels[ch.ChannelID] = ch
	}

	if len(p.TeamMappings) > 0 {
		opts.TeamMappings = make(map[string]map[string]string, len(p.TeamMappings))
		for team, mapping := range p.TeamMappings {
			opts.TeamMappings[team] = make(map[string]string, len(mapping))
			for key, channel := range mapping {
				opts.TeamMappings[team][key] = channel
			}
		}
	}

	for id, overrides := range p.ChannelOverrides {
		base, ok := opts.Channels[id]
		if !ok {
			return routing.Options{}, fmt.Errorf("channel_overrides %s: %w", id, ErrUnknownChannel)
		}
		updated, err := ApplyChannelOverrides(base, overrides)
		if err != nil {
			return routing.Options{}, fmt.Errorf("channel_overrides %s: %w", id, err)
		}
		opts.Channels[id] = updated
	}
	return opts, nil
}

func (s RuleSpec) toRule() (routing.RoutingRule, error) {
	t, err := parseType(s.Type)
	if err != nil {
		return routing.RoutingRule{}, fmt.Errorf("rule: %w", err)
	}
	if s.DefaultChannel == "" {
		return routing.RoutingRule{}, fmt.Errorf("rule %s: default_channel is required", t)
	}
	rule := routing.RoutingRule{
		Type:           t,
		DefaultChannel: s.DefaultChannel,
		TeamOverrides:  s.TeamOverrides,
		Enabled:        enabled(s.Enabled),
	}
	if len(s.UrgencyOverrides) > 0 {
		rule.UrgencyOverrides = make(map[notify.Urgency]string, len(s.UrgencyOverrides))
		for k, ch := range s.UrgencyOverrides {
			u, err := parseUrgency(k)
			if err != nil {
				return routing.RoutingRule{}, fmt.Errorf("rule %s: %w", t, err)
			}
			rule.UrgencyOverrides[u] = ch
		}
	}
	for _, f := range s.ContentFilters {
		cf, err := routing.ParseContentFilter(f.Match, f.Channel)
		if err != nil {
			return routing.RoutingRule{}, fmt.Errorf("rule %s: %w", t, err)
		}
		rule.ContentFilters = append(rule.ContentFilters, cf)
	}
	return rule, nil
}

func (s ChannelSpec) toChannel() (routing.ChannelConfig, error) {
	if s.ID == "" {
		return routing.ChannelConfig{}, errors.New("channel: id is required")
	}
	ch := routing.ChannelConfig{
		ChannelID:          s.ID,
		MaxMessagesPerHour: s.MaxMessagesPerHour,
		ActiveHours:        s.ActiveHours,
		Enabled:            enabled(s.Enabled),
	}
	var err error
	if ch.AllowedUrgencies, err = urgencies(s.AllowedUrgencies); err != nil {
		return routing.ChannelConfig{}, fmt.Errorf("channel %s: %w", s.ID, err)
	}
	if ch.AllowedTypes, err = types(s.AllowedTypes); err != nil {
		return routing.ChannelConfig{}, fmt.Errorf("channel %s: %w", s.ID, err)
	}
	ch.TeamRestrictions = teams(s.TeamRestrictions)
	return ch, nil
}

func urgencies(list []string) (map[notify.Urgency]bool, error) {
	if len(list) == 0 {
		return nil, nil
	}
	out := make(map[notify.Urgency]bool, len(list))
	for _, s := range list {
		u, err := parseUrgency(s)
		if err != nil {
			return nil, err
		}
		out[u] = true
	}
	return out, nil
}

func types(list []string) (map[notify.Type]bool, error) {
	if len(list) == 0 {
		return nil, nil
	}
	out := make(map[notify.Type]bool, len(list))
	for _, s := range list {
		t, err := parseType(s)
		if err != nil {
			return nil, err
		}
		out[t] = true
	}
	return out, nil
}

func teams(list []string) map[string]bool {
	if len(list) == 0 {
		return nil
	}
	out := make(map[string]bool, len(list))
	for _, s := range list {
		out[s] = true
	}
	return out
}

// DedupRules returns the default dedup rules with the policy applied.
func (p *Policy) DedupRules() (map[notify.Type]dedup.Rule, error) {
	rules := dedup.DefaultRules()
	for _, spec := range p.Deduplication {
		t, err := parseType(spec.Type)
		if err != nil {
			return nil, fmt.Errorf("deduplication: %w", err)
		}
		rule := dedup.Rule{
			Type:            t,
			Strategy:        dedup.Strategy(spec.Strategy),
			Timeframe:       time.Duration(spec.Timeframe),
			CustomKeyFields: spec.CustomKeyFields,
			IgnoreFields:    spec.IgnoreFields,
			Enabled:         enabled(spec.Enabled),
		}
		switch rule.Strategy {
		case dedup.StrategyContentHash, dedup.StrategyTypeAndID, dedup.StrategyAuthorAndContent:
		case dedup.StrategyCustomKey:
			if len(rule.CustomKeyFields) == 0 {
				return nil, fmt.Errorf("deduplication %s: custom_key needs custom_key_fields", t)
			}
		default:
			return nil, fmt.Errorf("deduplication %s: unknown strategy %q", t, spec.Strategy)
		}
		if rule.Timeframe <= 0 {
			return nil, fmt.Errorf("deduplication %s: timeframe must be positive", t)
		}
		rules[t] = rule
	}
	return rules, nil
}

// BatcherOptions converts the spam and timing sections.
func (p *Policy) BatcherOptions() (batching.Options, error) {
	s := p.SpamPrevention
	spam := batching.SpamPreventionConfig{
		MaxMessagesPerMinute:   s.MaxMessagesPerMinute,
		MaxMessagesPerHour:     s.MaxMessagesPerHour,
		PriorityRateLimits:     make(map[notify.Priority]int, len(s.PriorityRateLimits)),
		BurstThreshold:         s.BurstThreshold,
		BurstWindow:            time.Duration(s.BurstWindow),
		CooldownAfterBurst:     time.Duration(s.CooldownAfterBurst),
		DuplicateContentWindow: time.Duration(s.DuplicateContentWindow),
		QuietHoursStart:        s.QuietHoursStart,
		QuietHoursEnd:          s.QuietHoursEnd,
		Strategies:             make(map[batching.Strategy]bool, len(s.Strategies)),
	}
	for k, n := range s.PriorityRateLimits {
		pr, err := parsePriority(k)
		if err != nil {
			return batching.Options{}, fmt.Errorf("spam_prevention: %w", err)
		}
		spam.PriorityRateLimits[pr] = n
	}
	for k, on := range s.Strategies {
		switch st := batching.Strategy(k); st {
		case batching.StrategyRateLimiting, batching.StrategyBurstDetection, batching.StrategyContentDeduplication,
			batching.StrategyQuietHours, batching.StrategyAdaptiveTiming:
			spam.Strategies[st] = on
		default:
			return batching.Options{}, fmt.Errorf("spam_prevention: unknown strategy %q", k)
		}
	}
	if s.QuietHoursStart < 0 || s.QuietHoursStart > 23 || s.QuietHoursEnd < 0 || s.QuietHoursEnd > 23 {
		return batching.Options{}, fmt.Errorf("spam_prevention: quiet hours %d-%d out of range", s.QuietHoursStart, s.QuietHoursEnd)
	}
	if s.QuietHoursTimezone != "" {
		loc, err := time.LoadLocation(s.QuietHoursTimezone)
		if err != nil {
			return batching.Options{}, fmt.Errorf("spam_prevention: %w", err)
		}
		spam.QuietHoursLocation = loc
	}

	t := p.Timing
	timing := batching.TimingConfig{
		Mode:                 batching.TimingMode(t.Mode),
		BaseInterval:         time.Duration(t.BaseInterval),
		MinInterval:          time.Duration(t.MinInterval),
		MaxInterval:          time.Duration(t.MaxInterval),
		AdaptiveFactor:       t.AdaptiveFactor,
		PriorityOverrides:    make(map[notify.Priority]time.Duration, len(t.PriorityOverrides)),
		PriorityMaxIntervals: make(map[notify.Priority]time.Duration, len(t.PriorityMaxIntervals)),
	}
	switch timing.Mode {
	case batching.TimingImmediate, batching.TimingFixedInterval, batching.TimingAdaptive, batching.TimingSmartBurst:
	default:
		return batching.Options{}, fmt.Errorf("timing: unknown mode %q", t.Mode)
	}
	for k, d := range t.PriorityOverrides {
		pr, err := parsePriority(k)
		if err != nil {
			return batching.Options{}, fmt.Errorf("timing: %w", err)
		}
		timing.PriorityOverrides[pr] = time.Duration(d)
	}
	for k, d := range t.PriorityMaxIntervals {
		pr, err := parsePriority(k)
		if err != nil {
			return batching.Options{}, fmt.Errorf("timing: %w", err)
		}
		timing.PriorityMaxIntervals[pr] = time.Duration(d)
	}

	return batching.Options{
		Spam:         spam,
		Timing:       timing,
		MaxBatchSize: t.MaxBatchSize,
		Disabled:     t.Disabled,
	}, nil
}
