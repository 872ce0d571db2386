// Package routing selects the destination chat channel for a notification.
package routing

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/example/integration-hub/internal/notify"
)

var routeCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "routing_decisions_total",
	Help: "Routing decisions by destination channel and deciding tier",
}, []string{"channel", "tier"})

// Tiers, in precedence order.
const (
	tierOverride = "override"
	tierTeam     = "team_mapping"
	tierRule     = "rule"
	tierFallback = "fallback"
)

// Options configures a Router.
type Options struct {
	Rules           map[notify.Type]RoutingRule
	Channels        map[string]ChannelConfig
	TeamMappings    map[string]map[string]string
	FallbackChannel string
	Now             func() time.Time
}

// DefaultOptions returns the built-in rule and channel tables.
func DefaultOptions() Options {
	return Options{
		Rules:           DefaultRules(),
		Channels:        DefaultChannels(),
		FallbackChannel: DefaultFallbackChannel,
	}
}

// Router picks exactly one channel per notification. It is safe for concurrent use.
type Router struct {
	mu           sync.Mutex
	rules        map[notify.Type]RoutingRule
	channels     map[string]ChannelConfig
	teamMappings map[string]map[string]string
	fallback     string

	// usage is channel -> hour bucket (unix/3600) -> decisions.
	usage       map[string]map[int64]int
	totals      map[string]int
	totalRouted int

	now    func() time.Time
	logger zerolog.Logger
}

// NewRouter builds a Router from opts. Nil tables start empty.
func NewRouter(opts Options, logger zerolog.Logger) *Router {
	r := &Router{
		rules:        make(map[notify.Type]RoutingRule),
		channels:     make(map[string]ChannelConfig),
		teamMappings: make(map[string]map[string]string),
		fallback:     opts.FallbackChannel,
		usage:        make(map[string]map[int64]int),
		totals:       make(map[string]int),
		now:          opts.Now,
		logger:       logger.With().Str("component", "router").Logger(),
	}
	if r.fallback == "" {
		r.fallback = DefaultFallbackChannel
	}
	if r.now == nil {
		r.now = time.Now
	}
	for t, rule := range opts.Rules {
		rule.Type = t
		r.rules[t] = rule
	}
	for id, ch := range opts.Channels {
		ch.ChannelID = id
		r.channels[id] = ch
	}
	for team, mapping := range opts.TeamMappings {
		for key, channel := range mapping {
			r.addTeamMappingLocked(team, key, channel)
		}
	}
	return r
}

// RouteNotification returns the destination channel for rc. An override is
// honored only when the channel accepts rc.
func (r *Router) RouteNotification(rc notify.RoutingContext, override string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	channel, tier := r.resolveLocked(rc, override)
	r.recordLocked(channel)
	routeCounter.WithLabelValues(channel, tier).Inc()
	r.logger.Debug().
		Str("type", string(rc.Type)).
		Str("urgency", string(rc.Urgency)).
		Str("team", rc.TeamID).
		Str("channel", channel).
		Str("tier", tier).
		Msg("routed notification")
	return channel
}

func (r *Router) resolveLocked(rc notify.RoutingContext, override string) (string, string) {
	if override != "" {
		if r.isValidChannelLocked(override, rc) {
			return override, tierOverride
		}
		r.logger.Debug().Str("override", override).Msg("channel override rejected")
	}

	if channel, ok := r.teamChannelLocked(rc.TeamID, rc.Type); ok {
		return channel, tierTeam
	}

	if rule, ok := r.rules[rc.Type]; ok && rule.Enabled {
		candidate := ruleCandidate(rule, rc)
		if candidate != "" && r.isValidChannelLocked(candidate, rc) {
			return candidate, tierRule
		}
	}

	return r.fallback, tierFallback
}

// ruleCandidate checks urgency overrides, then team overrides, then content
// filters in order, then the rule's default.
func ruleCandidate(rule RoutingRule, rc notify.RoutingContext) string {
	if ch, ok := rule.UrgencyOverrides[rc.Urgency]; ok {
		return ch
	}
	if ch, ok := rule.TeamOverrides[rc.TeamID]; ok && rc.TeamID != "" {
		return ch
	}
	for _, f := range rule.ContentFilters {
		if filterMatches(f, rc) {
			return f.Channel
		}
	}
	return rule.DefaultChannel
}

func filterMatches(f ContentFilter, rc notify.RoutingContext) bool {
	want := strings.ToLower(f.Value)
	switch f.Field {
	case "repository":
		return strings.Contains(strings.ToLower(stringField(rc.Data, "repository")), want)
	case "priority":
		return strings.ToLower(stringField(rc.Data, "priority")) == want
	case "label":
		return anyContains(stringList(rc.Data["labels"]), want)
	case "component":
		return anyEquals(stringList(rc.Data["components"]), want)
	case "author":
		author := stringField(rc.Data, "author")
		if author == "" {
			author = rc.Author
		}
		return strings.ToLower(author) == want
	default:
		return false
	}
}

func anyContains(values []string, want string) bool {
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), want) {
			return true
		}
	}
	return false
}

func anyEquals(values []string, want string) bool {
	for _, v := range values {
		if strings.ToLower(v) == want {
			return true
		}
	}
	return false
}

func (r *Router) teamChannelLocked(team string, typ notify.Type) (string, bool) {
	if team == "" {
		return "", false
	}
	mapping, ok := r.teamMappings[team]
	if !ok {
		return "", false
	}
	if ch, ok := mapping[string(typ)]; ok {
		return ch, true
	}
	if key := typ.Category().MappingKey(); key != "" {
		if ch, ok := mapping[key]; ok {
			return ch, true
		}
	}
	return "", false
}

// IsValidChannel reports whether channel currently accepts rc.
func (r *Router) IsValidChannel(channel string, rc notify.RoutingContext) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isValidChannelLocked(channel, rc)
}

func (r *Router) isValidChannelLocked(channel string, rc notify.RoutingContext) bool {
	cfg, ok := r.channels[channel]
	if !ok || !cfg.Enabled {
		return false
	}
	if len(cfg.AllowedUrgencies) > 0 && !cfg.AllowedUrgencies[rc.Urgency] {
		return false
	}
	if len(cfg.AllowedTypes) > 0 && !cfg.AllowedTypes[rc.Type] {
		return false
	}
	if len(cfg.TeamRestrictions) > 0 && !cfg.TeamRestrictions[rc.TeamID] {
		return false
	}
	if cfg.ActiveHours != nil {
		ts := rc.Timestamp
		if ts.IsZero() {
			ts = r.now()
		}
		if !cfg.ActiveHours.Contains(ts.Hour()) {
			return false
		}
	}
	if cfg.MaxMessagesPerHour > 0 && r.usage[channel][hourBucket(r.now())] >= cfg.MaxMessagesPerHour {
		return false
	}
	return true
}

func (r *Router) recordLocked(channel string) {
	buckets, ok := r.usage[channel]
	if !ok {
		buckets = make(map[int64]int)
		r.usage[channel] = buckets
	}
	buckets[hourBucket(r.now())]++
	r.totals[channel]++
	r.totalRouted++
}

func hourBucket(t time.Time) int64 {
	return t.Unix() / 3600
}

// AnalyzeUrgency infers urgency for content routed through this router.
func (r *Router) AnalyzeUrgency(data map[string]any, typ notify.Type) notify.Urgency {
	return AnalyzeUrgency(data, typ)
}

// AddRoutingRule installs or replaces the rule for rule.Type.
func (r *Router) AddRoutingRule(rule RoutingRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.Type] = rule
}

// AddChannelConfig installs or replaces a channel's eligibility settings.
func (r *Router) AddChannelConfig(cfg ChannelConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[cfg.ChannelID] = cfg
}

// AddTeamChannelMapping maps a team's notification type (or "pr_*" style
// category key) to a channel.
func (r *Router) AddTeamChannelMapping(team, key, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addTeamMappingLocked(team, key, channel)
}

func (r *Router) addTeamMappingLocked(team, key, channel string) {
	mapping, ok := r.teamMappings[team]
	if !ok {
		mapping = make(map[string]string)
		r.teamMappings[team] = mapping
	}
	mapping[key] = channel
}

// SetFallbackChannel replaces the channel used when nothing else applies.
func (r *Router) SetFallbackChannel(channel string) {
	if channel == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = channel
}

// ChannelStats is the per-channel part of Stats.
type ChannelStats struct {
	CurrentHour int `json:"current_hour"`
	Total       int `json:"total"`
	Limit       int `json:"max_per_hour"`
}

// Stats summarizes routing activity.
type Stats struct {
	TotalRouted     int                     `json:"total_routed"`
	Channels        map[string]ChannelStats `json:"channels"`
	Rules           int                     `json:"rules"`
	ChannelConfigs  int                     `json:"channel_configs"`
	TeamMappings    int                     `json:"team_mappings"`
	FallbackChannel string                  `json:"fallback_channel"`
}

// GetRoutingStats reports usage counters and configuration sizes.
func (r *Router) GetRoutingStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := hourBucket(r.now())
	stats := Stats{
		TotalRouted:     r.totalRouted,
		Channels:        make(map[string]ChannelStats, len(r.totals)),
		Rules:           len(r.rules),
		ChannelConfigs:  len(r.channels),
		FallbackChannel: r.fallback,
	}
	for channel, total := range r.totals {
		stats.Channels[channel] = ChannelStats{
			CurrentHour: r.usage[channel][current],
			Total:       total,
			Limit:       r.channels[channel].MaxMessagesPerHour,
		}
	}
	for _, mapping := range r.teamMappings {
		stats.TeamMappings += len(mapping)
	}
	return stats
}

// CleanupOldStats drops hour buckets older than retention and returns how many were removed.
func (r *Router) CleanupOldStats(retention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := hourBucket(r.now().Add(-retention))
	removed := 0
	for channel, buckets := range r.usage {
		for bucket := range buckets {
			if bucket < cutoff {
				delete(buckets, bucket)
				removed++
			}
		}
		if len(buckets) == 0 {
			delete(r.usage, channel)
		}
	}
	return removed
}

// Channels lists configured channel ids in sorted order.
func (r *Router) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.channels))
	for id := range r.channels {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
