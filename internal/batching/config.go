package batching

import (
	"time"

	"github.com/example/integration-hub/internal/notify"
)

// Strategy names one spam-prevention check that can be switched on or off.
type Strategy string

const (
	StrategyRateLimiting         Strategy = "rate_limiting"
	StrategyBurstDetection       Strategy = "burst_detection"
	StrategyContentDeduplication Strategy = "content_deduplication"
	StrategyQuietHours           Strategy = "quiet_hours"
	StrategyAdaptiveTiming       Strategy = "adaptive_timing"
)

// SpamPreventionConfig is shared read-only by every channel. Replace it
// wholesale with SmartMessageBatcher.UpdateSpamConfig.
type SpamPreventionConfig struct {
	MaxMessagesPerMinute int
	MaxMessagesPerHour   int
	// PriorityRateLimits caps messages per hour for a priority.
	PriorityRateLimits map[notify.Priority]int

	BurstThreshold     int
	BurstWindow        time.Duration
	CooldownAfterBurst time.Duration

	DuplicateContentWindow time.Duration

	// QuietHoursStart/End are hours of day; Start > End wraps midnight.
	QuietHoursStart int
	QuietHoursEnd   int
	// QuietHoursLocation defaults to the message timestamp's location.
	QuietHoursLocation *time.Location

	Strategies map[Strategy]bool
}

// DefaultSpamPreventionConfig enables every check except quiet hours, which
// is opt-in.
func DefaultSpamPreventionConfig() SpamPreventionConfig {
	return SpamPreventionConfig{
		MaxMessagesPerMinute: 10,
		MaxMessagesPerHour:   100,
		PriorityRateLimits: map[notify.Priority]int{
			notify.PriorityCritical: 50,
			notify.PriorityHigh:     30,
			notify.PriorityMedium:   20,
			notify.PriorityLow:      10,
		},
		BurstThreshold:         5,
		BurstWindow:            60 * time.Second,
		CooldownAfterBurst:     5 * time.Minute,
		DuplicateContentWindow: 30 * time.Minute,
		QuietHoursStart:        22,
		QuietHoursEnd:          8,
		Strategies: map[Strategy]bool{
			StrategyRateLimiting:         true,
			StrategyBurstDetection:       true,
			StrategyContentDeduplication: true,
			StrategyAdaptiveTiming:       true,
		},
	}
}

func (c SpamPreventionConfig) enabled(s Strategy) bool {
	return c.Strategies[s]
}

// inQuietHours reports whether t falls inside the configured quiet range.
func (c SpamPreventionConfig) inQuietHours(t time.Time) bool {
	if c.QuietHoursStart == c.QuietHoursEnd {
		return false
	}
	if c.QuietHoursLocation != nil {
		t = t.In(c.QuietHoursLocation)
	}
	hour := t.Hour()
	if c.QuietHoursStart < c.QuietHoursEnd {
		return hour >= c.QuietHoursStart && hour < c.QuietHoursEnd
	}
	return hour >= c.QuietHoursStart || hour < c.QuietHoursEnd
}

// TimingMode selects how a message's delay is computed.
type TimingMode string

const (
	TimingImmediate     TimingMode = "immediate"
	TimingFixedInterval TimingMode = "fixed_interval"
	TimingAdaptive      TimingMode = "adaptive"
	TimingSmartBurst    TimingMode = "smart_burst"
)

type TimingConfig struct {
	Mode           TimingMode
	BaseInterval   time.Duration
	MinInterval    time.Duration
	MaxInterval    time.Duration
	AdaptiveFactor float64
	// PriorityOverrides pins the delay for a priority; zero means immediate.
	PriorityOverrides map[notify.Priority]time.Duration
	// PriorityMaxIntervals caps the delay per priority; MaxInterval otherwise.
	PriorityMaxIntervals map[notify.Priority]time.Duration
}

func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		Mode:           TimingAdaptive,
		BaseInterval:   2 * time.Minute,
		MinInterval:    30 * time.Second,
		MaxInterval:    10 * time.Minute,
		AdaptiveFactor: 0.5,
		PriorityOverrides: map[notify.Priority]time.Duration{
			notify.PriorityCritical: 0,
		},
		PriorityMaxIntervals: map[notify.Priority]time.Duration{
			notify.PriorityHigh:   2 * time.Minute,
			notify.PriorityMedium: 5 * time.Minute,
			notify.PriorityLow:    10 * time.Minute,
		},
	}
}

func (c TimingConfig) maxFor(p notify.Priority) time.Duration {
	if m, ok := c.PriorityMaxIntervals[p]; ok {
		return m
	}
	return c.MaxInterval
}
