// Package batching decides whether, and after how long, a notification may be
// posted to a channel. It applies spam prevention (cooldowns, rate limits,
// content repeats, quiet hours), tracks per-channel activity and computes a
// delivery delay before handing the message to the group accumulator.
package batching

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	rejectCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batcher_rejections_total",
		Help: "Messages suppressed by spam prevention, by reason",
	}, []string{"reason"})
	delayHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batcher_delay_seconds",
		Help:    "Delivery delay assigned to accepted messages",
		Buckets: []float64{0, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"mode"})
)

// Status is the outcome class of AddMessage.
type Status string

const (
	StatusSendNow    Status = "send_now"
	StatusBatched    Status = "batched"
	StatusSuppressed Status = "suppressed"
	// StatusDisabled means the batcher is off and the caller delivers directly.
	StatusDisabled Status = "disabled"
)

// Suppression reasons.
const (
	ReasonCooldown   = "cooldown_active"
	ReasonRateLimit  = "rate_limited"
	ReasonDuplicate  = "duplicate_content"
	ReasonQuietHours = "quiet_hours"
)

// Metadata keys written onto accepted messages.
const (
	MetaOptimalDelay = "optimal_delay_seconds"
	MetaSpamApplied  = "spam_prevention_applied"
	// MetaDeliverAfter holds an RFC 3339 time before which the message
	// should not be posted.
	MetaDeliverAfter = "deliver_after"
)

// Outcome is the result of AddMessage. Batch is set when a group is ready
// for delivery right away.
type Outcome struct {
	Status Status
	Reason string
	Delay  time.Duration
	Batch  *Batch
}

// SpamStats are aggregate spam-prevention counters.
type SpamStats struct {
	Blocked            int64 `json:"blocked"`
	DuplicatesFiltered int64 `json:"duplicates_filtered"`
	RateLimited        int64 `json:"rate_limited"`
	BurstCooldowns     int64 `json:"burst_cooldowns_triggered"`
	QuietHoursDelays   int64 `json:"quiet_hours_delays"`
	AdaptiveDelays     int64 `json:"adaptive_delays_applied"`
	ActiveChannels     int   `json:"active_channels"`
	ChannelsInCooldown int   `json:"channels_in_cooldown"`
	PendingMessages    int   `json:"pending_messages"`
}

type counters struct {
	blocked, duplicates, rateLimited, burstCooldowns, quietHours, adaptive atomic.Int64
}

// Options configures a SmartMessageBatcher.
type Options struct {
	Spam         SpamPreventionConfig
	Timing       TimingConfig
	MaxBatchSize int
	Disabled     bool
	Now          func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Spam:         DefaultSpamPreventionConfig(),
		Timing:       DefaultTimingConfig(),
		MaxBatchSize: DefaultMaxBatchSize,
	}
}

// SmartMessageBatcher is safe for concurrent use. Messages for the same
// channel are decided one at a time in arrival order.
type SmartMessageBatcher struct {
	mu       sync.RWMutex
	spam     SpamPreventionConfig
	timing   TimingConfig
	enabled  bool
	channels map[string]*channelState

	acc    *Accumulator
	stats  counters
	now    func() time.Time
	logger zerolog.Logger
}

func NewSmartMessageBatcher(opts Options, logger zerolog.Logger) *SmartMessageBatcher {
	b := &SmartMessageBatcher{
		spam:     opts.Spam,
		timing:   opts.Timing,
		enabled:  !opts.Disabled,
		channels: make(map[string]*channelState),
		acc:      NewAccumulator(opts.MaxBatchSize),
		now:      opts.Now,
		logger:   logger.With().Str("component", "batcher").Logger(),
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

func (b *SmartMessageBatcher) config() (SpamPreventionConfig, TimingConfig, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.spam, b.timing, b.enabled
}

func (b *SmartMessageBatcher) channel(id string) *channelState {
	b.mu.RLock()
	st, ok := b.channels[id]
	b.mu.RUnlock()
	if ok {
		return st
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok = b.channels[id]; !ok {
		st = newChannelState()
		b.channels[id] = st
	}
	return st
}

// AddMessage runs spam prevention for msg on channelID and, if accepted,
// stamps the computed delay into msg.Metadata and hands it to the accumulator.
func (b *SmartMessageBatcher) AddMessage(msg *BatchableMessage, channelID string) Outcome {
	spam, timing, enabled := b.config()
	if !enabled {
		return Outcome{Status: StatusDisabled}
	}

	st := b.channel(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := b.now()
	if ok, reason := b.shouldProcessMessage(st, msg, spam, now); !ok {
		b.stats.blocked.Add(1)
		rejectCounter.WithLabelValues(reason).Inc()
		b.logger.Debug().
			Str("channel", channelID).
			Str("message_id", msg.ID).
			Str("reason", reason).
			Msg("message suppressed")
		return Outcome{Status: StatusSuppressed, Reason: reason}
	}

	st.activity.record(now)
	if spam.enabled(StrategyBurstDetection) {
		b.checkBurstActivity(st, spam, now)
	}

	delay := b.calculateOptimalDelay(st, msg, spam, timing, now)
	if msg.Metadata == nil {
		msg.Metadata = make(map[string]any)
	}
	msg.Metadata[MetaOptimalDelay] = delay.Seconds()
	msg.Metadata[MetaSpamApplied] = true
	delayHistogram.WithLabelValues(string(timing.Mode)).Observe(delay.Seconds())

	if ready := b.acc.Add(msg, channelID, delay, now); ready != nil {
		return Outcome{Status: StatusSendNow, Delay: delay, Batch: ready}
	}
	return Outcome{Status: StatusBatched, Delay: delay}
}

// FlushDue returns groups whose delay has elapsed.
func (b *SmartMessageBatcher) FlushDue() []*Batch {
	return b.acc.Flush(b.now())
}

// FlushAll returns every pending group, e.g. on shutdown.
func (b *SmartMessageBatcher) FlushAll() []*Batch {
	return b.acc.FlushAll()
}

// Requeue returns an undelivered batch to the accumulator so the next flush
// retries it.
func (b *SmartMessageBatcher) Requeue(batch *Batch) {
	b.acc.Restore(batch)
}

// ReleaseContent forgets msg's content fingerprint on channelID so an
// identical message is not rejected as a duplicate after a failed delivery.
func (b *SmartMessageBatcher) ReleaseContent(msg *BatchableMessage, channelID string) {
	b.mu.RLock()
	st, ok := b.channels[channelID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.contentHashes, contentFingerprint(msg))
}

// UpdateSpamConfig replaces the spam-prevention policy for all channels.
func (b *SmartMessageBatcher) UpdateSpamConfig(cfg SpamPreventionConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spam = cfg
}

// UpdateTimingConfig replaces the timing policy for all channels.
func (b *SmartMessageBatcher) UpdateTimingConfig(cfg TimingConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timing = cfg
}

func (b *SmartMessageBatcher) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// ResetChannelActivity forgets all tracked state for a channel, including
// an active cooldown.
func (b *SmartMessageBatcher) ResetChannelActivity(channelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels, channelID)
}

// CleanupIdleChannels drops state for channels with no accepted message
// within maxIdle and not in cooldown. It returns the number removed.
func (b *SmartMessageBatcher) CleanupIdleChannels(maxIdle time.Duration) int {
	cutoff := b.now().Add(-maxIdle)
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for id, st := range b.channels {
		st.mu.Lock()
		idle := st.activity.LastMessageTime.Before(cutoff) && !st.activity.InCooldown
		st.mu.Unlock()
		if idle {
			delete(b.channels, id)
			removed++
		}
	}
	return removed
}

// GetChannelActivitySummary reports activity for one channel. Unknown
// channels report zero activity.
func (b *SmartMessageBatcher) GetChannelActivitySummary(channelID string) ChannelActivity {
	b.mu.RLock()
	st, ok := b.channels[channelID]
	b.mu.RUnlock()
	if !ok {
		return ChannelActivity{ChannelID: channelID}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.summary(channelID, b.now())
}

// GetSpamPreventionStats reports aggregate counters.
func (b *SmartMessageBatcher) GetSpamPreventionStats() SpamStats {
	out := SpamStats{
		Blocked:            b.stats.blocked.Load(),
		DuplicatesFiltered: b.stats.duplicates.Load(),
		RateLimited:        b.stats.rateLimited.Load(),
		BurstCooldowns:     b.stats.burstCooldowns.Load(),
		QuietHoursDelays:   b.stats.quietHours.Load(),
		AdaptiveDelays:     b.stats.adaptive.Load(),
	}
	now := b.now()
	b.mu.RLock()
	out.ActiveChannels = len(b.channels)
	for _, st := range b.channels {
		st.mu.Lock()
		if st.activity.InCooldown && now.Before(st.activity.CooldownUntil) {
			out.ChannelsInCooldown++
		}
		st.mu.Unlock()
	}
	b.mu.RUnlock()
	for _, n := range b.acc.Pending() {
		out.PendingMessages += n
	}
	return out
}
