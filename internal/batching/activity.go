package batching

import (
	"sync"
	"time"
)

const (
	recentWindowCapacity = 1000
	hourlyRetention      = 48
	dailyRetention       = 7
	burstEventRetention  = 24 * time.Hour
)

// timestampRing keeps the most recent timestamps, oldest overwritten first.
type timestampRing struct {
	buf   []time.Time
	start int
	size  int
}

func newTimestampRing(capacity int) *timestampRing {
	return &timestampRing{buf: make([]time.Time, capacity)}
}

func (r *timestampRing) push(t time.Time) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = t
		r.size++
		return
	}
	r.buf[r.start] = t
	r.start = (r.start + 1) % len(r.buf)
}

// countSince counts timestamps at or after cutoff. Timestamps are appended in
// order, so the scan stops at the first older entry from the newest end.
func (r *timestampRing) countSince(cutoff time.Time) int {
	n := 0
	for i := r.size - 1; i >= 0; i-- {
		if r.buf[(r.start+i)%len(r.buf)].Before(cutoff) {
			break
		}
		n++
	}
	return n
}

func (r *timestampRing) len() int { return r.size }

// ActivityMetrics is the per-channel traffic state.
type ActivityMetrics struct {
	recent           *timestampRing
	hourly           map[int64]int
	daily            map[int64]int
	burstEvents      []time.Time
	LastMessageTime  time.Time
	CurrentBurstSize int
	InCooldown       bool
	CooldownUntil    time.Time
}

func newActivityMetrics() *ActivityMetrics {
	return &ActivityMetrics{
		recent: newTimestampRing(recentWindowCapacity),
		hourly: make(map[int64]int),
		daily:  make(map[int64]int),
	}
}

func (m *ActivityMetrics) record(now time.Time) {
	m.recent.push(now)
	hour := now.Unix() / 3600
	day := now.Unix() / 86400
	m.hourly[hour]++
	m.daily[day]++
	m.LastMessageTime = now

	for h := range m.hourly {
		if h <= hour-hourlyRetention {
			delete(m.hourly, h)
		}
	}
	for d := range m.daily {
		if d <= day-dailyRetention {
			delete(m.daily, d)
		}
	}
}

func (m *ActivityMetrics) addBurstEvent(now time.Time) {
	cutoff := now.Add(-burstEventRetention)
	kept := m.burstEvents[:0]
	for _, t := range m.burstEvents {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	m.burstEvents = append(kept, now)
}

func (m *ActivityMetrics) burstSince(cutoff time.Time) int {
	n := 0
	for _, t := range m.burstEvents {
		if !t.Before(cutoff) {
			n++
		}
	}
	return n
}

type bucketKind uint8

const (
	bucketMinute bucketKind = iota
	bucketHour
	bucketPriority
)

// rateBucket identifies one rate-limit counter: a minute, an hour, or a
// priority within an hour.
type rateBucket struct {
	kind     bucketKind
	priority string
	index    int64
}

// channelState is everything the batcher tracks for one channel.
type channelState struct {
	mu            sync.Mutex
	activity      *ActivityMetrics
	rateBuckets   map[rateBucket]int
	contentHashes map[string]time.Time
}

func newChannelState() *channelState {
	return &channelState{
		activity:      newActivityMetrics(),
		rateBuckets:   make(map[rateBucket]int),
		contentHashes: make(map[string]time.Time),
	}
}

// ChannelActivity is the public summary of a channel's activity.
type ChannelActivity struct {
	ChannelID          string     `json:"channel_id"`
	MessagesLastHour   int        `json:"messages_last_hour"`
	MessagesLastDay    int        `json:"messages_last_day"`
	MessagesToday      int        `json:"messages_today"`
	RecentWindowSize   int        `json:"recent_window_size"`
	CurrentBurstSize   int        `json:"current_burst_size"`
	BurstEventsLastDay int        `json:"burst_events_last_day"`
	InCooldown         bool       `json:"in_cooldown"`
	CooldownUntil      *time.Time `json:"cooldown_until,omitempty"`
	LastMessageTime    *time.Time `json:"last_message_time,omitempty"`
}

func (s *channelState) summary(channelID string, now time.Time) ChannelActivity {
	m := s.activity
	hour := now.Unix() / 3600
	lastDay := 0
	for h, n := range m.hourly {
		if h > hour-24 {
			lastDay += n
		}
	}
	out := ChannelActivity{
		ChannelID:          channelID,
		MessagesLastHour:   m.recent.countSince(now.Add(-time.Hour)),
		MessagesLastDay:    lastDay,
		MessagesToday:      m.daily[now.Unix()/86400],
		RecentWindowSize:   m.recent.len(),
		CurrentBurstSize:   m.CurrentBurstSize,
		BurstEventsLastDay: m.burstSince(now.Add(-24 * time.Hour)),
		InCooldown:         m.InCooldown,
	}
	if m.InCooldown {
		until := m.CooldownUntil
		out.CooldownUntil = &until
	}
	if !m.LastMessageTime.IsZero() {
		last := m.LastMessageTime
		out.LastMessageTime = &last
	}
	return out
}
