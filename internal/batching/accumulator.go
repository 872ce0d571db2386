package batching

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/integration-hub/internal/notify"
)

const DefaultMaxBatchSize = 10

// BatchableMessage is one notification waiting to be delivered.
type BatchableMessage struct {
	ID          string          `json:"id"`
	ContentType string          `json:"content_type"`
	Timestamp   time.Time       `json:"timestamp"`
	Author      string          `json:"author,omitempty"`
	Priority    notify.Priority `json:"priority"`
	Data        map[string]any  `json:"data"`
	// Metadata is filled in by the batcher before the message is grouped.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewMessage builds a message with a fresh id.
func NewMessage(contentType string, priority notify.Priority, author string, data map[string]any, ts time.Time) *BatchableMessage {
	return &BatchableMessage{
		ID:          uuid.NewString(),
		ContentType: contentType,
		Timestamp:   ts,
		Author:      author,
		Priority:    priority,
		Data:        data,
		Metadata:    make(map[string]any),
	}
}

// Batch is a group of messages for one channel and content type.
type Batch struct {
	ID          string              `json:"id"`
	ChannelID   string              `json:"channel_id"`
	ContentType string              `json:"content_type"`
	Messages    []*BatchableMessage `json:"messages"`
	CreatedAt   time.Time           `json:"created_at"`
	Deadline    time.Time           `json:"deadline"`
}

// HighestPriority returns the most urgent priority in the batch.
func (b *Batch) HighestPriority() notify.Priority {
	best := notify.PriorityLow
	for _, m := range b.Messages {
		if priorityRank(m.Priority) > priorityRank(best) {
			best = m.Priority
		}
	}
	return best
}

func priorityRank(p notify.Priority) int {
	switch p {
	case notify.PriorityCritical:
		return 3
	case notify.PriorityHigh:
		return 2
	case notify.PriorityMedium:
		return 1
	default:
		return 0
	}
}

type groupKey struct {
	channel     string
	contentType string
}

// Accumulator groups messages per (channel, content type) until the group's
// deadline passes or it fills up.
type Accumulator struct {
	mu      sync.Mutex
	groups  map[groupKey]*Batch
	maxSize int
}

func NewAccumulator(maxSize int) *Accumulator {
	if maxSize <= 0 {
		maxSize = DefaultMaxBatchSize
	}
	return &Accumulator{groups: make(map[groupKey]*Batch), maxSize: maxSize}
}

// Add appends msg to its group. The group's deadline is the earliest
// now+delay of its members. A zero delay or a full group is returned for
// immediate delivery; otherwise Add returns nil.
func (a *Accumulator) Add(msg *BatchableMessage, channelID string, delay time.Duration, now time.Time) *Batch {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := groupKey{channel: channelID, contentType: msg.ContentType}
	deadline := now.Add(delay)
	b, ok := a.groups[key]
	if !ok {
		b = &Batch{
			ID:          uuid.NewString(),
			ChannelID:   channelID,
			ContentType: msg.ContentType,
			CreatedAt:   now,
			Deadline:    deadline,
		}
		a.groups[key] = b
	} else if deadline.Before(b.Deadline) {
		b.Deadline = deadline
	}
	b.Messages = append(b.Messages, msg)

	if delay <= 0 || len(b.Messages) >= a.maxSize {
		delete(a.groups, key)
		return b
	}
	return nil
}

// Restore puts back a batch that was taken but could not be delivered. If
// new messages were grouped under the same key meanwhile, the restored
// messages go first and the earlier deadline wins.
func (a *Accumulator) Restore(b *Batch) {
	if b == nil || len(b.Messages) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	key := groupKey{channel: b.ChannelID, contentType: b.ContentType}
	cur, ok := a.groups[key]
	if !ok {
		a.groups[key] = b
		return
	}
	cur.Messages = append(append([]*BatchableMessage{}, b.Messages...), cur.Messages...)
	if b.Deadline.Before(cur.Deadline) {
		cur.Deadline = b.Deadline
	}
	if b.CreatedAt.Before(cur.CreatedAt) {
		cur.CreatedAt = b.CreatedAt
	}
}

// Flush removes and returns every group whose deadline is at or before now,
// oldest deadline first.
func (a *Accumulator) Flush(now time.Time) []*Batch {
	return a.take(func(b *Batch) bool { return !b.Deadline.After(now) })
}

// FlushAll removes and returns every pending group.
func (a *Accumulator) FlushAll() []*Batch {
	return a.take(func(*Batch) bool { return true })
}

func (a *Accumulator) take(due func(*Batch) bool) []*Batch {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []*Batch
	for key, b := range a.groups {
		if due(b) {
			out = append(out, b)
			delete(a.groups, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out
}

// Pending reports the number of waiting messages per channel.
func (a *Accumulator) Pending() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int)
	for key, b := range a.groups {
		out[key.channel] += len(b.Messages)
	}
	return out
}
