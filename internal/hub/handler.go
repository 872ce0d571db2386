// Package hub runs the notification decision pipeline: urgency, routing,
// duplicate suppression, work-hours scheduling and batching, then hands
// ready batches to the publisher.
package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/integration-hub/internal/batching"
	"github.com/example/integration-hub/internal/common"
	"github.com/example/integration-hub/internal/dedup"
	"github.com/example/integration-hub/internal/notify"
	"github.com/example/integration-hub/internal/routing"
)

var decisionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hub_decisions_total",
	Help: "Notification decisions by status",
}, []string{"status"})

type Status string

const (
	StatusSent       Status = "sent"
	StatusQueued     Status = "queued"
	StatusDuplicate  Status = "duplicate"
	StatusSuppressed Status = "suppressed"
	StatusDropped    Status = "dropped"
)

const (
	reasonUnknownType   = "unknown_type"
	reasonPublishFailed = "publish_failed"
	reasonInternal      = "internal_error"
)

// Event is a normalized inbound notification.
type Event struct {
	Type            notify.Type    `json:"type"`
	Team            string         `json:"team,omitempty"`
	Data            map[string]any `json:"data"`
	Author          string         `json:"author,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	ChannelOverride string         `json:"channel_override,omitempty"`
	// Urgency, when set, skips content analysis.
	Urgency notify.Urgency `json:"urgency,omitempty"`
}

// Decision reports what happened to one event.
type Decision struct {
	Status       Status         `json:"status"`
	Reason       string         `json:"reason,omitempty"`
	Channel      string         `json:"channel,omitempty"`
	Urgency      notify.Urgency `json:"urgency,omitempty"`
	MessageID    string         `json:"message_id,omitempty"`
	BatchID      string         `json:"batch_id,omitempty"`
	Delay        time.Duration  `json:"delay,omitempty"`
	DeliverAfter *time.Time     `json:"deliver_after,omitempty"`
}

// Publisher delivers a ready batch.
type Publisher interface {
	Publish(ctx context.Context, b *batching.Batch) error
}

// Maintenance controls the periodic cleanup done by Run.
type Maintenance struct {
	Every            time.Duration
	RecordRetention  time.Duration
	StatsRetention   time.Duration
	IdleChannelLimit time.Duration
}

func DefaultMaintenance() Maintenance {
	return Maintenance{
		Every:            24 * time.Hour,
		RecordRetention:  7 * 24 * time.Hour,
		StatsRetention:   48 * time.Hour,
		IdleChannelLimit: 24 * time.Hour,
	}
}

type Options struct {
	WorkHours   WorkHours
	Maintenance Maintenance
	Now         func() time.Time
}

type Handler struct {
	router    *routing.Router
	dedup     *dedup.Deduplicator
	batcher   *batching.SmartMessageBatcher
	publisher Publisher

	work   WorkHours
	maint  Maintenance
	now    func() time.Time
	logger zerolog.Logger
}

func NewHandler(router *routing.Router, dd *dedup.Deduplicator, batcher *batching.SmartMessageBatcher, publisher Publisher, opts Options, logger zerolog.Logger) *Handler {
	h := &Handler{
		router:    router,
		dedup:     dd,
		batcher:   batcher,
		publisher: publisher,
		work:      opts.WorkHours,
		maint:     opts.Maintenance,
		now:       opts.Now,
		logger:    logger.With().Str("component", "hub").Logger(),
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.maint.Every <= 0 {
		h.maint = DefaultMaintenance()
	}
	return h
}

// Process decides the fate of ev. Policy outcomes are reported in the
// Decision and never as errors.
func (h *Handler) Process(ctx context.Context, ev Event) (d Decision) {
	ctx, span := otel.Tracer("hub").Start(ctx, "process-notification")
	defer span.End()
	logger := common.WithContext(ctx, h.logger)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			span.RecordError(err)
			logger.Error().Err(err).Str("type", string(ev.Type)).Msg("notification processing failed")
			d = Decision{Status: StatusDropped, Reason: reasonInternal, Channel: d.Channel, Urgency: d.Urgency}
		}
		span.SetAttributes(
			attribute.String("notification.type", string(ev.Type)),
			attribute.String("decision.status", string(d.Status)),
			attribute.String("slack.channel", d.Channel),
		)
		decisionCounter.WithLabelValues(string(d.Status)).Inc()
	}()

	if !ev.Type.Valid() {
		logger.Warn().Str("type", string(ev.Type)).Msg("dropping notification of unknown type")
		return Decision{Status: StatusDropped, Reason: reasonUnknownType}
	}

	now := h.now()
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = now
	}

	urgency := ev.Urgency
	if !urgency.Valid() {
		urgency = h.router.AnalyzeUrgency(ev.Data, ev.Type)
	}
	d.Urgency = urgency

	d.Channel = h.router.RouteNotification(notify.RoutingContext{
		Type:      ev.Type,
		Urgency:   urgency,
		TeamID:    ev.Team,
		Data:      ev.Data,
		Author:    ev.Author,
		Timestamp: ts,
	}, ev.ChannelOverride)

	dup := h.dedup.CheckDuplicate(ctx, ev.Type, ev.Data, d.Channel, ev.Team, ev.Author)
	if dup.IsDuplicate {
		d.Status = StatusDuplicate
		d.Reason = dup.Reason
		return d
	}

	msg := batching.NewMessage(string(ev.Type), notify.PriorityFor(urgency), ev.Author, ev.Data, ts)
	d.MessageID = msg.ID
	if urgency != notify.UrgencyCritical && urgency != notify.UrgencyHigh {
		if start, deferred := h.work.NextStart(now); deferred {
			msg.Metadata[batching.MetaDeliverAfter] = start.UTC().Format(time.RFC3339)
			d.DeliverAfter = &start
		}
	}

	outcome := h.batcher.AddMessage(msg, d.Channel)
	if outcome.Status == batching.StatusSuppressed {
		d.Status = StatusSuppressed
		d.Reason = outcome.Reason
		return d
	}

	d.Delay = outcome.Delay

	ready := outcome.Batch
	if outcome.Status == batching.StatusDisabled {
		ready = &batching.Batch{
			ID:          uuid.NewString(),
			ChannelID:   d.Channel,
			ContentType: msg.ContentType,
			Messages:    []*batching.BatchableMessage{msg},
			CreatedAt:   now,
			Deadline:    now,
		}
	}
	if ready == nil {
		h.dedup.RecordNotification(ctx, ev.Type, ev.Data, d.Channel, ev.Team, dup.Hash, ev.Author)
		d.Status = StatusQueued
		return d
	}

	d.BatchID = ready.ID
	if err := h.publisher.Publish(ctx, ready); err != nil {
		span.RecordError(err)
		logger.Error().Err(err).Str("batch_id", ready.ID).Str("channel", d.Channel).Msg("failed to publish batch")
		// A resend of this event must not be rejected as a duplicate; the
		// messages that were queued alongside it go back for the next flush.
		h.batcher.ReleaseContent(msg, d.Channel)
		h.requeueWithout(ready, msg)
		d.Status = StatusDropped
		d.Reason = reasonPublishFailed
		return d
	}
	h.dedup.RecordNotification(ctx, ev.Type, ev.Data, d.Channel, ev.Team, dup.Hash, ev.Author)
	d.Status = StatusSent
	return d
}

func (h *Handler) requeueWithout(b *batching.Batch, msg *batching.BatchableMessage) {
	rest := make([]*batching.BatchableMessage, 0, len(b.Messages))
	for _, m := range b.Messages {
		if m.ID != msg.ID {
			rest = append(rest, m)
		}
	}
	if len(rest) == 0 {
		return
	}
	b.Messages = rest
	h.batcher.Requeue(b)
}

// FlushDue publishes every batch whose delay has elapsed and returns how
// many were published. Batches that fail to publish are kept for the next
// call.
func (h *Handler) FlushDue(ctx context.Context) (int, error) {
	published, failed, err := h.publishAll(ctx, h.batcher.FlushDue())
	for _, b := range failed {
		h.batcher.Requeue(b)
	}
	return published, err
}

func (h *Handler) publishAll(ctx context.Context, batches []*batching.Batch) (int, []*batching.Batch, error) {
	var (
		errs   []error
		failed []*batching.Batch
	)
	published := 0
	for _, b := range batches {
		if err := h.publisher.Publish(ctx, b); err != nil {
			errs = append(errs, fmt.Errorf("batch %s: %w", b.ID, err))
			failed = append(failed, b)
			continue
		}
		published++
	}
	return published, failed, errors.Join(errs...)
}

// Run flushes due batches every interval and performs maintenance until ctx
// is cancelled. Pending batches are published before it returns.
func (h *Handler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("flush interval must be positive, got %s", interval)
	}
	flush := time.NewTicker(interval)
	defer flush.Stop()
	maint := time.NewTicker(h.maint.Every)
	defer maint.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			n, failed, err := h.publishAll(drainCtx, h.batcher.FlushAll())
			if err != nil {
				lost := 0
				for _, b := range failed {
					lost += len(b.Messages)
				}
				h.logger.Error().Err(err).Int("lost_messages", lost).Msg("failed to publish pending batches on shutdown")
			}
			h.logger.Info().Int("published", n).Msg("flushed pending batches")
			return nil
		case <-flush.C:
			if _, err := h.FlushDue(ctx); err != nil {
				h.logger.Error().Err(err).Msg("flush failed")
			}
		case <-maint.C:
			h.Cleanup(ctx)
		}
	}
}

// Cleanup drops expired dedup records, old routing statistics and idle
// channel state.
func (h *Handler) Cleanup(ctx context.Context) {
	records := h.dedup.CleanupOldRecords(ctx, h.maint.RecordRetention)
	buckets := h.router.CleanupOldStats(h.maint.StatsRetention)
	channels := h.batcher.CleanupIdleChannels(h.maint.IdleChannelLimit)
	h.logger.Info().
		Int64("dedup_records", records).
		Int("stat_buckets", buckets).
		Int("idle_channels", channels).
		Msg("maintenance complete")
}

// Stats aggregates the statistics of every pipeline stage.
type Stats struct {
	Routing        routing.Stats      `json:"routing"`
	Deduplication  dedup.Stats        `json:"deduplication"`
	SpamPrevention batching.SpamStats `json:"spam_prevention"`
}

func (h *Handler) Stats() Stats {
	return Stats{
		Routing:        h.router.GetRoutingStats(),
		Deduplication:  h.dedup.GetDeduplicationStats(),
		SpamPrevention: h.batcher.GetSpamPreventionStats(),
	}
}

// Channels lists the configured destination channels.
func (h *Handler) Channels() []string {
	return h.router.Channels()
}

func (h *Handler) ChannelActivity(channel string) batching.ChannelActivity {
	return h.batcher.GetChannelActivitySummary(channel)
}

func (h *Handler) ResetChannel(channel string) {
	h.batcher.ResetChannelActivity(channel)
	h.logger.Info().Str("channel", channel).Msg("channel activity reset")
}
