// Package dispatcher publishes ready batches to the Slack delivery topics.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/integration-hub/internal/batching"
	"github.com/example/integration-hub/internal/common"
	"github.com/example/integration-hub/internal/notify"
)

var publishCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "delivery_batches_published_total",
	Help: "Batches written to the delivery topics",
}, []string{"topic", "status"})

// Delivery is the message body on the delivery topics.
type Delivery struct {
	BatchID   string                       `json:"batch_id"`
	Channel   string                       `json:"channel"`
	Urgency   notify.Priority              `json:"urgency"`
	Messages  []*batching.BatchableMessage `json:"messages"`
	CreatedAt time.Time                    `json:"created_at"`
	// PostAt is set when every message in the batch is held until work hours.
	PostAt *time.Time `json:"post_at,omitempty"`
}

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Topics struct {
	Standard string
	Priority string
}

type Publisher struct {
	WriterFactory func(topic string) MessageWriter
	Topics        Topics
	Logger        zerolog.Logger
}

// Publish writes b to its delivery topic, keyed by channel so one channel's
// deliveries stay in order on a single partition.
func (p *Publisher) Publish(ctx context.Context, b *batching.Batch) error {
	if p.WriterFactory == nil {
		return errors.New("publisher requires a writer factory")
	}
	if b == nil || len(b.Messages) == 0 {
		return nil
	}

	urgency := b.HighestPriority()
	topic := topicForUrgency(urgency, p.Topics)

	ctx, span := otel.Tracer("dispatcher").Start(ctx, "publish-batch")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.id", b.ID),
		attribute.String("slack.channel", b.ChannelID),
		attribute.Int("batch.size", len(b.Messages)),
		attribute.String("kafka.topic", topic),
	)

	payload, err := json.Marshal(Delivery{
		BatchID:   b.ID,
		Channel:   b.ChannelID,
		Urgency:   urgency,
		Messages:  b.Messages,
		CreatedAt: b.CreatedAt,
		PostAt:    postAt(b.Messages),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("marshal delivery: %w", err)
	}

	if err := p.WriterFactory(topic).WriteMessages(ctx, kafka.Message{
		Key:   []byte(b.ChannelID),
		Value: payload,
	}); err != nil {
		span.RecordError(err)
		publishCounter.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("write delivery: %w", err)
	}

	publishCounter.WithLabelValues(topic, "ok").Inc()
	logger := common.WithContext(ctx, p.Logger)
	logger.Debug().
		Str("batch_id", b.ID).
		Str("channel", b.ChannelID).
		Str("topic", topic).
		Int("messages", len(b.Messages)).
		Msg("batch published")
	return nil
}

// postAt returns the earliest deliver_after of the messages, or nil when any
// message may go out immediately.
func postAt(msgs []*batching.BatchableMessage) *time.Time {
	var earliest time.Time
	for _, m := range msgs {
		raw, _ := m.Metadata[batching.MetaDeliverAfter].(string)
		if raw == "" {
			return nil
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil
		}
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	if earliest.IsZero() {
		return nil
	}
	return &earliest
}

func topicForUrgency(p notify.Priority, topics Topics) string {
	switch p {
	case notify.PriorityCritical, notify.PriorityHigh:
		if topics.Priority != "" {
			return topics.Priority
		}
	}
	return topics.Standard
}

// KafkaWriters hands out one *kafka.Writer per topic and closes them together.
type KafkaWriters struct {
	brokers []string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewKafkaWriters(brokers []string) *KafkaWriters {
	return &KafkaWriters{brokers: brokers, writers: make(map[string]*kafka.Writer)}
}

func (k *KafkaWriters) Writer(topic string) MessageWriter {
	k.mu.Lock()
	defer k.mu.Unlock()
	if w, ok := k.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	k.writers[topic] = w
	return w
}

func (k *KafkaWriters) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var errs []error
	for topic, w := range k.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}
