// Package slack consumes deliveries from the delivery topics and posts them
// to Slack, scheduling the ones held until work hours.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/example/integration-hub/internal/dispatcher"
)

var deliveryCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "slack_deliveries_total",
	Help: "Deliveries handled by the slack worker",
}, []string{"result"})

// Poster is implemented by *Client.
type Poster interface {
	PostMessage(ctx context.Context, channel, text string) error
	ScheduleMessage(ctx context.Context, channel, text string, postAt time.Time) error
}

// MessageReader is the subset of *kafka.Reader the worker uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Worker struct {
	ReaderFactory func(topic string) MessageReader
	Topics        []string
	Poster        Poster
	DLQWriter     dispatcher.MessageWriter
	// NewBackOff defaults to an exponential backoff capped at 30s.
	NewBackOff func() backoff.BackOff
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Run consumes every topic concurrently until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.Poster == nil {
		return errors.New("slack worker requires a poster")
	}
	if len(w.Topics) == 0 {
		return errors.New("slack worker requires at least one topic")
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, topic := range w.Topics {
		topic := topic
		g.Go(func() error { return w.consume(ctx, topic) })
	}
	return g.Wait()
}

func (w *Worker) consume(ctx context.Context, topic string) error {
	reader := w.ReaderFactory(topic)
	defer reader.Close()
	logger := w.Logger.With().Str("topic", topic).Logger()
	logger.Info().Msg("consuming deliveries")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message from %s: %w", topic, err)
		}
		if err := w.handle(ctx, msg); err != nil {
			return err
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

// handle returns an error only when a failed delivery could not be parked on
// the DLQ either.
func (w *Worker) handle(ctx context.Context, msg kafka.Message) error {
	var d dispatcher.Delivery
	if err := json.Unmarshal(msg.Value, &d); err != nil {
		w.Logger.Error().Err(err).Msg("failed to decode delivery")
		deliveryCounter.WithLabelValues("malformed").Inc()
		return nil
	}

	ctx, span := otel.Tracer("slack-worker").Start(ctx, "deliver-slack")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.id", d.BatchID),
		attribute.String("slack.channel", d.Channel),
		attribute.Int("batch.size", len(d.Messages)),
	)
	logger := w.Logger.With().Str("batch_id", d.BatchID).Str("channel", d.Channel).Logger()

	text := Render(d)
	scheduled := d.PostAt != nil && d.PostAt.After(w.now())
	err := w.deliver(ctx, func(attemptCtx context.Context) error {
		if scheduled {
			return w.Poster.ScheduleMessage(attemptCtx, d.Channel, text, *d.PostAt)
		}
		return w.Poster.PostMessage(attemptCtx, d.Channel, text)
	})
	if err == nil {
		result := "posted"
		if scheduled {
			result = "scheduled"
		}
		deliveryCounter.WithLabelValues(result).Inc()
		logger.Info().Str("result", result).Int("messages", len(d.Messages)).Msg("delivery sent")
		return nil
	}

	span.RecordError(err)
	deliveryCounter.WithLabelValues("failed").Inc()
	logger.Error().Err(err).Msg("slack delivery failed, sending to DLQ")
	if w.DLQWriter == nil {
		return nil
	}
	if dlqErr := w.DLQWriter.WriteMessages(ctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: []kafka.Header{{Key: "error", Value: []byte(err.Error())}},
	}); dlqErr != nil {
		span.RecordError(dlqErr)
		return fmt.Errorf("write dlq: %w", dlqErr)
	}
	return nil
}

func (w *Worker) deliver(ctx context.Context, send func(context.Context) error) error {
	var b backoff.BackOff
	if w.NewBackOff != nil {
		b = w.NewBackOff()
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.MaxElapsedTime = 30 * time.Second
		b = exp
	}
	return backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return send(attemptCtx)
	}, backoff.WithContext(b, ctx))
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}
