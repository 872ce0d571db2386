package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/example/integration-hub/internal/hub"
	"github.com/example/integration-hub/internal/notify"
)

var notifyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "notify_request_duration_seconds",
	Help:    "Latency for /v1/notify requests",
	Buckets: prometheus.DefBuckets,
}, []string{"category"})

// NotifyRequest is a notification from a source without a dedicated webhook,
// such as alerting or standup bots.
type NotifyRequest struct {
	Type      notify.Type    `json:"type"`
	Team      string         `json:"team"`
	Channel   string         `json:"channel"`
	Urgency   notify.Urgency `json:"urgency"`
	Author    string         `json:"author"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

func validateRequest(req NotifyRequest) error {
	if req.Type == "" {
		return errors.New("type is required")
	}
	if !req.Type.Valid() {
		return fmt.Errorf("unknown notification type %q", req.Type)
	}
	if req.Urgency != "" && !req.Urgency.Valid() {
		return fmt.Errorf("unknown urgency %q", req.Urgency)
	}
	if len(req.Data) == 0 {
		return errors.New("data is required")
	}
	return nil
}

func (s *Server) notify(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer("webhook").Start(ctx, "notify")
	defer span.End()

	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondErr(ctx, w, "notify", http.StatusBadRequest, err)
		return
	}
	if err := validateRequest(req); err != nil {
		s.respondErr(ctx, w, "notify", http.StatusBadRequest, err)
		return
	}

	start := time.Now()
	span.SetAttributes(attribute.String("notification.type", string(req.Type)))
	decision := s.Hub.Process(ctx, hub.Event{
		Type:            req.Type,
		Team:            req.Team,
		Data:            req.Data,
		Author:          req.Author,
		Timestamp:       req.Timestamp,
		ChannelOverride: channelName(req.Channel),
		Urgency:         req.Urgency,
	})
	notifyLatency.WithLabelValues(string(req.Type.Category())).Observe(time.Since(start).Seconds())
	eventCounter.WithLabelValues("notify", string(decision.Status)).Inc()
	writeJSON(w, http.StatusAccepted, decision)
}
