// Package webhook accepts GitHub and JIRA webhooks, normalizes them into hub
// events and exposes the hub's statistics and channel admin endpoints.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/example/integration-hub/internal/batching"
	"github.com/example/integration-hub/internal/common"
	"github.com/example/integration-hub/internal/hub"
)

// Processor is the part of hub.Handler the server drives.
type Processor interface {
	Process(ctx context.Context, ev hub.Event) hub.Decision
	Stats() hub.Stats
	Channels() []string
	ChannelActivity(channel string) batching.ChannelActivity
	ResetChannel(channel string)
}

type Server struct {
	Hub    Processor
	Logger zerolog.Logger
}

var eventCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "webhook_events_total",
	Help: "Total webhook events received",
}, []string{"source", "status"})

// errIgnored marks a well-formed event that maps to no notification.
var errIgnored = errors.New("event ignored")

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/webhooks/github", s.handle("github", normalizeGitHub))
	r.Post("/webhooks/jira", s.handle("jira", normalizeJira))
	r.Post("/v1/notify", s.notify)
	r.Get("/stats", s.stats)
	r.Get("/stats/channels", s.listChannels)
	r.Get("/stats/channels/{channel}", s.channelActivity)
	r.Post("/admin/channels/{channel}/reset", s.resetChannel)
	return r
}

type normalizer func(r *http.Request, body []byte) (hub.Event, error)

func (s *Server) handle(source string, normalize normalizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := otel.Tracer("webhook").Start(ctx, "receive-"+source)
		defer span.End()

		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			s.respondErr(ctx, w, source, http.StatusBadRequest, err)
			return
		}

		ev, err := normalize(r, raw)
		if err != nil {
			// Decodable payloads are always acknowledged.
			if !errors.Is(err, errIgnored) {
				span.RecordError(err)
				logger := common.WithContext(ctx, s.Logger)
				logger.Warn().Err(err).Str("source", source).Msg("ignoring unrecognised payload")
			}
			eventCounter.WithLabelValues(source, "ignored").Inc()
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
			return
		}

		ev.Team = r.URL.Query().Get("team")
		if ch := r.URL.Query().Get("channel"); ch != "" {
			ev.ChannelOverride = channelName(ch)
		}
		span.SetAttributes(attribute.String("notification.type", string(ev.Type)))

		decision := s.Hub.Process(ctx, ev)
		eventCounter.WithLabelValues(source, string(decision.Status)).Inc()
		writeJSON(w, http.StatusAccepted, decision)
	}
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Hub.Stats())
}

func (s *Server) listChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"channels": s.Hub.Channels()})
}

func (s *Server) channelActivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Hub.ChannelActivity(channelName(chi.URLParam(r, "channel"))))
}

func (s *Server) resetChannel(w http.ResponseWriter, r *http.Request) {
	channel := channelName(chi.URLParam(r, "channel"))
	s.Hub.ResetChannel(channel)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "channel": channel})
}

// channelName accepts channels with or without the leading '#'.
func channelName(s string) string {
	if s == "" || strings.HasPrefix(s, "#") {
		return s
	}
	return "#" + s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) respondErr(ctx context.Context, w http.ResponseWriter, source string, status int, err error) {
	logger := common.WithContext(ctx, s.Logger)
	logger.Error().Err(err).Str("source", source).Int("status", status).Msg("webhook handler error")
	eventCounter.WithLabelValues(source, "error").Inc()
	http.Error(w, err.Error(), status)
}
