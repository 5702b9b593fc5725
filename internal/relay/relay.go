// Package relay is the transport-independent entry point for one chat
// request. HTTP, WebSocket and gRPC handlers all go through Relay.Handle so
// they share cancellation, metrics and audit behaviour.
package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/audit"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/failure"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/metrics"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/orchestrator"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/requestid"
)

// Transport labels.
const (
	TransportHTTP      = "http"
	TransportWebSocket = "ws"
	TransportGRPC      = "grpc"
)

// Chatter is satisfied by *orchestrator.Orchestrator.
type Chatter interface {
	Chat(ctx context.Context, text string) (*orchestrator.ChatReply, error)
}

type Option func(*Relay)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func WithRecorder(rec *audit.Recorder) Option {
	return func(r *Relay) { r.recorder = rec }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.log = l
		}
	}
}

type Relay struct {
	chat     Chatter
	metrics  *metrics.Metrics
	recorder *audit.Recorder
	log      *slog.Logger
}

func New(chat Chatter, opts ...Option) *Relay {
	r := &Relay{chat: chat, log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handle runs one chat exchange. The caller's cancellation is not passed
// on: once accepted, a request runs until it finishes or the completion
// timeout fires.
func (r *Relay) Handle(ctx context.Context, transport, text string) (*orchestrator.ChatReply, error) {
	id := requestid.From(ctx)
	if id == "" {
		id = requestid.New()
		ctx = requestid.With(ctx, id)
	}

	start := time.Now()
	reply, err := r.chat.Chat(context.WithoutCancel(ctx), text)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = string(failure.KindOf(err))
	}
	r.metrics.ObserveChat(transport, outcome)

	rec := audit.Record{
		RequestID: id,
		Transport: transport,
		Text:      text,
		Outcome:   outcome,
		Duration:  elapsed,
	}
	if reply != nil {
		rec.Reply = reply.Reply
		rec.Actions = reply.Actions
	}
	r.recorder.Submit(rec)

	if err != nil {
		switch {
		case failure.IsAuthError(err):
			r.log.Error("relay: completion service rejected the api key, check the provider api_key",
				"request_id", id, "transport", transport, "err", err)
		case failure.IsRateLimitError(err):
			r.log.Warn("relay: completion service rate limited the request", "request_id", id, "transport", transport, "err", err)
		default:
			r.log.Warn("relay: chat failed", "request_id", id, "transport", transport, "outcome", outcome, "err", err)
		}
		return nil, err
	}
	r.log.Info("relay: chat done", "request_id", id, "transport", transport,
		"actions", len(reply.Actions), "elapsed", elapsed)
	return reply, nil
}
