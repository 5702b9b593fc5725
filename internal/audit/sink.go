// Package audit keeps a write-only trail of chat requests. Nothing on the
// request path reads it back.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/orchestrator"
)

// Record is one finished chat request.
type Record struct {
	RequestID string
	Transport string
	Text      string
	Reply     string
	Actions   []orchestrator.Action
	Outcome   string
	Duration  time.Duration
	CreatedAt time.Time
}

func (r Record) actionsJSON() (string, error) {
	if len(r.Actions) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(r.Actions)
	if err != nil {
		return "", fmt.Errorf("encode actions: %w", err)
	}
	return string(b), nil
}

type Sink interface {
	Record(ctx context.Context, rec Record) error
	// Prune removes records created before the cutoff and reports how many
	// were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

type nopSink struct{}

func (nopSink) Record(context.Context, Record) error            { return nil }
func (nopSink) Prune(context.Context, time.Time) (int64, error) { return 0, nil }
func (nopSink) Close() error                                    { return nil }

// Nop returns a sink that drops everything.
func Nop() Sink { return nopSink{} }

// Options selects and configures a sink.
type Options struct {
	Driver string
	DSN    string
	// Stream is the Redis stream key.
	Stream string
	// MaxLen caps the Redis stream length (approximate). Zero means no cap.
	MaxLen int64
}

// Open returns the sink for opts.Driver. An empty driver disables auditing.
func Open(ctx context.Context, opts Options) (Sink, error) {
	switch opts.Driver {
	case "":
		return Nop(), nil
	case DriverSQLite, DriverPostgres:
		return OpenSQL(ctx, opts.Driver, opts.DSN)
	case DriverRedis:
		return OpenRedis(ctx, opts.DSN, opts.Stream, opts.MaxLen)
	default:
		return nil, fmt.Errorf("audit: unknown driver %q", opts.Driver)
	}
}

// Recorder writes records in the background so a slow or failing sink
// never delays or fails a chat response.
type Recorder struct {
	sink    Sink
	log     *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewRecorder(sink Sink, log *slog.Logger) *Recorder {
	if sink == nil {
		sink = Nop()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{sink: sink, log: log, timeout: 5 * time.Second}
}

// Submit queues rec for writing. CreatedAt defaults to now.
func (r *Recorder) Submit(rec Record) {
	if r == nil {
		return
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.sink.Record(ctx, rec); err != nil {
			r.log.Warn("audit: record failed", "request_id", rec.RequestID, "err", err)
		}
	}()
}

// Close waits for pending writes and closes the sink.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.wg.Wait()
	return r.sink.Close()
}
