package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes records older than the retention period on a cron
// schedule.
type Pruner struct {
	cron      *cron.Cron
	sink      Sink
	retention time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// NewPruner validates schedule (standard five-field spec or a descriptor
// such as "@daily"). The pruner does nothing until Start.
func NewPruner(sink Sink, retention time.Duration, schedule string, log *slog.Logger) (*Pruner, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("audit: retention must be positive")
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Pruner{
		cron: cron.New(
			cron.WithParser(cron.NewParser(
				cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithChain(cron.Recover(cron.DefaultLogger)),
		),
		sink:      sink,
		retention: retention,
		log:       log,
		now:       time.Now,
	}
	if _, err := p.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, _ = p.RunOnce(ctx)
	}); err != nil {
		return nil, fmt.Errorf("audit: prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

// RunOnce prunes immediately.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.sink.Prune(ctx, cutoff)
	if err != nil {
		p.log.Warn("audit: prune failed", "err", err)
		return 0, err
	}
	p.log.Info("audit: pruned", "removed", n, "before", cutoff.Format(time.RFC3339))
	return n, nil
}

// Start runs the schedule until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	p.cron.Start()
	go func() {
		<-ctx.Done()
		p.Stop()
	}()
}

// Stop halts the schedule and waits for a running prune to finish.
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}
