package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/audit"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/config"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/grpcapi"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/lua"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/metrics"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/orchestrator"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/provider"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/relay"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/server"
)

// app is the fully wired relay for one serve invocation.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *orchestrator.ActionRegistry
	metrics  *metrics.Metrics
	recorder *audit.Recorder
	pruner   *audit.Pruner
	http     *server.Server
	grpc     *grpcapi.Server
}

func auditOptions(c config.AuditConfig) audit.Options {
	return audit.Options{
		Driver: c.Driver,
		DSN:    c.DSN,
		Stream: c.Stream,
		MaxLen: c.MaxLen,
	}
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	registry, err := orchestrator.NewActionRegistry(cfg.ActionSchemas()...)
	if err != nil {
		return nil, fmt.Errorf("actions: %w", err)
	}

	providers, err := provider.BuildRegistry(cfg.ProviderConfigs())
	if err != nil {
		return nil, err
	}
	llm, model, err := providers.Resolve(cfg.ModelRef())
	if err != nil {
		return nil, fmt.Errorf("completion.model: %w", err)
	}
	if err := provider.RequireFeature(llm, model, provider.FeatureTools); err != nil {
		return nil, fmt.Errorf("completion.model: %w", err)
	}

	m := metrics.New()
	guard := orchestrator.NewGuard()
	guard.Timeout = cfg.Completion.Timeout
	orchOpts := []orchestrator.Option{
		orchestrator.WithGuard(guard),
		orchestrator.WithObserver(m),
		orchestrator.WithLogger(log),
	}
	if cfg.Prompt.PrepareScript != "" {
		script, err := lua.Load(cfg.Prompt.PrepareScript)
		if err != nil {
			return nil, fmt.Errorf("prompt.prepare_script: %w", err)
		}
		orchOpts = append(orchOpts, orchestrator.WithPreparer(script))
		log.Info("geechat: prepare script loaded", "path", script.Path())
	}
	orch := orchestrator.New(llm, registry, orchestrator.Config{
		Model:        model,
		MaxTokens:    cfg.Completion.MaxTokens,
		Temperature:  cfg.Completion.Temperature,
		SystemPrompt: cfg.Prompt.System,
		Rules:        cfg.Prompt.Rules,
	}, orchOpts...)

	sink, err := audit.Open(ctx, auditOptions(cfg.Audit))
	if err != nil {
		return nil, err
	}
	var pruner *audit.Pruner
	if cfg.Audit.Driver != "" {
		pruner, err = audit.NewPruner(sink, cfg.Audit.Retention, cfg.Audit.PruneSchedule, log)
		if err != nil {
			_ = sink.Close()
			return nil, err
		}
	}
	recorder := audit.NewRecorder(sink, log)

	r := relay.New(orch,
		relay.WithMetrics(m),
		relay.WithRecorder(recorder),
		relay.WithLogger(log),
	)

	a := &app{
		cfg:      cfg,
		log:      log,
		registry: registry,
		metrics:  m,
		recorder: recorder,
		pruner:   pruner,
		http:     server.New(r, registry, cfg.Server, server.WithMetrics(m), server.WithLogger(log)),
	}
	if cfg.GRPC.Listen != "" {
		a.grpc = grpcapi.New(r,
			grpcapi.WithLogger(log),
			grpcapi.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		)
	}
	return a, nil
}

// run serves until ctx is cancelled or a listener fails, then flushes the
// audit trail.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if a.pruner != nil {
		a.pruner.Start(gctx)
	}
	g.Go(func() error { return a.http.ListenAndServe(gctx) })
	if a.grpc != nil {
		g.Go(func() error { return a.grpc.ListenAndServe(gctx, a.cfg.GRPC.Listen) })
	}

	err := g.Wait()
	if a.pruner != nil {
		a.pruner.Stop()
	}
	if cerr := a.recorder.Close(); cerr != nil {
		a.log.Warn("geechat: closing audit sink", "err", cerr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info("geechat: shutdown complete")
	return nil
}
