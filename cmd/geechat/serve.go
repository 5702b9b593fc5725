package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/version"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat relay",
		Long:  "Start the HTTP and WebSocket chat endpoints, plus gRPC when grpc.listen is set. Exits non-zero before listening when the configuration is unusable.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Listen = ":" + strconv.Itoa(port)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			log, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slog.SetDefault(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			log.Info("geechat: starting",
				"version", version.Version,
				"listen", cfg.Server.Listen,
				"grpc", cfg.GRPC.Listen,
				"model", cfg.ModelRef().String(),
				"actions", a.registry.Len(),
				"audit", cfg.Audit.Driver,
			)
			return a.run(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port; overrides server.listen and PORT")
	return cmd
}
