package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/config"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/version"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "geechat",
		Short:         "Chat relay for a Google Earth Engine front end",
		Long:          "geechat forwards chat messages to a completion service and turns the model's tool calls into map actions (set_years, export_timelapse, showNDVI).",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (YAML); defaults apply when empty")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newActionsCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

// loadConfig reads .env files into the environment, then the config file.
func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(config.DotEnvFiles...); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
