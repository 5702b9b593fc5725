package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/config"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/orchestrator"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/provider"
)

func newActionsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List the actions the model may call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			registry, err := orchestrator.NewActionRegistry(cfg.ActionSchemas()...)
			if err != nil {
				return fmt.Errorf("actions: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(registry.ListSchemas())
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, s := range registry.ListSchemas() {
				fmt.Fprintf(tw, "%s\t%s\n", s.Name, s.Description)
				for _, p := range s.Parameters {
					req := ""
					if p.Required {
						req = ", required"
					}
					fmt.Fprintf(tw, "  %s\t(%s%s) %s\n", p.Name, p.Type, req, p.Description)
				}
			}
			if err := listModels(tw, cfg); err != nil {
				return err
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the schemas as JSON")
	return cmd
}

// listModels appends the declared models, marking the completion model.
func listModels(w io.Writer, cfg *config.Config) error {
	providers, err := provider.BuildRegistry(cfg.ProviderConfigs())
	if err != nil {
		return err
	}
	var models []provider.ModelInfo
	for _, id := range providers.IDs() {
		p, err := providers.Get(id)
		if err != nil {
			return err
		}
		models = append(models, p.Models()...)
	}
	if len(models) == 0 {
		return nil
	}

	completion := cfg.ModelRef()
	fmt.Fprintln(w, "\nmodels")
	for _, m := range models {
		features := make([]string, len(m.Features))
		for i, f := range m.Features {
			features[i] = string(f)
		}
		mark := ""
		if m.Ref() == completion {
			mark = " (completion)"
		}
		fmt.Fprintf(w, "  %s%s\t%s\n", m.Ref(), mark, strings.Join(features, ","))
	}
	return nil
}
