package main

import (
	"github.com/spf13/cobra"

	"github.com/ahrav/go-invoker/internal/llm/catalog"
	"github.com/ahrav/go-invoker/internal/llm/health"
	"github.com/ahrav/go-invoker/internal/worker"
)

// bindingHealth pairs a catalog entry with its circuit state and telemetry.
type bindingHealth struct {
	Binding catalog.VendorBinding `json:"binding"`
	Circuit string                `json:"circuit"`
	health.Snapshot
}

func newHealthCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print every catalog binding with its health telemetry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			stack, err := worker.Build(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = stack.Close() }()

			bindings := stack.Catalog.All()
			out := make([]bindingHealth, 0, len(bindings))
			for _, b := range bindings {
				out = append(out, bindingHealth{
					Binding:  b,
					Circuit:  stack.Health.Peek(b.ID, cfg.Retry.Cooldown).String(),
					Snapshot: stack.Health.Snapshot(b.ID),
				})
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}
