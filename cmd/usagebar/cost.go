package main

import (
	"context"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tnunamak/usagebar/internal/cli"
	"github.com/tnunamak/usagebar/internal/providers"
)

func newCostCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Show local token cost reports from ccusage",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.bindFlags(cmd); err != nil {
				return err
			}
			return a.load("error")
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			descs, err := a.selected(a.v.GetStringSlice("provider"))
			if err != nil {
				return err
			}
			sections := loadCosts(cmd.Context(), a.deps, descs)
			return cli.RenderCost(os.Stdout, sections, a.v.GetBool("json"))
		},
	}
	cmd.Flags().Bool("json", false, "output JSON")
	cmd.Flags().StringSlice("provider", nil, "providers to report (default: enabled in config)")
	return cmd
}

// loadCosts runs every report concurrently. Sources without a cost
// report are left out.
func loadCosts(ctx context.Context, d *providers.Deps, descs []providers.Descriptor) []cli.CostSection {
	var withCost []providers.Descriptor
	for _, desc := range descs {
		if len(desc.CostCommand) > 0 {
			withCost = append(withCost, desc)
		}
	}
	out := make([]cli.CostSection, len(withCost))
	var wg sync.WaitGroup
	for i, desc := range withCost {
		wg.Add(1)
		go func(i int, desc providers.Descriptor) {
			defer wg.Done()
			out[i].Name = desc.Name
			snap, err := providers.LoadCostSummary(ctx, d, desc)
			if err != nil {
				out[i].Error = err.Error()
				return
			}
			out[i].Summary = &snap
		}(i, desc)
	}
	wg.Wait()
	return out
}
