package main

import (
	"github.com/spf13/cobra"

	"github.com/tnunamak/usagebar/internal/cli"
)

func newStatusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch and show current usage (default)",
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
			eng, labels := a.newEngine(descs)
			a.exitCode = cli.Status(cmd.Context(), eng, labels, a.v.GetBool("json"), a.v.GetBool("plain"))
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output JSON")
	cmd.Flags().Bool("plain", false, "plain text (no color)")
	cmd.Flags().StringSlice("provider", nil, "providers to show (default: enabled in config)")
	return cmd
}
