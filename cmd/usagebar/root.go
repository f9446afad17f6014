package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "usagebar",
		Short:         "Quota and usage for AI coding assistants",
		Long:          "usagebar shows rate-limit windows, credits and local cost reports for Claude, Codex, Gemini and z.ai.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (default ~/.config/usagebar/config.yaml)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "log format: console or json")

	status := newStatusCmd(a)
	root.AddCommand(status, newCostCmd(a), newServeCmd(a), newTrayCmd(a), newLoginCmd(a), newVersionCmd())

	// Bare "usagebar" behaves like "usagebar status".
	root.Flags().AddFlagSet(status.Flags())
	root.RunE = status.RunE
	root.PreRunE = status.PreRunE
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Println("usagebar " + Version)
		},
	}
}
