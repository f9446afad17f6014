package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tnunamak/usagebar/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll providers and serve usage over a local HTTP API",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.bindFlags(cmd); err != nil {
				return err
			}
			return a.load("")
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			descs, err := a.selected(a.v.GetStringSlice("provider"))
			if err != nil {
				return err
			}
			eng, _ := a.newEngine(descs)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			done := make(chan struct{})
			go func() {
				eng.Run(ctx, a.cfg.RefreshInterval)
				close(done)
			}()
			a.logger.Info("polling providers",
				zap.Int("providers", len(descs)), zap.Duration("interval", a.cfg.RefreshInterval))

			err = server.ListenAndServe(ctx, a.cfg.Server.Addr, server.NewHandler(eng, a.logger), a.logger)
			stop()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				a.logger.Warn("refresh still running at shutdown")
			}
			return err
		},
	}
	cmd.Flags().String("addr", "", "listen address (default 127.0.0.1:7377)")
	cmd.Flags().Duration("interval", 0, "refresh interval (default 5m)")
	cmd.Flags().StringSlice("provider", nil, "providers to poll (default: enabled in config)")
	return cmd
}
