package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tnunamak/usagebar/internal/autostart"
	"github.com/tnunamak/usagebar/internal/tray"
)

func newTrayCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tray",
		Short: "Run as system tray icon",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.bindFlags(cmd); err != nil {
				return err
			}
			return a.load("")
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			install, _ := cmd.Flags().GetBool("install")
			uninstall, _ := cmd.Flags().GetBool("uninstall")
			switch {
			case install:
				if err := autostart.Install(); err != nil {
					return err
				}
				fmt.Println("usagebar will start at login")
				return nil
			case uninstall:
				if err := autostart.Uninstall(); err != nil {
					return err
				}
				fmt.Println("usagebar autostart removed")
				return nil
			}

			descs, err := a.selected(a.v.GetStringSlice("provider"))
			if err != nil {
				return err
			}
			eng, labels := a.newEngine(descs)
			a.exitCode = tray.Run(eng, tray.Options{
				Version:  Version,
				Labels:   labels,
				Interval: a.cfg.RefreshInterval,
				Logger:   a.logger,
			})
			return nil
		},
	}
	cmd.Flags().Bool("install", false, "enable launch at login")
	cmd.Flags().Bool("uninstall", false, "disable launch at login")
	cmd.Flags().Duration("interval", 0, "refresh interval (default 5m)")
	cmd.Flags().StringSlice("provider", nil, "providers to show (default: enabled in config)")
	return cmd
}
