package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tnunamak/usagebar/internal/oauth"
	"github.com/tnunamak/usagebar/internal/usage"
)

func newLoginCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <provider>",
		Short: "Wait for a vendor CLI sign-in to finish",
		Long: "login prints the command that signs in to the provider's CLI and waits " +
			"until the credential file it writes appears.",
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.bindFlags(cmd); err != nil {
				return err
			}
			return a.load("warn")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			id := usage.Provider(strings.ToLower(args[0]))
			target, ok := a.deps.LoginTarget(id)
			if !ok {
				return fmt.Errorf("%s has no CLI login; configure its API key instead", args[0])
			}
			fmt.Printf("Run `%s` in another terminal and finish signing in.\n", target.Command)
			fmt.Printf("Waiting for %s ...\n", target.Path)

			timeout := a.v.GetDuration("timeout")
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := oauth.WaitForFile(ctx, target.Path, 500*time.Millisecond); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return fmt.Errorf("no credentials after %s", timeout)
				}
				return err
			}
			fmt.Println("Signed in.")
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 5*time.Minute, "how long to wait")
	return cmd
}
