package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/notectl/notectl/pkg/auth"
)

// NewAuthCommand groups the interactive authentication subcommands.
func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication credentials",
	}
	cmd.AddCommand(
		newAuthLoginCommand(),
		newAuthStatusCommand(),
		newAuthLogoutCommand(),
	)
	return cmd
}

func newAuthLoginCommand() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in using the device code flow",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			manager, err := rt.newAuthManager()
			if err != nil {
				return err
			}

			session, err := manager.BeginLogin(cmd.Context())
			if err != nil {
				return err
			}

			out := rt.Writer()
			uri := session.VerificationURI
			if session.VerificationURIComplete != "" {
				uri = session.VerificationURIComplete
			}
			fmt.Fprintf(out, "To sign in, visit %s and enter the code: %s\n", uri, session.UserCode)
			fmt.Fprintf(out, "The code expires at %s.\n", session.ExpiresAt.Local().Format(time.RFC1123))

			record, err := manager.CompleteLogin(cmd.Context(), wait)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Signed in as %s. Token valid until %s.\n",
				record.AccountID, record.ExpiresAt.Local().Format(time.RFC1123))
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 0, "Maximum time to wait for approval (0 uses the code lifetime)")
	return cmd
}

func newAuthStatusCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current authentication state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			manager, err := rt.newAuthManager()
			if err != nil {
				return err
			}

			status, err := manager.Status()
			if err != nil {
				return err
			}
			out := rt.Writer()

			if output == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			switch status.State {
			case auth.StateAuthenticated:
				fmt.Fprintf(out, "Authenticated as %s. Token valid until %s.\n",
					status.Account, status.ExpiresAt.Local().Format(time.RFC1123))
			case auth.StateNearExpiry:
				fmt.Fprintf(out, "Authenticated as %s. Token near expiry; it will be refreshed on next use.\n",
					status.Account)
			default:
				fmt.Fprintln(out, "Not authenticated. Run 'notectl auth login' to sign in.")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text|json)")
	return cmd
}

func newAuthLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove cached credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			manager, err := rt.newAuthManager()
			if err != nil {
				return err
			}
			if err := manager.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(rt.Writer(), "Cached credentials removed.")
			return nil
		},
	}
}
