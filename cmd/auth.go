package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dhcgn/inbox-to-sheets/config"
	"github.com/dhcgn/inbox-to-sheets/googleauth"
)

// NewAuthCmd returns the command that runs the Google consent flow and caches
// the token used by the gmail source and the sheets sink.
func NewAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize Gmail and Sheets access and cache the OAuth token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd, nil)
			if err != nil {
				return err
			}

			session, err := googleauth.NewSession(googleauth.Options{
				CredentialsFile: cfg.CredentialsFile,
				TokenFile:       cfg.TokenFile,
				Interactive:     true,
				Output:          cmd.ErrOrStderr(),
			}, slog.Default())
			if err != nil {
				return err
			}

			tok, err := session.Login(cmd.Context())
			if err != nil {
				return fmt.Errorf("authorization failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s (expires %s)\n", cfg.TokenFile, tok.Expiry.Format("2006-01-02 15:04"))
			return nil
		},
	}
}
