package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/inbox-to-sheets/config"
	"github.com/dhcgn/inbox-to-sheets/credential"
)

// NewCredentialCmd returns the "credential" command group. store may be nil
// to use the default keyring.
func NewCredentialCmd(store *credential.Store) *cobra.Command {
	if store == nil {
		store = credential.New(credential.DefaultFileDir)
	}

	credCmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage the IMAP password in the OS keyring",
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store the IMAP password for --imap-user on --imap-host (read from stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd, nil)
			if err != nil {
				return err
			}
			if cfg.IMAPHost == "" || cfg.IMAPUser == "" {
				return errors.New("--imap-host and --imap-user are required")
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Password for %s@%s: ", cfg.IMAPUser, cfg.IMAPHost)
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return errors.New("empty password")
			}

			if err := store.Set(credential.IMAPKey(cfg.IMAPUser, cfg.IMAPHost), password); err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr())
			fmt.Fprintln(cmd.OutOrStdout(), "Password stored.")
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored IMAP password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd, nil)
			if err != nil {
				return err
			}
			return store.Delete(credential.IMAPKey(cfg.IMAPUser, cfg.IMAPHost))
		},
	}

	credCmd.AddCommand(setCmd, deleteCmd)
	return credCmd
}
