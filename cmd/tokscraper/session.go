package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tokscraper/pkg/logger"
	"tokscraper/pkg/session"
)

// sessionCmd represents the session command
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage persisted browser cookies",
	Long: `Manage the browser cookies saved between runs.

Cookies are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read only)

The account name comes from session.account in the configuration.`,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the saved cookies with their values masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := session.NewManager(logger.GetLogger())
		if err != nil {
			return err
		}
		jar, err := mgr.Load(cfg.Session.Account)
		if errors.Is(err, session.ErrNotFound) {
			fmt.Fprintf(cmd.ErrOrStderr(), "no saved session for account %q\n", cfg.Session.Account)
			return nil
		}
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(session.Sanitize(jar))
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the saved cookies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := session.NewManager(logger.GetLogger())
		if err != nil {
			return err
		}
		if err := mgr.Delete(cfg.Session.Account); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				fmt.Fprintf(cmd.ErrOrStderr(), "no saved session for account %q\n", cfg.Session.Account)
				return nil
			}
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "session for account %q cleared\n", cfg.Session.Account)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionShowCmd, sessionClearCmd)
}
