package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tokscraper/pkg/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage tokscraper configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (TOKSCRAPER_*, also read from .env)
  - Configuration file
  - Default values (lowest priority)`,
	// Subcommands load the configuration themselves so that a broken file
	// can still be inspected or replaced.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to a file",
	Long: `Write the default configuration with all available options.

The file is created as '.tokscraper.yaml' in the current directory unless a
different path is given with --config.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile
		if path == "" {
			path = ".tokscraper.yaml"
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s", path)
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "configuration file created: %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging flags, environment, file and
defaults. The msToken is masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configFile, changedFlags(cmd))
		if err != nil {
			return err
		}
		display := *loaded
		if tok := display.Session.MsToken; tok != "" {
			if len(tok) > 8 {
				display.Session.MsToken = tok[:4] + "..." + tok[len(tok)-4:]
			} else {
				display.Session.MsToken = "***"
			}
		}
		data, err := yaml.Marshal(&display)
		if err != nil {
			return fmt.Errorf("failed to format configuration: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and its paths",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configFile, changedFlags(cmd))
		if err != nil {
			return err
		}

		var problems []error
		if loaded.Output.BaseDirectory != "" {
			if err := os.MkdirAll(loaded.Output.BaseDirectory, 0755); err != nil {
				problems = append(problems, fmt.Errorf("cannot create output directory: %w", err))
			}
		}
		if loaded.Logging.File != "" {
			if err := os.MkdirAll(filepath.Dir(loaded.Logging.File), 0755); err != nil {
				problems = append(problems, fmt.Errorf("cannot create log directory: %w", err))
			}
		}
		if loaded.Browser.ChromePath != "" {
			if _, err := os.Stat(loaded.Browser.ChromePath); err != nil {
				problems = append(problems, fmt.Errorf("chrome binary: %w", err))
			}
		}
		if err := errors.Join(problems...); err != nil {
			return err
		}

		fmt.Fprintln(cmd.ErrOrStderr(), "configuration is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd)
}
