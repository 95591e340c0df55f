package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"imbridge/internal/config"
	"imbridge/internal/logging"
)

const (
	flagConfig   = "config"
	flagLogLevel = "log-level"
)

// New returns the root command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imbridge [sub-command]",
		Short: "Bridge text-input clients and input methods on a seat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String(flagConfig, "", "configuration file (default: search the working and config directories)")
	cmd.PersistentFlags().String(flagLogLevel, "", "override logging.level")

	cmd.AddCommand(newReplayCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunsCmd())
	return cmd
}

// loadConfig loads and validates the configuration named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString(flagConfig)
	if path == "" {
		path = config.FindConfigFile()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	if level, _ := cmd.Flags().GetString(flagLogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// newLogger builds the logger described by cfg and makes it the default.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc, err := cfg.LoggerConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(lc)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	logging.SetDefault(logger)
	return logger, nil
}
