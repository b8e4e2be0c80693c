package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/me/optrun/internal/config"
	"github.com/me/optrun/internal/logging"
	"github.com/me/optrun/internal/store"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the optrun CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "optrun",
		Short: "optrun runs hyperparameter optimization studies",
		Long:  "optrun schedules optimization trials against an execution backend\nand keeps every result in a local SQLite study database.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.New(logging.ParseLevel(flagLogLevel), flagLogFormat)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "config.yaml", "Study configuration file")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newStatusCmd(),
		newBestCmd(),
	)

	return root
}

// loadConfig reads the study configuration and rebuilds the logger with
// the file's log settings, unless the flags already override them.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	level := flagLogLevel
	if !cmd.Root().PersistentFlags().Changed("log-level") {
		level = cfg.Generic.LogLevel
	}
	format := flagLogFormat
	if !cmd.Root().PersistentFlags().Changed("log-format") {
		format = cfg.Generic.LogFormat
	}
	logger = logging.New(logging.ParseLevel(level), format)
	return cfg, nil
}

// dbPath resolves the study database location, defaulting to a file
// inside the workspace.
func dbPath(cfg config.Config) string {
	if cfg.Generic.DBPath != "" {
		return cfg.Generic.DBPath
	}
	return filepath.Join(cfg.Study.Workspace, "optrun.db")
}

// openStore opens and migrates the study database.
func openStore(cmd *cobra.Command, cfg config.Config) (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(dbPath(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("open study database: %w", err)
	}
	if err := st.Migrate(cmd.Context()); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate study database: %w", err)
	}
	return st, nil
}
