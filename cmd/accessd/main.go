// accessd dispatches commands to networked access-control terminals.
//
// The daemon ("accessd serve") accepts HTTP requests, queues them per
// device and per tenant, drives the vendor gateway over MQTT and streams
// lifecycle events to subscribers. The remaining subcommands are one-shot
// maintenance tools that share the same configuration file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "ACCESSD_CONFIG"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Tests build their own copy so flags
// never leak between cases.
func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "accessd",
		Short:   "accessd - command dispatch core for access-control terminals",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Long: `accessd accepts door, whitelist and maintenance commands over HTTP,
admits them per tenant and per device, and executes them through the
vendor gateway. Failed commands are dead-lettered and retried.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(),
		"path to the YAML configuration file (env "+configEnvVar+")")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	rootCmd.AddCommand(serveCmd(load))
	rootCmd.AddCommand(migrateCmd(load))
	rootCmd.AddCommand(deadLettersCmd(load))
	rootCmd.AddCommand(tokenCmd(load))
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

// configLoader resolves the --config flag at execution time.
type configLoader func() (*config.Config, error)

// getConfigPath returns the configuration file path.
// It checks the ACCESSD_CONFIG environment variable first, then uses the default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

func openDatabase(cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "accessd %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
		},
	}
}
