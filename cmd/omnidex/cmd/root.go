// Package cmd provides the CLI commands for Omnidex.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/omnidex/omnidex/internal/config"
	"github.com/omnidex/omnidex/internal/engine"
	"github.com/omnidex/omnidex/internal/index"
	"github.com/omnidex/omnidex/internal/logging"
	"github.com/omnidex/omnidex/internal/pipeline"
	"github.com/omnidex/omnidex/internal/provider"
	"github.com/omnidex/omnidex/internal/provider/credstore"
	"github.com/omnidex/omnidex/internal/telemetry"
	"github.com/omnidex/omnidex/pkg/version"
)

var (
	configPath string
	debugMode  bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the omnidex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "omnidex",
		Short: "Privacy-first local search across your content sources",
		Long: `Omnidex indexes documents from configured providers (local files,
GitHub, and more) into a single on-disk search index and answers
queries across all of them. Everything stays on this machine.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("omnidex version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: "+config.DefaultPath()+")")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cleanup, err := logging.SetupDefault(debugMode)
		if err != nil {
			return err
		}
		loggingCleanup = cleanup
		return nil
	}
	cmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(
		newSearchCmd(),
		newIndexCmd(),
		newStatusCmd(),
		newProvidersCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig resolves the effective configuration for a command run.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		// The default location is optional; explicit paths must exist.
		return config.Load(optionalPath(config.DefaultPath()))
	}
	return config.Load(path)
}

func optionalPath(path string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// buildEngine wires a full engine from configuration. The caller owns the
// returned engine and must Close it.
func buildEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, error) {
	logger := slog.Default()

	idx, err := index.Open(cfg.IndexDir, index.Options{
		MemoryBudgetMB: cfg.MemoryBudgetMB,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	creds, err := credstore.OpenFile(filepath.Join(filepath.Dir(cfg.IndexDir), "credentials.yaml"))
	if err != nil {
		_ = idx.Close()
		return nil, err
	}

	registry := provider.NewRegistry(creds, logger)
	factory := provider.DefaultFactory()
	for _, pcfg := range cfg.Providers {
		if !pcfg.Enabled {
			continue
		}
		p, err := factory.Create(pcfg)
		if err != nil {
			_ = idx.Close()
			return nil, err
		}
		if err := registry.Register(ctx, p, pcfg); err != nil {
			_ = idx.Close()
			return nil, err
		}
	}

	pipe, err := pipeline.New(idx, registry, cfg.Workers, cfg.Pipeline, logger)
	if err != nil {
		_ = registry.Shutdown(ctx)
		_ = idx.Close()
		return nil, err
	}

	monitor := telemetry.NewMonitor(cfg.ResponseTarget(), cfg.Features.Analytics)
	return engine.New(cfg, idx, registry, pipe, monitor, logger), nil
}
