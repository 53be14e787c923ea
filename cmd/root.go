// Package cmd defines and implements the CLI commands for the clipcrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clipstream/clipcrawler/internal/app"
	"github.com/clipstream/clipcrawler/internal/config"
	"github.com/clipstream/clipcrawler/internal/crawler"
	"github.com/clipstream/clipcrawler/internal/logging"
)

var cfgFile string

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of the service container the commands use. Keeping it an
// interface lets tests inject a stub factory.
type App interface {
	Close()
	Config() config.Config
	GetLogger() *zap.Logger
	GetLedger() crawler.Ledger
	GetCommitter() crawler.Committer
	GetProber() crawler.Prober
	GetClock() crawler.Clock
	GetIDs() crawler.IDGenerator
}

// newApp is the application factory. It is a variable so tests can replace it
// with a stub.
var newApp = func(ctx context.Context) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clipcrawler",
		Short: "A resumable short-video crawl orchestrator.",
		Long: `clipcrawler walks creator listings with a headless browser, keeps a
durable per-item progress ledger, and resumes interrupted detail sweeps
exactly where they left off. Crawl assignments arrive over Pub/Sub or as
command-line arguments.`,

		// Runs after flags are parsed but before the subcommand's RunE, so
		// every subcommand finds an initialized App in its context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (all values can also come from CLIPCRAWLER_* env vars)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newListenCmd())
	cmd.AddCommand(newLoginCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command with the given context.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}
