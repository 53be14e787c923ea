package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clipstream/clipcrawler/internal/browser"
	"github.com/clipstream/clipcrawler/internal/crawler"
	"github.com/clipstream/clipcrawler/internal/extract"
)

// newCrawlCmd creates the 'crawl' subcommand, which crawls the targets named
// on the command line, or the most overdue targets when none are given.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [target-id ...]",
		Short: "Crawls one or more targets and records progress in the ledger",
		Long: `Crawls each named target: probes that the account still exists, walks
its listing for new and changed items, then sweeps detail pages in
resumable batches. With no arguments the most overdue targets are pulled
from the ledger, up to crawl.max_targets.`,

		RunE: runCrawlCommand,
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.GetLogger()

	targetIDs := args
	if len(targetIDs) == 0 {
		due, err := appInstance.GetLedger().DueTargets(cmd.Context(), cfg.Crawl.MaxTargets)
		if err != nil {
			return fmt.Errorf("list due targets: %w", err)
		}
		for _, t := range due {
			targetIDs = append(targetIDs, t.ID)
		}
	}
	if len(targetIDs) == 0 {
		logger.Info("no targets due; nothing to do")
		return nil
	}

	engine, orch, err := buildOrchestrator(appInstance)
	if err != nil {
		return err
	}
	defer engine.Close()

	var failed int
	for _, id := range targetIDs {
		if err := orch.CrawlTarget(cmd.Context(), id); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			failed++
			logger.Error("target crawl failed", zap.String("target", id), zap.Error(err))
		}
	}

	logger.Info("crawl finished", zap.Int("targets", len(targetIDs)), zap.Int("failed", failed))
	if failed == len(targetIDs) {
		return fmt.Errorf("all %d targets failed", failed)
	}
	return nil
}

// buildOrchestrator assembles the browser engine, extraction factory, and
// orchestrator from the App's services. The caller owns the engine and must
// close it.
func buildOrchestrator(appInstance App) (*browser.Engine, *crawler.Orchestrator, error) {
	cfg := appInstance.Config()
	logger := appInstance.GetLogger()

	engine, err := browser.NewEngine(browser.Config{
		Headless:          cfg.Browser.Headless,
		UserAgent:         cfg.Site.UserAgent,
		UserDataDir:       cfg.Browser.UserDataDir,
		NavigationTimeout: cfg.Browser.NavTimeout(),
		OpTimeout:         cfg.Browser.OpTimeout(),
		NavQPS:            cfg.Browser.NavQPS,
		ScrollPause:       cfg.Browser.ScrollPause(),
	}, logger.Named("browser"))
	if err != nil {
		return nil, nil, fmt.Errorf("init browser: %w", err)
	}

	factory := extract.NewFactory(engine, extract.DefaultSelectors(), extract.Config{
		BaseURL:             cfg.Site.BaseURL,
		MaxScrollIterations: cfg.Browser.MaxScrollRounds,
		MaxComments:         cfg.Crawl.MaxComments,
	}, appInstance.GetClock(), logger.Named("extract"))

	orch := crawler.NewOrchestrator(
		appInstance.GetLedger(),
		factory,
		appInstance.GetCommitter(),
		appInstance.GetProber(),
		appInstance.GetClock(),
		appInstance.GetIDs(),
		logger.Named("crawl"),
		crawler.Options{
			BatchSize:     cfg.Crawl.BatchSize,
			MaxLightItems: cfg.Crawl.MaxLightItems,
			ItemPause:     cfg.Crawl.ItemPause(),
		},
	)
	return engine, orch, nil
}
