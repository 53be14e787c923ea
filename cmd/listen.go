package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clipstream/clipcrawler/internal/api"
	"github.com/clipstream/clipcrawler/internal/dispatch"
)

// newListenCmd creates the 'listen' subcommand, the long-running worker mode:
// it pulls crawl assignments from a Pub/Sub subscription and serves the ops
// HTTP endpoints.
func newListenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Pulls crawl assignments from Pub/Sub and serves ops endpoints",
		Long: `Runs until interrupted: assignments arrive one at a time on the
configured subscription and each one triggers a full target crawl.
Health, readiness, metrics, and ledger inspection endpoints are served
on server.port for the duration.`,

		RunE: runListenCommand,
	}
	return cmd
}

func runListenCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.GetLogger()

	if cfg.Dispatch.ProjectID == "" || cfg.Dispatch.Subscription == "" {
		return errors.New("dispatch.project_id and dispatch.subscription are required for listen mode")
	}

	engine, orch, err := buildOrchestrator(appInstance)
	if err != nil {
		return err
	}
	defer engine.Close()

	handler := dispatch.NewHandler(orch, logger.Named("dispatch"), cfg.Dispatch.MaxRetries)
	listener, err := dispatch.NewListener(cmd.Context(), dispatch.Config{
		ProjectID:      cfg.Dispatch.ProjectID,
		Subscription:   cfg.Dispatch.Subscription,
		MaxOutstanding: cfg.Dispatch.MaxOutstanding,
	}, handler, logger.Named("dispatch"))
	if err != nil {
		return fmt.Errorf("init listener: %w", err)
	}
	defer func() {
		if cerr := listener.Close(); cerr != nil {
			logger.Warn("listener close failed", zap.Error(cerr))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(appInstance.GetLedger(), logger.Named("api")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("ops server started", zap.Int("port", cfg.Server.Port))
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("ops server error", zap.Error(serveErr))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			logger.Error("ops server shutdown error", zap.Error(serr))
		}
	}()

	logger.Info("listening for crawl assignments",
		zap.String("subscription", cfg.Dispatch.Subscription),
	)
	if err := listener.Run(cmd.Context()); err != nil {
		return fmt.Errorf("run listener: %w", err)
	}
	logger.Info("listener stopped")
	return nil
}
