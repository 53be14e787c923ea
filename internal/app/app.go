// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/clipstream/clipcrawler/internal/clock/system"
	"github.com/clipstream/clipcrawler/internal/config"
	"github.com/clipstream/clipcrawler/internal/crawler"
	"github.com/clipstream/clipcrawler/internal/fetcher/probe"
	"github.com/clipstream/clipcrawler/internal/hash/sha256"
	"github.com/clipstream/clipcrawler/internal/id/uuid"
	ledgermemory "github.com/clipstream/clipcrawler/internal/ledger/memory"
	ledgerpostgres "github.com/clipstream/clipcrawler/internal/ledger/postgres"
	publishermemory "github.com/clipstream/clipcrawler/internal/publisher/memory"
	publisherpubsub "github.com/clipstream/clipcrawler/internal/publisher/pubsub"
	"github.com/clipstream/clipcrawler/internal/sink"
	storagegcs "github.com/clipstream/clipcrawler/internal/storage/gcs"
	storagelocal "github.com/clipstream/clipcrawler/internal/storage/local"
	storagememory "github.com/clipstream/clipcrawler/internal/storage/memory"
)

// App holds the shared, long-lived services for the crawler binaries. It is
// initialized once at startup and handed to the commands that need it.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	ledger    crawler.Ledger
	publisher crawler.Publisher
	blobs     crawler.BlobStore
	committer crawler.Committer
	prober    crawler.Prober
	hasher    crawler.Hasher
	clock     crawler.Clock
	ids       crawler.IDGenerator

	closers []func() error
}

// Config returns the loaded service configuration.
func (a *App) Config() config.Config { return a.cfg }

// GetLogger returns the shared zap logger instance.
func (a *App) GetLogger() *zap.Logger { return a.logger }

// GetLedger exposes the configured progress ledger.
func (a *App) GetLedger() crawler.Ledger { return a.ledger }

// GetCommitter exposes the record commit pipeline (ledger, snapshots, events).
func (a *App) GetCommitter() crawler.Committer { return a.committer }

// GetProber returns the cheap existence prober, or nil when disabled.
func (a *App) GetProber() crawler.Prober { return a.prober }

// GetClock returns the shared clock.
func (a *App) GetClock() crawler.Clock { return a.clock }

// GetIDs returns the run-ID generator.
func (a *App) GetIDs() crawler.IDGenerator { return a.ids }

// New creates and initializes an App from configuration. It is the central
// point for service initialization and fails fast when any critical service
// cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		cfg:    cfg,
		logger: logger,
		hasher: sha256.New(),
		clock:  system.New(),
		ids:    uuid.NewGenerator(),
	}

	if err := a.initLedger(ctx); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		return nil, err
	}
	if err := a.initBlobStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initProber(); err != nil {
		return nil, err
	}

	a.committer = sink.NewWriter(
		a.ledger,
		a.blobs,
		a.publisher,
		a.hasher,
		a.clock,
		logger.Named("sink"),
		sink.Config{
			Topic:          cfg.Publisher.Topic,
			SnapshotPrefix: cfg.Snapshots.Prefix,
		},
	)

	logger.Info("application services initialized",
		zap.String("ledger", cfg.Ledger.Provider),
		zap.String("publisher", cfg.Publisher.Provider),
		zap.String("snapshots", cfg.Snapshots.Provider),
	)
	return a, nil
}

func (a *App) initLedger(ctx context.Context) error {
	switch a.cfg.Ledger.Provider {
	case "postgres":
		a.logger.Info("connecting to postgres ledger")
		store, err := ledgerpostgres.NewStore(ctx, ledgerpostgres.Config{
			DSN:      a.cfg.Ledger.DSN,
			MaxConns: a.cfg.Ledger.MaxConns,
			MinConns: a.cfg.Ledger.MinConns,
		})
		if err != nil {
			return fmt.Errorf("initialize ledger: %w", err)
		}
		a.ledger = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	case "memory":
		a.logger.Info("using in-memory ledger; progress will not survive restarts")
		a.ledger = ledgermemory.NewStore()
	default:
		return fmt.Errorf("unknown ledger provider: %s", a.cfg.Ledger.Provider)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	switch a.cfg.Publisher.Provider {
	case "pubsub":
		a.logger.Info("connecting to pub/sub",
			zap.String("project", a.cfg.Publisher.ProjectID),
			zap.String("topic", a.cfg.Publisher.Topic),
		)
		client, err := pubsub.NewClient(ctx, a.cfg.Publisher.ProjectID)
		if err != nil {
			return fmt.Errorf("initialize pubsub client: %w", err)
		}
		pub, err := publisherpubsub.New(client)
		if err != nil {
			return fmt.Errorf("initialize publisher: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
	case "memory":
		a.logger.Info("using in-memory publisher; record events will be discarded")
		a.publisher = publishermemory.New()
	default:
		return fmt.Errorf("unknown publisher provider: %s", a.cfg.Publisher.Provider)
	}
	return nil
}

func (a *App) initBlobStore(ctx context.Context) error {
	switch a.cfg.Snapshots.Provider {
	case "gcs":
		a.logger.Info("using gcs snapshot store", zap.String("bucket", a.cfg.Snapshots.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("initialize gcs client: %w", err)
		}
		store, err := storagegcs.New(client, storagegcs.Config{Bucket: a.cfg.Snapshots.Bucket})
		if err != nil {
			return fmt.Errorf("initialize snapshot store: %w", err)
		}
		a.blobs = store
		a.closers = append(a.closers, client.Close)
	case "local":
		a.logger.Info("using local snapshot store", zap.String("dir", a.cfg.Snapshots.BaseDir))
		store, err := storagelocal.New(storagelocal.Config{BaseDir: a.cfg.Snapshots.BaseDir})
		if err != nil {
			return fmt.Errorf("initialize snapshot store: %w", err)
		}
		a.blobs = store
	case "memory":
		a.logger.Info("using in-memory snapshot store; comment snapshots will be discarded")
		a.blobs = storagememory.NewBlobStore()
	default:
		return fmt.Errorf("unknown snapshot provider: %s", a.cfg.Snapshots.Provider)
	}
	return nil
}

func (a *App) initProber() error {
	if !a.cfg.Probe.Enabled {
		a.logger.Info("existence probe disabled; crawls go straight to the browser")
		return nil
	}
	p, err := probe.New(probe.Config{
		BaseURL:        a.cfg.Site.BaseURL,
		UserAgent:      a.cfg.Site.UserAgent,
		RequestTimeout: time.Duration(a.cfg.Probe.TimeoutSec) * time.Second,
		DelayPerHost:   time.Duration(a.cfg.Probe.DelayPerHostMs) * time.Millisecond,
	}, a.logger.Named("probe"))
	if err != nil {
		return fmt.Errorf("initialize prober: %w", err)
	}
	a.prober = p
	return nil
}

// Close gracefully shuts down all services held by the container. It is
// called by a Cobra hook after the command finishes execution.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	// Flushing stdout can legitimately fail on some platforms; best effort.
	_ = a.logger.Sync()
}
