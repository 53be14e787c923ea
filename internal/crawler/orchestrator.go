package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Options tunes a single Orchestrator.
type Options struct {
	// BatchSize bounds every heavy-sweep batch. Zero means 100.
	BatchSize int
	// MaxLightItems bounds light collection per listing. Zero means no bound.
	MaxLightItems int
	// ItemPause is slept between heavy items to pace the remote site.
	ItemPause time.Duration
}

// Orchestrator drives the per-target crawl lifecycle: probe, navigate, light
// sync, heavy sweep in batches, reconcile. One call to CrawlTarget is one
// complete attempt; interrupted attempts resume from ledger state on the next
// call.
type Orchestrator struct {
	ledger    Ledger
	extractor ExtractorFactory
	committer Committer
	prober    Prober
	clock     Clock
	ids       IDGenerator
	logger    *zap.Logger
	opts      Options
}

func NewOrchestrator(ledger Ledger, factory ExtractorFactory, committer Committer, prober Prober, clock Clock, ids IDGenerator, logger *zap.Logger, opts Options) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Orchestrator{
		ledger:    ledger,
		extractor: factory,
		committer: committer,
		prober:    prober,
		clock:     clock,
		ids:       ids,
		logger:    logger,
		opts:      opts,
	}
}

// CrawlTarget runs the full lifecycle for one target. A nil return means the
// attempt reached DONE; partial progress before an error is already durable.
func (o *Orchestrator) CrawlTarget(ctx context.Context, targetID string) error {
	runID, err := o.ids.NewID()
	if err != nil {
		return fmt.Errorf("generating run id: %w", err)
	}
	logger := o.logger.With(zap.String("target_id", targetID), zap.String("run_id", runID))

	target, err := o.ledger.GetTarget(ctx, targetID)
	if err != nil {
		TargetsCrawled.WithLabelValues("error").Inc()
		return fmt.Errorf("loading target %s: %w", targetID, err)
	}
	if !target.Alive {
		logger.Info("skipping dead target")
		TargetsCrawled.WithLabelValues("skipped").Inc()
		return nil
	}

	if err := o.crawl(ctx, logger, target, runID); err != nil {
		if errors.Is(err, ErrTargetNotFound) {
			TargetsCrawled.WithLabelValues("not_found").Inc()
		} else {
			TargetsCrawled.WithLabelValues("error").Inc()
		}
		return err
	}
	TargetsCrawled.WithLabelValues("ok").Inc()
	return nil
}

func (o *Orchestrator) crawl(ctx context.Context, logger *zap.Logger, target Target, runID string) error {
	// Cheap existence probe before a browser tab is spent. Probe errors are
	// inconclusive; the listing navigation is the authority.
	if o.prober != nil {
		alive, err := o.prober.Exists(ctx, target.ID)
		if err != nil {
			logger.Warn("existence probe inconclusive", zap.Error(err))
		} else if !alive {
			return o.retireTarget(ctx, logger, target.ID)
		}
	}

	ex, release, err := o.extractor.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring extractor: %w", err)
	}
	defer release()

	if err := ex.OpenListing(ctx, target.ID); err != nil {
		if errors.Is(err, ErrTargetNotFound) {
			return o.retireTarget(ctx, logger, target.ID)
		}
		return fmt.Errorf("opening listing for %s: %w", target.ID, err)
	}

	// Pre-collection checkpoint: navigation succeeded, so a crash from here
	// on must not make the target look never-attempted to the scheduler.
	if err := o.ledger.TouchLastCrawled(ctx, target.ID, o.clock.Now()); err != nil {
		return fmt.Errorf("checkpointing target %s: %w", target.ID, err)
	}

	o.collectProfile(ctx, logger, ex, target.ID)

	if err := o.lightSync(ctx, logger, ex, target, runID); err != nil {
		return err
	}

	plan := DecideSweep(target, o.opts.BatchSize)
	logger.Info("heavy sweep planned", zap.String("mode", string(plan.Mode)), zap.Int("batch_size", plan.BatchSize))

	completed, err := o.heavySweep(ctx, logger, ex, plan, target.ID, runID)
	if err != nil {
		return err
	}

	// Reconcile: a fully completed first sweep retires the is_new flag, so
	// later runs plan refetch sweeps.
	if plan.Mode == SweepFull && completed {
		if err := o.ledger.MarkSwept(ctx, target.ID); err != nil {
			return fmt.Errorf("marking target %s swept: %w", target.ID, err)
		}
	}
	if err := o.ledger.TouchLastCrawled(ctx, target.ID, o.clock.Now()); err != nil {
		return fmt.Errorf("checkpointing target %s: %w", target.ID, err)
	}
	logger.Info("target crawl done", zap.Bool("sweep_completed", completed))
	return nil
}

func (o *Orchestrator) retireTarget(ctx context.Context, logger *zap.Logger, targetID string) error {
	logger.Info("target gone, retiring")
	if err := o.ledger.MarkTargetDead(ctx, targetID); err != nil {
		return fmt.Errorf("retiring target %s: %w", targetID, err)
	}
	return fmt.Errorf("target %s: %w", targetID, ErrTargetNotFound)
}

// collectProfile stores display name and a follower snapshot. Profile data is
// best-effort; its absence never fails a crawl.
func (o *Orchestrator) collectProfile(ctx context.Context, logger *zap.Logger, ex Extractor, targetID string) {
	profile, err := ex.Profile(ctx)
	if err != nil {
		logger.Warn("profile collection failed", zap.Error(err))
		return
	}
	if profile.DisplayName != "" {
		if err := o.ledger.SaveDisplayName(ctx, targetID, profile.DisplayName); err != nil {
			logger.Warn("saving display name failed", zap.Error(err))
		}
	}
	if profile.FollowerText != "" {
		snap := FollowerSnapshot{
			TargetID:    targetID,
			CollectedOn: o.clock.Now(),
			Text:        profile.FollowerText,
			Count:       profile.FollowerCount,
		}
		if err := o.ledger.SaveFollowerSnapshot(ctx, snap); err != nil {
			logger.Warn("saving follower snapshot failed", zap.Error(err))
		}
	}
}

func (o *Orchestrator) lightSync(ctx context.Context, logger *zap.Logger, ex Extractor, target Target, runID string) error {
	recs, err := ex.CollectLight(ctx, o.opts.MaxLightItems)
	if err != nil {
		return fmt.Errorf("collecting light records for %s: %w", target.ID, err)
	}
	logger.Info("light sync collected", zap.Int("items", len(recs)))

	var committed int
	for _, rec := range recs {
		if err := o.committer.CommitLight(ctx, rec, runID); err != nil {
			if TargetFatal(err) {
				return fmt.Errorf("committing light record %s: %w", rec.ItemID, err)
			}
			ItemFailures.Inc()
			logger.Warn("light record commit failed", zap.String("item_id", rec.ItemID), zap.Error(err))
			continue
		}
		committed++
		LightRecordsCommitted.Inc()
	}
	logger.Info("light sync committed", zap.Int("committed", committed), zap.Int("failed", len(recs)-committed))
	return nil
}

// heavySweep processes needs-update candidates in batches, recomputing the
// candidate set from the ledger before each batch so interrupted sweeps
// resume exactly where durable state says they stopped. It reports whether
// the candidate set was fully drained.
func (o *Orchestrator) heavySweep(ctx context.Context, logger *zap.Logger, ex Extractor, plan SweepPlan, targetID, runID string) (bool, error) {
	// Items that failed this run keep their needs-update flag for the next
	// run, but are excluded from this run's candidate recomputation so the
	// batch loop always shrinks.
	failed := make(map[string]struct{})
	// Once the close affordance breaks we stop trusting the listing and
	// open every remaining detail page by URL.
	direct := false

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		all, err := o.ledger.ItemsNeedingUpdate(ctx, targetID)
		if err != nil {
			return false, fmt.Errorf("listing sweep candidates for %s: %w", targetID, err)
		}
		candidates := make([]Item, 0, len(all))
		for _, it := range all {
			if _, ok := failed[it.ID]; !ok {
				candidates = append(candidates, it)
			}
		}
		if len(candidates) == 0 {
			return len(failed) == 0, nil
		}
		SweepBatchSize.Observe(float64(len(candidates)))

		batch := plan.OrderCandidates(candidates)
		if len(batch) > plan.BatchSize {
			batch = batch[:plan.BatchSize]
		}
		logger.Info("heavy sweep batch", zap.Int("remaining", len(candidates)), zap.Int("batch", len(batch)))

		for _, item := range batch {
			committed, err := o.sweepItem(ctx, logger, ex, item, runID, &direct)
			if err == nil {
				if committed {
					HeavyRecordsCommitted.Inc()
				}
			} else if TargetFatal(err) {
				return false, fmt.Errorf("sweeping item %s: %w", item.ID, err)
			} else {
				ItemFailures.Inc()
				failed[item.ID] = struct{}{}
				logger.Warn("heavy sweep item failed", zap.String("item_id", item.ID), zap.Error(err))
			}
			if o.opts.ItemPause > 0 {
				select {
				case <-ctx.Done():
					return false, ctx.Err()
				case <-time.After(o.opts.ItemPause):
				}
			}
		}
	}
}

// sweepItem opens one detail view, extracts the heavy record, commits it, and
// returns to the listing. A dead item is retired in the ledger and reported
// as handled so the sweep moves on.
func (o *Orchestrator) sweepItem(ctx context.Context, logger *zap.Logger, ex Extractor, item Item, runID string, direct *bool) (bool, error) {
	openedDirect := *direct
	if *direct {
		if err := ex.OpenDetailDirect(ctx, item.URL); err != nil {
			if errors.Is(err, ErrItemNotFound) {
				return false, o.retireItem(ctx, logger, item)
			}
			return false, fmt.Errorf("opening detail: %w", err)
		}
	} else {
		d, err := ex.OpenDetail(ctx, item.URL)
		if err != nil {
			if errors.Is(err, ErrItemNotFound) {
				return false, o.retireItem(ctx, logger, item)
			}
			return false, fmt.Errorf("opening detail: %w", err)
		}
		openedDirect = d
	}

	rec, err := ex.CollectHeavy(ctx)
	if err != nil {
		return false, fmt.Errorf("collecting heavy record: %w", err)
	}
	if rec.ItemID == "" {
		rec.ItemID = item.ID
	}
	if rec.TargetID == "" {
		rec.TargetID = item.TargetID
	}
	if rec.URL == "" {
		rec.URL = item.URL
	}

	if err := o.committer.CommitHeavy(ctx, rec, runID); err != nil {
		return false, fmt.Errorf("committing heavy record: %w", err)
	}

	// The record is durable; a broken return path only degrades how the
	// rest of the sweep navigates.
	if !openedDirect {
		if err := ex.CloseDetail(ctx); err != nil {
			logger.Warn("detail close failed, switching to direct navigation", zap.Error(err))
			*direct = true
		}
	}
	return true, nil
}

func (o *Orchestrator) retireItem(ctx context.Context, logger *zap.Logger, item Item) error {
	logger.Info("item gone, retiring", zap.String("item_id", item.ID))
	if err := o.ledger.MarkItemDead(ctx, item.TargetID, item.ID); err != nil {
		return fmt.Errorf("retiring item %s: %w", item.ID, err)
	}
	return nil
}
