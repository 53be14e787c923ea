// Package sink commits extracted records: durable persistence first, then
// best-effort event publication.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/clipstream/clipcrawler/internal/crawler"
)

// Config controls the Writer.
type Config struct {
	// Topic receives one event per committed record.
	Topic string
	// SnapshotPrefix is the blob path prefix for comment snapshots.
	SnapshotPrefix string
}

func (c *Config) applyDefaults() {
	if c.SnapshotPrefix == "" {
		c.SnapshotPrefix = "snapshots"
	}
}

// Writer implements crawler.Committer. The ledger write (and, for heavy
// records, the snapshot blob write) is the durability boundary: if either
// fails the commit fails. Publication failures only log and count; the
// record is already safe.
type Writer struct {
	ledger    crawler.Ledger
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	hasher    crawler.Hasher
	clock     crawler.Clock
	logger    *zap.Logger
	cfg       Config
}

func NewWriter(ledger crawler.Ledger, blobs crawler.BlobStore, publisher crawler.Publisher, hasher crawler.Hasher, clock crawler.Clock, logger *zap.Logger, cfg Config) *Writer {
	cfg.applyDefaults()
	return &Writer{
		ledger:    ledger,
		blobs:     blobs,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

func (w *Writer) CommitLight(ctx context.Context, rec crawler.LightRecord, runID string) error {
	now := w.clock.Now()
	item := crawler.Item{
		TargetID:     rec.TargetID,
		ID:           rec.ItemID,
		URL:          rec.URL,
		ThumbnailURL: rec.ThumbnailURL,
		AltText:      rec.AltText,
		CountText:    rec.CountText,
		Count:        rec.Count,
		Algorithm:    rec.Algorithm,
		CrawledAt:    now,
	}
	if err := w.ledger.UpsertItem(ctx, item); err != nil {
		return fmt.Errorf("persisting light record %s/%s: %w", rec.TargetID, rec.ItemID, err)
	}

	w.publish(ctx, crawler.RecordEvent{
		Kind:      "light",
		ItemID:    rec.ItemID,
		TargetID:  rec.TargetID,
		URL:       rec.URL,
		Count:     rec.Count,
		RunID:     runID,
		CrawledAt: now,
	})
	return nil
}

func (w *Writer) CommitHeavy(ctx context.Context, rec crawler.HeavyRecord, runID string) error {
	now := w.clock.Now()

	snapshotURI, err := w.storeSnapshot(ctx, rec)
	if err != nil {
		return fmt.Errorf("persisting snapshot for %s/%s: %w", rec.TargetID, rec.ItemID, err)
	}

	item := crawler.Item{
		TargetID:     rec.TargetID,
		ID:           rec.ItemID,
		URL:          rec.URL,
		Title:        rec.Title,
		PostedText:   rec.PostedText,
		PostedAt:     rec.PostedAt,
		AudioTitle:   rec.AudioTitle,
		AudioAuthor:  rec.AudioAuthor,
		LikeCount:    rec.LikeCount,
		CommentCount: rec.CommentCount,
		SaveCount:    rec.SaveCount,
		SnapshotURI:  snapshotURI,
		Algorithm:    rec.Algorithm,
		CrawledAt:    now,
	}
	if err := w.ledger.RecordHeavy(ctx, item); err != nil {
		return fmt.Errorf("persisting heavy record %s/%s: %w", rec.TargetID, rec.ItemID, err)
	}

	w.publish(ctx, crawler.RecordEvent{
		Kind:      "heavy",
		ItemID:    rec.ItemID,
		TargetID:  rec.TargetID,
		URL:       rec.URL,
		Count:     rec.LikeCount,
		RunID:     runID,
		CrawledAt: now,
	})
	return nil
}

// storeSnapshot writes the comment snapshot blob keyed by content hash, so
// re-sweeping an unchanged item re-writes the same object.
func (w *Writer) storeSnapshot(ctx context.Context, rec crawler.HeavyRecord) (string, error) {
	if w.blobs == nil || len(rec.CommentSnapshot) == 0 {
		return "", nil
	}
	digest, err := w.hasher.Hash(rec.CommentSnapshot)
	if err != nil {
		return "", fmt.Errorf("hashing snapshot: %w", err)
	}
	blobPath := path.Join(w.cfg.SnapshotPrefix, rec.TargetID, rec.ItemID, digest+".json")
	uri, err := w.blobs.PutObject(ctx, blobPath, "application/json", bytes.NewReader(rec.CommentSnapshot))
	if err != nil {
		return "", err
	}
	return uri, nil
}

func (w *Writer) publish(ctx context.Context, event crawler.RecordEvent) {
	if w.publisher == nil {
		return
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		crawler.PublishFailures.Inc()
		w.logger.Warn("event publish failed",
			zap.String("kind", event.Kind),
			zap.String("item_id", event.ItemID),
			zap.Error(err))
	}
}

var _ crawler.Committer = (*Writer)(nil)
