package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clipstream/clipcrawler/internal/crawler"
	"github.com/clipstream/clipcrawler/internal/hash/sha256"
	ledgermem "github.com/clipstream/clipcrawler/internal/ledger/memory"
	pubmem "github.com/clipstream/clipcrawler/internal/publisher/memory"
	storemem "github.com/clipstream/clipcrawler/internal/storage/memory"
)

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

func newTestWriter(ledger *ledgermem.Store, blobs *storemem.BlobStore, pub *pubmem.Publisher) *Writer {
	return NewWriter(ledger, blobs, pub, sha256.New(), stubClock{now: time.Unix(1700000000, 0).UTC()}, zap.NewNop(), Config{Topic: "records"})
}

func TestCommitLight(t *testing.T) {
	t.Parallel()

	ledger := ledgermem.NewStore()
	pub := pubmem.New()
	w := newTestWriter(ledger, storemem.NewBlobStore(), pub)

	count := int64(1500)
	rec := crawler.LightRecord{
		TargetID:  "alice",
		ItemID:    "7301",
		URL:       "https://example.com/@alice/video/7301",
		CountText: "1.5K",
		Count:     &count,
		Algorithm: crawler.AlgorithmHeadless,
	}
	require.NoError(t, w.CommitLight(context.Background(), rec, "run-1"))

	item, ok := ledger.Item("alice", "7301")
	require.True(t, ok)
	require.True(t, item.NeedsUpdate)
	require.Equal(t, count, *item.Count)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "records", msgs[0].Topic)
	event := msgs[0].Payload.(crawler.RecordEvent)
	require.Equal(t, "light", event.Kind)
	require.Equal(t, "run-1", event.RunID)
	require.Equal(t, count, *event.Count)
}

func TestCommitHeavy_StoresSnapshotBlob(t *testing.T) {
	t.Parallel()

	ledger := ledgermem.NewStore()
	require.NoError(t, ledger.UpsertItem(context.Background(), crawler.Item{TargetID: "alice", ID: "7301"}))

	blobs := storemem.NewBlobStore()
	pub := pubmem.New()
	w := newTestWriter(ledger, blobs, pub)

	likes := int64(1500)
	rec := crawler.HeavyRecord{
		TargetID:        "alice",
		ItemID:          "7301",
		URL:             "https://example.com/@alice/video/7301",
		Title:           "morning run",
		LikeCount:       &likes,
		CommentSnapshot: []byte(`{"comments":["first!"]}`),
		Algorithm:       crawler.AlgorithmHeadless,
	}
	require.NoError(t, w.CommitHeavy(context.Background(), rec, "run-1"))

	item, ok := ledger.Item("alice", "7301")
	require.True(t, ok)
	require.False(t, item.NeedsUpdate)
	require.Equal(t, "morning run", item.Title)
	require.NotEmpty(t, item.SnapshotURI)

	paths := blobs.Paths()
	require.Len(t, paths, 1)
	require.Contains(t, paths[0], "snapshots/alice/7301/")
	require.Equal(t, "memory://"+paths[0], item.SnapshotURI)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	event := msgs[0].Payload.(crawler.RecordEvent)
	require.Equal(t, "heavy", event.Kind)
	require.Equal(t, likes, *event.Count)
}

func TestCommitTwice_SameRecordIsIdempotentButRepublishes(t *testing.T) {
	t.Parallel()

	ledger := ledgermem.NewStore()
	blobs := storemem.NewBlobStore()
	pub := pubmem.New()
	w := newTestWriter(ledger, blobs, pub)

	count := int64(1500)
	light := crawler.LightRecord{
		TargetID:  "alice",
		ItemID:    "7301",
		URL:       "https://example.com/@alice/video/7301",
		CountText: "1.5K",
		Count:     &count,
		Algorithm: crawler.AlgorithmHeadless,
	}
	require.NoError(t, w.CommitLight(context.Background(), light, "run-1"))
	require.NoError(t, w.CommitLight(context.Background(), light, "run-1"))

	likes := int64(42)
	heavy := crawler.HeavyRecord{
		TargetID:        "alice",
		ItemID:          "7301",
		URL:             light.URL,
		Title:           "morning run",
		LikeCount:       &likes,
		CommentSnapshot: []byte(`{"comments":["first!"]}`),
		Algorithm:       crawler.AlgorithmHeadless,
	}
	require.NoError(t, w.CommitHeavy(context.Background(), heavy, "run-2"))
	first, ok := ledger.Item("alice", "7301")
	require.True(t, ok)

	require.NoError(t, w.CommitHeavy(context.Background(), heavy, "run-2"))
	second, ok := ledger.Item("alice", "7301")
	require.True(t, ok)

	// The ledger row and the content-keyed blob are unchanged; only the
	// stream sees the repeat.
	require.Equal(t, first, second)
	require.Len(t, blobs.Paths(), 1)

	msgs := pub.Messages()
	require.Len(t, msgs, 4)
	for _, m := range msgs[:2] {
		require.Equal(t, "light", m.Payload.(crawler.RecordEvent).Kind)
	}
	for _, m := range msgs[2:] {
		require.Equal(t, "heavy", m.Payload.(crawler.RecordEvent).Kind)
	}
}

func TestCommitHeavy_BlobFailureIsPersistenceFailure(t *testing.T) {
	t.Parallel()

	ledger := ledgermem.NewStore()
	require.NoError(t, ledger.UpsertItem(context.Background(), crawler.Item{TargetID: "alice", ID: "7301"}))

	blobs := storemem.NewBlobStore()
	blobs.FailWith(errors.New("bucket unavailable"))
	w := newTestWriter(ledger, blobs, pubmem.New())

	rec := crawler.HeavyRecord{
		TargetID:        "alice",
		ItemID:          "7301",
		CommentSnapshot: []byte(`{}`),
	}
	require.Error(t, w.CommitHeavy(context.Background(), rec, "run-1"))

	// The flag survives so the item is retried.
	item, _ := ledger.Item("alice", "7301")
	require.True(t, item.NeedsUpdate)
}

func TestCommitLight_PublishFailureDoesNotFailCommit(t *testing.T) {
	t.Parallel()

	ledger := ledgermem.NewStore()
	pub := pubmem.New()
	pub.FailWith(errors.New("broker down"))
	w := newTestWriter(ledger, storemem.NewBlobStore(), pub)

	rec := crawler.LightRecord{TargetID: "alice", ItemID: "7301", URL: "u"}
	require.NoError(t, w.CommitLight(context.Background(), rec, "run-1"))

	_, ok := ledger.Item("alice", "7301")
	require.True(t, ok)
	require.Empty(t, pub.Messages())
}

func TestCommitHeavy_MissingItemFails(t *testing.T) {
	t.Parallel()

	w := newTestWriter(ledgermem.NewStore(), storemem.NewBlobStore(), pubmem.New())
	err := w.CommitHeavy(context.Background(), crawler.HeavyRecord{TargetID: "alice", ItemID: "nope"}, "run-1")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}
