package crawler

import (
	"context"
	"io"
	"time"
)

// Ledger is the durable tracker of per-target and per-item crawl progress.
// All operations are single-target scoped; implementations need key-level
// isolation only, never cross-target transactions.
type Ledger interface {
	// GetTarget loads one target or returns ErrNotFound.
	GetTarget(ctx context.Context, id string) (Target, error)
	// DueTargets returns alive targets in scheduling order: never-crawled
	// first, then priority descending, then oldest last_crawled first.
	DueTargets(ctx context.Context, limit int) ([]Target, error)

	// UpsertItem inserts or merges light data keyed by (TargetID, ID).
	// New rows start with needs_update=true; merging never clobbers heavy
	// fields and never resets an existing row's needs_update flag.
	UpsertItem(ctx context.Context, item Item) error
	// RecordHeavy merges heavy fields into the item row and clears
	// needs_update. This is the only operation that clears the flag.
	RecordHeavy(ctx context.Context, item Item) error
	// ItemsNeedingUpdate returns the target's alive items whose
	// needs_update flag is set, computed live from stored state.
	ItemsNeedingUpdate(ctx context.Context, targetID string) ([]Item, error)

	// MarkSwept clears the target's is_new flag.
	MarkSwept(ctx context.Context, targetID string) error
	// TouchLastCrawled moves last_crawled forward; earlier timestamps are
	// ignored so the value stays monotonic.
	TouchLastCrawled(ctx context.Context, targetID string, when time.Time) error
	// MarkTargetDead flags a deleted or private account so schedulers stop
	// assigning it.
	MarkTargetDead(ctx context.Context, targetID string) error
	// MarkItemDead flags an item whose detail page reports it gone.
	MarkItemDead(ctx context.Context, targetID, itemID string) error

	// SaveDisplayName stores the target's collected display name.
	SaveDisplayName(ctx context.Context, targetID, name string) error
	// SaveFollowerSnapshot upserts one day's follower reading keyed by
	// (target, collection date).
	SaveFollowerSnapshot(ctx context.Context, snap FollowerSnapshot) error
}

// Session is one logical browser session bound to a single target crawl.
// All calls are blocking and possibly slow; implementations enforce per-call
// timeouts. The session holds navigational state, so callers never share one
// across concurrent target crawls.
type Session interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	// ScrollUntil scrolls in steps until pred reports done or maxIterations
	// is reached. The bound guards against infinite-scroll surfaces that
	// never terminate.
	ScrollUntil(ctx context.Context, pred func(ctx context.Context) (bool, error), maxIterations int) error
	Click(ctx context.Context, selector string) error
	Exists(ctx context.Context, selector string) (bool, error)
	Text(ctx context.Context, selector string) (string, error)
	// Attr returns the attribute value; the bool is false when the element
	// or attribute is absent.
	Attr(ctx context.Context, selector, attr string) (string, bool, error)
	Count(ctx context.Context, selector string) (int, error)
	Close()
}

// Extractor is the extraction strategy over a rendered session: it navigates
// between a target's listing and item detail views and yields records.
// Implementations are swappable per site; record shapes are stable.
type Extractor interface {
	// OpenListing navigates to the target's page. Returns ErrTargetNotFound
	// when the account is deleted or private.
	OpenListing(ctx context.Context, targetID string) error
	// Profile reads target-level metadata from an open listing.
	Profile(ctx context.Context) (Profile, error)
	// CollectLight scrolls the open listing until no new items appear
	// (bounded) and returns one light record per visible item, with no
	// duplicate canonical URLs in a single call. Re-callable after a fresh
	// OpenListing.
	CollectLight(ctx context.Context, maxItems int) ([]LightRecord, error)

	// OpenDetail opens an item's detail view, preferring the in-listing
	// click affordance; it reports direct=true when it had to navigate by
	// URL instead. Returns ErrItemNotFound for deleted items.
	OpenDetail(ctx context.Context, itemURL string) (direct bool, err error)
	// OpenDetailDirect always navigates by canonical URL.
	OpenDetailDirect(ctx context.Context, itemURL string) error
	// CollectHeavy extracts the heavy record from an open detail view.
	CollectHeavy(ctx context.Context) (HeavyRecord, error)
	// CloseDetail returns to the listing via the close affordance. A
	// failure means the listing state is lost; callers fall back to
	// OpenDetailDirect for the rest of the sweep.
	CloseDetail(ctx context.Context) error
}

// ExtractorFactory scopes extractor (and session) acquisition per target:
// acquired entering NAVIGATING, released at DONE or FAILED.
type ExtractorFactory interface {
	Acquire(ctx context.Context) (Extractor, func(), error)
}

// Committer is the dual-sink writer: durable persistence first, then
// best-effort event publication.
type Committer interface {
	CommitLight(ctx context.Context, rec LightRecord, runID string) error
	CommitHeavy(ctx context.Context, rec HeavyRecord, runID string) error
}

// Publisher pushes events to the downstream stream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
	Close() error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Prober cheaply checks target existence before a browser tab is spent.
type Prober interface {
	Exists(ctx context.Context, targetID string) (bool, error)
}

// Hasher computes digests for blob keying.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
