// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// AlgorithmHeadless tags records with the extraction strategy version that
// produced them, so downstream consumers can reason about provenance.
const AlgorithmHeadless = "chromedp-headless-1"

// Target is an account whose listing we crawl. Targets are created by an
// external discovery process; the core only updates them.
type Target struct {
	// ID is the stable account identity (the username segment of its URL).
	ID string `json:"id"`
	// DisplayName is the human-readable name collected during light sync.
	DisplayName string `json:"display_name,omitempty"`
	// IsNew is true until the first full heavy sweep completes.
	IsNew bool `json:"is_new"`
	// Alive is false once the account is found deleted or private.
	Alive bool `json:"alive"`
	// Priority orders scheduling; higher crawls sooner.
	Priority int `json:"priority"`
	// LastCrawled is nil until the first crawl attempt.
	LastCrawled *time.Time `json:"last_crawled,omitempty"`
}

// Item is a content unit discovered on a Target's listing. Identity is
// (TargetID, ID); the ID is derived from the item's canonical URL.
type Item struct {
	TargetID string `json:"target_id"`
	ID       string `json:"id"`
	URL      string `json:"url"`

	// NeedsUpdate is true while the item has light data but no heavy data.
	NeedsUpdate bool `json:"needs_update"`
	// Alive is false once the item's detail page reports it gone.
	Alive bool `json:"alive"`

	// Light fields, from the listing.
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	AltText      string `json:"alt_text,omitempty"`
	CountText    string `json:"count_text,omitempty"`
	Count        *int64 `json:"count,omitempty"`

	// Heavy fields, from the detail page.
	Title        string     `json:"title,omitempty"`
	PostedText   string     `json:"posted_text,omitempty"`
	PostedAt     *time.Time `json:"posted_at,omitempty"`
	AudioTitle   string     `json:"audio_title,omitempty"`
	AudioAuthor  string     `json:"audio_author,omitempty"`
	LikeCount    *int64     `json:"like_count,omitempty"`
	CommentCount *int64     `json:"comment_count,omitempty"`
	SaveCount    *int64     `json:"save_count,omitempty"`
	SnapshotURI  string     `json:"snapshot_uri,omitempty"`

	Algorithm string    `json:"algorithm,omitempty"`
	CrawledAt time.Time `json:"crawled_at"`
}

// LightRecord is the cheap per-item record extracted from a listing page.
type LightRecord struct {
	TargetID     string
	ItemID       string
	URL          string
	ThumbnailURL string
	AltText      string
	CountText    string
	Count        *int64
	Algorithm    string
}

// HeavyRecord is the expensive per-item record extracted from a detail page.
type HeavyRecord struct {
	TargetID   string
	ItemID     string
	URL        string
	Title      string
	PostedText string
	PostedAt   *time.Time

	AudioText   string
	AudioTitle  string
	AudioAuthor string

	LikeCountText    string
	LikeCount        *int64
	CommentCountText string
	CommentCount     *int64
	SaveCountText    string
	SaveCount        *int64

	// CommentSnapshot is the serialized comment view captured alongside the
	// record. Stored as a blob; only its URI lands in the ledger.
	CommentSnapshot []byte

	Algorithm string
}

// Profile holds target-level metadata collected during light sync.
type Profile struct {
	DisplayName   string
	FollowerText  string
	FollowerCount *int64
}

// RecordEvent is the schema-stable payload published for every committed
// record. Consumers dedupe on (ItemID, CrawledAt) if they need idempotence.
type RecordEvent struct {
	Kind      string    `json:"kind"` // "light" or "heavy"
	ItemID    string    `json:"item_id"`
	TargetID  string    `json:"target_id"`
	URL       string    `json:"url"`
	Count     *int64    `json:"count,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	CrawledAt time.Time `json:"crawled_at"`
}

// FollowerSnapshot is one day's follower reading for a target.
type FollowerSnapshot struct {
	TargetID    string
	CollectedOn time.Time // date granularity; upsert key with TargetID
	Text        string
	Count       *int64
}
