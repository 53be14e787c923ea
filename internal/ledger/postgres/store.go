// Package postgres implements the crawl ledger on Postgres.
//
// Expected schema:
//
//	CREATE TABLE targets (
//	    id            TEXT PRIMARY KEY,
//	    display_name  TEXT NOT NULL DEFAULT '',
//	    is_new        BOOLEAN NOT NULL DEFAULT TRUE,
//	    alive         BOOLEAN NOT NULL DEFAULT TRUE,
//	    priority      INTEGER NOT NULL DEFAULT 0,
//	    last_crawled  TIMESTAMPTZ
//	);
//
//	CREATE TABLE items (
//	    target_id     TEXT NOT NULL REFERENCES targets (id),
//	    id            TEXT NOT NULL,
//	    url           TEXT NOT NULL,
//	    needs_update  BOOLEAN NOT NULL DEFAULT TRUE,
//	    alive         BOOLEAN NOT NULL DEFAULT TRUE,
//	    thumbnail_url TEXT NOT NULL DEFAULT '',
//	    alt_text      TEXT NOT NULL DEFAULT '',
//	    count_text    TEXT NOT NULL DEFAULT '',
//	    count         BIGINT,
//	    title         TEXT NOT NULL DEFAULT '',
//	    posted_text   TEXT NOT NULL DEFAULT '',
//	    posted_at     TIMESTAMPTZ,
//	    audio_title   TEXT NOT NULL DEFAULT '',
//	    audio_author  TEXT NOT NULL DEFAULT '',
//	    like_count    BIGINT,
//	    comment_count BIGINT,
//	    save_count    BIGINT,
//	    snapshot_uri  TEXT NOT NULL DEFAULT '',
//	    algorithm     TEXT NOT NULL DEFAULT '',
//	    crawled_at    TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (target_id, id)
//	);
//
//	CREATE TABLE follower_history (
//	    target_id      TEXT NOT NULL REFERENCES targets (id),
//	    collected_on   DATE NOT NULL,
//	    follower_text  TEXT NOT NULL DEFAULT '',
//	    follower_count BIGINT,
//	    PRIMARY KEY (target_id, collected_on)
//	);
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clipstream/clipcrawler/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements crawler.Ledger on a pgx pool.
type Store struct {
	pool querier
}

// NewStore connects a pool using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

const targetColumns = "id, display_name, is_new, alive, priority, last_crawled"

func (s *Store) GetTarget(ctx context.Context, id string) (crawler.Target, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+targetColumns+" FROM targets WHERE id = $1", id)
	t, err := scanTarget(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Target{}, fmt.Errorf("target %s: %w", id, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Target{}, fmt.Errorf("loading target %s: %w", id, err)
	}
	return t, nil
}

func (s *Store) DueTargets(ctx context.Context, limit int) ([]crawler.Target, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+targetColumns+`
		FROM targets
		WHERE alive
		ORDER BY (last_crawled IS NULL) DESC, priority DESC, last_crawled ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing due targets: %w", err)
	}
	defer rows.Close()

	var out []crawler.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning target: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing due targets: %w", err)
	}
	return out, nil
}

// UpsertItem merges light data. A conflicting row keeps its needs_update flag
// and its heavy columns; seeing the item on a listing revives it.
func (s *Store) UpsertItem(ctx context.Context, item crawler.Item) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO items (
			target_id, id, url, needs_update, alive,
			thumbnail_url, alt_text, count_text, count, algorithm, crawled_at
		)
		VALUES ($1, $2, $3, TRUE, TRUE, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (target_id, id) DO UPDATE SET
			url           = EXCLUDED.url,
			alive         = TRUE,
			thumbnail_url = COALESCE(NULLIF(EXCLUDED.thumbnail_url, ''), items.thumbnail_url),
			alt_text      = COALESCE(NULLIF(EXCLUDED.alt_text, ''), items.alt_text),
			count_text    = EXCLUDED.count_text,
			count         = COALESCE(EXCLUDED.count, items.count),
			algorithm     = EXCLUDED.algorithm,
			crawled_at    = EXCLUDED.crawled_at`,
		item.TargetID, item.ID, item.URL,
		item.ThumbnailURL, item.AltText, item.CountText, item.Count,
		item.Algorithm, item.CrawledAt)
	if err != nil {
		return fmt.Errorf("upserting item %s/%s: %w", item.TargetID, item.ID, err)
	}
	return nil
}

// RecordHeavy merges heavy columns and clears needs_update.
func (s *Store) RecordHeavy(ctx context.Context, item crawler.Item) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE items SET
			title         = $3,
			posted_text   = $4,
			posted_at     = COALESCE($5, posted_at),
			audio_title   = $6,
			audio_author  = $7,
			like_count    = COALESCE($8, like_count),
			comment_count = COALESCE($9, comment_count),
			save_count    = COALESCE($10, save_count),
			snapshot_uri  = COALESCE(NULLIF($11, ''), snapshot_uri),
			needs_update  = FALSE,
			algorithm     = $12,
			crawled_at    = $13
		WHERE target_id = $1 AND id = $2`,
		item.TargetID, item.ID,
		item.Title, item.PostedText, item.PostedAt,
		item.AudioTitle, item.AudioAuthor,
		item.LikeCount, item.CommentCount, item.SaveCount, item.SnapshotURI,
		item.Algorithm, item.CrawledAt)
	if err != nil {
		return fmt.Errorf("recording heavy data for %s/%s: %w", item.TargetID, item.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s/%s: %w", item.TargetID, item.ID, crawler.ErrNotFound)
	}
	return nil
}

const itemColumns = `target_id, id, url, needs_update, alive,
	thumbnail_url, alt_text, count_text, count,
	title, posted_text, posted_at, audio_title, audio_author,
	like_count, comment_count, save_count, snapshot_uri, algorithm, crawled_at`

func (s *Store) ItemsNeedingUpdate(ctx context.Context, targetID string) ([]crawler.Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE target_id = $1 AND alive AND needs_update
		ORDER BY id`, targetID)
	if err != nil {
		return nil, fmt.Errorf("listing items needing update for %s: %w", targetID, err)
	}
	defer rows.Close()

	var out []crawler.Item
	for rows.Next() {
		var it crawler.Item
		err := rows.Scan(
			&it.TargetID, &it.ID, &it.URL, &it.NeedsUpdate, &it.Alive,
			&it.ThumbnailURL, &it.AltText, &it.CountText, &it.Count,
			&it.Title, &it.PostedText, &it.PostedAt, &it.AudioTitle, &it.AudioAuthor,
			&it.LikeCount, &it.CommentCount, &it.SaveCount,
			&it.SnapshotURI, &it.Algorithm, &it.CrawledAt)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing items needing update for %s: %w", targetID, err)
	}
	return out, nil
}

func (s *Store) MarkSwept(ctx context.Context, targetID string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE targets SET is_new = FALSE WHERE id = $1", targetID)
	if err != nil {
		return fmt.Errorf("marking target %s swept: %w", targetID, err)
	}
	return nil
}

// TouchLastCrawled keeps last_crawled monotonic: older timestamps are no-ops.
func (s *Store) TouchLastCrawled(ctx context.Context, targetID string, when time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE targets SET last_crawled = $2
		WHERE id = $1 AND (last_crawled IS NULL OR last_crawled < $2)`,
		targetID, when)
	if err != nil {
		return fmt.Errorf("touching target %s: %w", targetID, err)
	}
	return nil
}

func (s *Store) MarkTargetDead(ctx context.Context, targetID string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE targets SET alive = FALSE WHERE id = $1", targetID)
	if err != nil {
		return fmt.Errorf("marking target %s dead: %w", targetID, err)
	}
	return nil
}

func (s *Store) MarkItemDead(ctx context.Context, targetID, itemID string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE items SET alive = FALSE WHERE target_id = $1 AND id = $2",
		targetID, itemID)
	if err != nil {
		return fmt.Errorf("marking item %s/%s dead: %w", targetID, itemID, err)
	}
	return nil
}

func (s *Store) SaveDisplayName(ctx context.Context, targetID, name string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE targets SET display_name = $2 WHERE id = $1", targetID, name)
	if err != nil {
		return fmt.Errorf("saving display name for %s: %w", targetID, err)
	}
	return nil
}

// SaveFollowerSnapshot keeps one reading per target per day.
func (s *Store) SaveFollowerSnapshot(ctx context.Context, snap crawler.FollowerSnapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO follower_history (target_id, collected_on, follower_text, follower_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (target_id, collected_on) DO UPDATE SET
			follower_text  = EXCLUDED.follower_text,
			follower_count = EXCLUDED.follower_count`,
		snap.TargetID, snap.CollectedOn, snap.Text, snap.Count)
	if err != nil {
		return fmt.Errorf("saving follower snapshot for %s: %w", snap.TargetID, err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTarget(row scannable) (crawler.Target, error) {
	var t crawler.Target
	err := row.Scan(&t.ID, &t.DisplayName, &t.IsNew, &t.Alive, &t.Priority, &t.LastCrawled)
	if err != nil {
		return crawler.Target{}, err
	}
	return t, nil
}

var _ crawler.Ledger = (*Store)(nil)
