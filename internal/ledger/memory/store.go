// Package memory implements the crawl ledger in process memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clipstream/clipcrawler/internal/crawler"
)

// Store is an in-memory crawler.Ledger. Useful for local runs and tests;
// nothing survives a restart.
type Store struct {
	mu      sync.RWMutex
	targets map[string]crawler.Target
	items   map[string]map[string]crawler.Item
	history map[string]map[string]crawler.FollowerSnapshot
}

func NewStore() *Store {
	return &Store{
		targets: map[string]crawler.Target{},
		items:   map[string]map[string]crawler.Item{},
		history: map[string]map[string]crawler.FollowerSnapshot{},
	}
}

// AddTarget registers a target, used to seed local runs.
func (s *Store) AddTarget(t crawler.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[t.ID] = t
}

func (s *Store) GetTarget(_ context.Context, id string) (crawler.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[id]
	if !ok {
		return crawler.Target{}, fmt.Errorf("target %s: %w", id, crawler.ErrNotFound)
	}
	return t, nil
}

func (s *Store) DueTargets(_ context.Context, limit int) ([]crawler.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alive := make([]crawler.Target, 0, len(s.targets))
	for _, t := range s.targets {
		if t.Alive {
			alive = append(alive, t)
		}
	}
	sort.SliceStable(alive, func(i, j int) bool {
		a, b := alive[i], alive[j]
		if (a.LastCrawled == nil) != (b.LastCrawled == nil) {
			return a.LastCrawled == nil
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.LastCrawled != nil && b.LastCrawled != nil && !a.LastCrawled.Equal(*b.LastCrawled) {
			return a.LastCrawled.Before(*b.LastCrawled)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(alive) > limit {
		alive = alive[:limit]
	}
	return alive, nil
}

func (s *Store) UpsertItem(_ context.Context, item crawler.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.items[item.TargetID]
	if bucket == nil {
		bucket = map[string]crawler.Item{}
		s.items[item.TargetID] = bucket
	}
	existing, ok := bucket[item.ID]
	if !ok {
		item.NeedsUpdate = true
		item.Alive = true
		bucket[item.ID] = item
		return nil
	}
	existing.URL = item.URL
	existing.Alive = true
	if item.ThumbnailURL != "" {
		existing.ThumbnailURL = item.ThumbnailURL
	}
	if item.AltText != "" {
		existing.AltText = item.AltText
	}
	existing.CountText = item.CountText
	if item.Count != nil {
		existing.Count = item.Count
	}
	existing.Algorithm = item.Algorithm
	existing.CrawledAt = item.CrawledAt
	bucket[item.ID] = existing
	return nil
}

func (s *Store) RecordHeavy(_ context.Context, item crawler.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.items[item.TargetID]
	existing, ok := bucket[item.ID]
	if !ok {
		return fmt.Errorf("item %s/%s: %w", item.TargetID, item.ID, crawler.ErrNotFound)
	}
	existing.Title = item.Title
	existing.PostedText = item.PostedText
	if item.PostedAt != nil {
		existing.PostedAt = item.PostedAt
	}
	existing.AudioTitle = item.AudioTitle
	existing.AudioAuthor = item.AudioAuthor
	if item.LikeCount != nil {
		existing.LikeCount = item.LikeCount
	}
	if item.CommentCount != nil {
		existing.CommentCount = item.CommentCount
	}
	if item.SaveCount != nil {
		existing.SaveCount = item.SaveCount
	}
	if item.SnapshotURI != "" {
		existing.SnapshotURI = item.SnapshotURI
	}
	existing.Algorithm = item.Algorithm
	existing.CrawledAt = item.CrawledAt
	existing.NeedsUpdate = false
	bucket[item.ID] = existing
	return nil
}

func (s *Store) ItemsNeedingUpdate(_ context.Context, targetID string) ([]crawler.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Item
	for _, it := range s.items[targetID] {
		if it.Alive && it.NeedsUpdate {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) MarkSwept(_ context.Context, targetID string) error {
	return s.updateTarget(targetID, func(t *crawler.Target) { t.IsNew = false })
}

func (s *Store) TouchLastCrawled(_ context.Context, targetID string, when time.Time) error {
	return s.updateTarget(targetID, func(t *crawler.Target) {
		if t.LastCrawled == nil || when.After(*t.LastCrawled) {
			t.LastCrawled = &when
		}
	})
}

func (s *Store) MarkTargetDead(_ context.Context, targetID string) error {
	return s.updateTarget(targetID, func(t *crawler.Target) { t.Alive = false })
}

func (s *Store) MarkItemDead(_ context.Context, targetID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.items[targetID]
	it, ok := bucket[itemID]
	if !ok {
		return fmt.Errorf("item %s/%s: %w", targetID, itemID, crawler.ErrNotFound)
	}
	it.Alive = false
	bucket[itemID] = it
	return nil
}

func (s *Store) SaveDisplayName(_ context.Context, targetID, name string) error {
	return s.updateTarget(targetID, func(t *crawler.Target) { t.DisplayName = name })
}

func (s *Store) SaveFollowerSnapshot(_ context.Context, snap crawler.FollowerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	days := s.history[snap.TargetID]
	if days == nil {
		days = map[string]crawler.FollowerSnapshot{}
		s.history[snap.TargetID] = days
	}
	days[snap.CollectedOn.Format("2006-01-02")] = snap
	return nil
}

// FollowerHistory returns the stored snapshots for a target, oldest first.
func (s *Store) FollowerHistory(targetID string) []crawler.FollowerSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	days := s.history[targetID]
	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]crawler.FollowerSnapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, days[k])
	}
	return out
}

// Item returns a stored item, used by tests and the read API.
func (s *Store) Item(targetID, itemID string) (crawler.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[targetID][itemID]
	return it, ok
}

func (s *Store) updateTarget(targetID string, fn func(*crawler.Target)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[targetID]
	if !ok {
		return fmt.Errorf("target %s: %w", targetID, crawler.ErrNotFound)
	}
	fn(&t)
	s.targets[targetID] = t
	return nil
}

var _ crawler.Ledger = (*Store)(nil)
