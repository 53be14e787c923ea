// Package extract turns rendered listing and detail pages into records.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clipstream/clipcrawler/internal/crawler"
)

// Config tunes a Strategy independent of the markup it reads.
type Config struct {
	// BaseURL is the site root, e.g. "https://www.example.com".
	BaseURL string
	// MaxScrollIterations bounds listing scrolling.
	MaxScrollIterations int
	// MaxComments bounds the comment snapshot captured per detail page.
	MaxComments int
}

func (c *Config) applyDefaults() {
	if c.MaxScrollIterations <= 0 {
		c.MaxScrollIterations = 30
	}
	if c.MaxComments <= 0 {
		c.MaxComments = 20
	}
}

// Strategy extracts records from one target's pages over a single session.
// It is stateful: OpenListing pins the target, and detail navigation assumes
// the session is where the last call left it.
type Strategy struct {
	session crawler.Session
	sel     Selectors
	cfg     Config
	clock   crawler.Clock
	logger  *zap.Logger

	targetID   string
	listingURL string
}

func NewStrategy(session crawler.Session, sel Selectors, cfg Config, clock crawler.Clock, logger *zap.Logger) *Strategy {
	cfg.applyDefaults()
	return &Strategy{
		session: session,
		sel:     sel,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
	}
}

// ListingURL builds the canonical listing URL for a target.
func ListingURL(baseURL, targetID string) string {
	return strings.TrimRight(baseURL, "/") + "/@" + targetID
}

func (s *Strategy) OpenListing(ctx context.Context, targetID string) error {
	url := ListingURL(s.cfg.BaseURL, targetID)
	if err := s.session.Navigate(ctx, url); err != nil {
		return err
	}
	gone, err := s.session.Exists(ctx, s.sel.ErrorBanner)
	if err != nil {
		return fmt.Errorf("checking error banner: %w", err)
	}
	if gone {
		return fmt.Errorf("listing for %s: %w", targetID, crawler.ErrTargetNotFound)
	}
	s.targetID = targetID
	s.listingURL = url
	return nil
}

func (s *Strategy) Profile(ctx context.Context) (crawler.Profile, error) {
	var p crawler.Profile
	if name, err := s.session.Text(ctx, s.sel.DisplayName); err == nil {
		p.DisplayName = strings.TrimSpace(name)
	}
	text, err := s.session.Text(ctx, s.sel.FollowerCount)
	if err != nil {
		if p.DisplayName == "" {
			return crawler.Profile{}, fmt.Errorf("reading profile: %w", err)
		}
		return p, nil
	}
	p.FollowerText = strings.TrimSpace(text)
	if n, ok := crawler.ParseCount(p.FollowerText); ok {
		p.FollowerCount = &n
	}
	return p, nil
}

// CollectLight scrolls the listing until the item count stops growing (or
// maxItems is reached), then reads one record per item slot. Duplicate
// canonical URLs collapse to a single record.
func (s *Strategy) CollectLight(ctx context.Context, maxItems int) ([]crawler.LightRecord, error) {
	prev, err := s.session.Count(ctx, s.sel.Item)
	if err != nil {
		return nil, fmt.Errorf("counting listing items: %w", err)
	}
	err = s.session.ScrollUntil(ctx, func(ctx context.Context) (bool, error) {
		n, err := s.session.Count(ctx, s.sel.Item)
		if err != nil {
			return false, err
		}
		if maxItems > 0 && n >= maxItems {
			return true, nil
		}
		grown := n > prev
		prev = n
		return !grown, nil
	}, s.cfg.MaxScrollIterations)
	if err != nil {
		return nil, fmt.Errorf("scrolling listing: %w", err)
	}

	n, err := s.session.Count(ctx, s.sel.Item)
	if err != nil {
		return nil, fmt.Errorf("counting listing items: %w", err)
	}

	seen := make(map[string]struct{}, n)
	records := make([]crawler.LightRecord, 0, n)
	// Pinned slots sit at the head of the listing regardless of age, so
	// they never count against the newest-items budget.
	budget := 0
	for i := 1; i <= n; i++ {
		rec, pinned, ok := s.readListingSlot(ctx, i)
		if !ok {
			continue
		}
		if _, dup := seen[rec.URL]; dup {
			continue
		}
		seen[rec.URL] = struct{}{}
		records = append(records, rec)
		if !pinned {
			budget++
		}
		if maxItems > 0 && budget >= maxItems {
			break
		}
	}
	return records, nil
}

func (s *Strategy) readListingSlot(ctx context.Context, i int) (rec crawler.LightRecord, pinned, ok bool) {
	pinned, _ = s.session.Exists(ctx, s.sel.itemPinned(i))
	href, ok, err := s.session.Attr(ctx, s.sel.itemAnchor(i), "href")
	if err != nil || !ok || href == "" {
		if err != nil {
			s.logger.Warn("listing slot unreadable", zap.Int("slot", i), zap.Error(err))
		}
		return crawler.LightRecord{}, pinned, false
	}
	url := s.absolutize(href)
	itemID, targetID, err := crawler.ItemIDFromURL(url)
	if err != nil {
		s.logger.Warn("listing slot has unparseable link", zap.Int("slot", i), zap.String("href", href))
		return crawler.LightRecord{}, pinned, false
	}
	if targetID == "" {
		targetID = s.targetID
	}

	rec = crawler.LightRecord{
		TargetID:  targetID,
		ItemID:    itemID,
		URL:       url,
		Algorithm: crawler.AlgorithmHeadless,
	}
	if thumb, ok, _ := s.session.Attr(ctx, s.sel.itemThumb(i), "src"); ok {
		rec.ThumbnailURL = thumb
	}
	if alt, ok, _ := s.session.Attr(ctx, s.sel.itemThumb(i), "alt"); ok {
		rec.AltText = alt
	}
	if text, err := s.session.Text(ctx, s.sel.itemViews(i)); err == nil {
		rec.CountText = strings.TrimSpace(text)
		if c, ok := crawler.ParseCount(rec.CountText); ok {
			rec.Count = &c
		}
	}
	return rec, pinned, true
}

// OpenDetail opens an item preferring the in-listing anchor, which keeps the
// listing alive underneath the overlay. When the anchor is gone from the page
// it navigates by URL and reports direct=true.
func (s *Strategy) OpenDetail(ctx context.Context, itemURL string) (bool, error) {
	itemID, _, err := crawler.ItemIDFromURL(itemURL)
	if err != nil {
		return false, err
	}
	anchor := fmt.Sprintf(`a[href*="/video/%s"]`, itemID)
	present, err := s.session.Exists(ctx, anchor)
	if err != nil {
		return false, err
	}
	if !present {
		return true, s.OpenDetailDirect(ctx, itemURL)
	}
	if err := s.session.Click(ctx, anchor); err != nil {
		return true, s.OpenDetailDirect(ctx, itemURL)
	}
	current, err := s.session.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	if !strings.Contains(current, itemID) {
		return true, s.OpenDetailDirect(ctx, itemURL)
	}
	return false, s.checkDetailAlive(ctx, itemURL)
}

func (s *Strategy) OpenDetailDirect(ctx context.Context, itemURL string) error {
	if err := s.session.Navigate(ctx, itemURL); err != nil {
		return err
	}
	return s.checkDetailAlive(ctx, itemURL)
}

func (s *Strategy) checkDetailAlive(ctx context.Context, itemURL string) error {
	gone, err := s.session.Exists(ctx, s.sel.DetailUnavailable)
	if err != nil {
		return fmt.Errorf("checking detail availability: %w", err)
	}
	if gone {
		return fmt.Errorf("detail %s: %w", itemURL, crawler.ErrItemNotFound)
	}
	return nil
}

func (s *Strategy) CollectHeavy(ctx context.Context) (crawler.HeavyRecord, error) {
	current, err := s.session.CurrentURL(ctx)
	if err != nil {
		return crawler.HeavyRecord{}, err
	}
	itemID, targetID, err := crawler.ItemIDFromURL(current)
	if err != nil {
		return crawler.HeavyRecord{}, fmt.Errorf("detail identity: %w", err)
	}

	rec := crawler.HeavyRecord{
		TargetID:  targetID,
		ItemID:    itemID,
		URL:       current,
		Algorithm: crawler.AlgorithmHeadless,
	}

	if title, err := s.session.Text(ctx, s.sel.DetailTitle); err == nil {
		rec.Title = strings.TrimSpace(title)
	}
	if posted, err := s.session.Text(ctx, s.sel.DetailPosted); err == nil {
		rec.PostedText = strings.TrimSpace(posted)
		if ts, ok := crawler.ParseTimestamp(rec.PostedText, s.clock.Now()); ok {
			rec.PostedAt = &ts
		}
	}
	if audio, err := s.session.Text(ctx, s.sel.DetailAudio); err == nil {
		rec.AudioText = strings.TrimSpace(audio)
		rec.AudioTitle, rec.AudioAuthor = crawler.SplitAudioText(rec.AudioText)
	}

	rec.LikeCountText, rec.LikeCount = s.readCount(ctx, s.sel.DetailLikeCount)
	rec.CommentCountText, rec.CommentCount = s.readCount(ctx, s.sel.DetailComment)
	rec.SaveCountText, rec.SaveCount = s.readCount(ctx, s.sel.DetailSaveCount)

	if snap, err := s.commentSnapshot(ctx); err != nil {
		s.logger.Warn("comment snapshot failed", zap.String("item_id", itemID), zap.Error(err))
	} else {
		rec.CommentSnapshot = snap
	}
	return rec, nil
}

func (s *Strategy) readCount(ctx context.Context, selector string) (string, *int64) {
	text, err := s.session.Text(ctx, selector)
	if err != nil {
		return "", nil
	}
	text = strings.TrimSpace(text)
	if n, ok := crawler.ParseCount(text); ok {
		return text, &n
	}
	return text, nil
}

// commentSnapshot captures the visible top-level comments as a JSON document.
func (s *Strategy) commentSnapshot(ctx context.Context) ([]byte, error) {
	var comments []string
	for i := 1; i <= s.cfg.MaxComments; i++ {
		text, err := s.session.Text(ctx, s.sel.commentText(i))
		if err != nil {
			break
		}
		comments = append(comments, strings.TrimSpace(text))
	}
	if len(comments) == 0 {
		return nil, nil
	}
	doc := struct {
		CollectedAt time.Time `json:"collected_at"`
		Comments    []string  `json:"comments"`
	}{
		CollectedAt: s.clock.Now().UTC(),
		Comments:    comments,
	}
	return json.Marshal(doc)
}

// CloseDetail dismisses the overlay and verifies the listing is back.
func (s *Strategy) CloseDetail(ctx context.Context) error {
	if err := s.session.Click(ctx, s.sel.DetailClose); err != nil {
		return fmt.Errorf("%w: closing detail: %v", crawler.ErrNavigation, err)
	}
	current, err := s.session.CurrentURL(ctx)
	if err != nil {
		return err
	}
	if s.listingURL != "" && !strings.HasPrefix(current, s.listingURL) {
		return fmt.Errorf("%w: close landed on %s", crawler.ErrNavigation, current)
	}
	return nil
}

func (s *Strategy) absolutize(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/" + strings.TrimLeft(href, "/")
}

var _ crawler.Extractor = (*Strategy)(nil)
