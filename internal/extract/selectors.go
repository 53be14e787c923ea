package extract

import "fmt"

// Selectors names every DOM hook the strategy touches. Patterns containing a
// %d verb are indexed per listing position (1-based, CSS nth-of-type).
// Keeping them in one config struct means a markup change is a config change,
// not a code change.
type Selectors struct {
	// Listing page.
	ErrorBanner   string
	DisplayName   string
	FollowerCount string
	Item          string
	ItemAnchor    string
	ItemThumb     string
	ItemViews     string
	ItemPinned    string

	// Detail page.
	DetailUnavailable string
	DetailClose       string
	DetailTitle       string
	DetailPosted      string
	DetailAudio       string
	DetailLikeCount   string
	DetailComment     string
	DetailSaveCount   string
	CommentText       string
}

// DefaultSelectors matches the site's data-e2e annotated markup.
func DefaultSelectors() Selectors {
	return Selectors{
		ErrorBanner:   `[data-e2e="error-page"]`,
		DisplayName:   `[data-e2e="user-subtitle"]`,
		FollowerCount: `[data-e2e="followers-count"]`,
		Item:          `[data-e2e="user-post-item"]`,
		ItemAnchor:    `[data-e2e="user-post-item-list"] > div:nth-of-type(%d) a`,
		ItemThumb:     `[data-e2e="user-post-item-list"] > div:nth-of-type(%d) img`,
		ItemViews:     `[data-e2e="user-post-item-list"] > div:nth-of-type(%d) [data-e2e="video-views"]`,
		ItemPinned:    `[data-e2e="user-post-item-list"] > div:nth-of-type(%d) [data-e2e="video-card-badge"]`,

		DetailUnavailable: `[data-e2e="browse-video-unavailable"]`,
		DetailClose:       `[data-e2e="browse-close"]`,
		DetailTitle:       `[data-e2e="browse-video-desc"]`,
		DetailPosted:      `[data-e2e="browser-nickname"] span:nth-of-type(3)`,
		DetailAudio:       `[data-e2e="browse-music"]`,
		DetailLikeCount:   `[data-e2e="browse-like-count"]`,
		DetailComment:     `[data-e2e="browse-comment-count"]`,
		DetailSaveCount:   `[data-e2e="undefined-count"]`,
		CommentText:       `[data-e2e="comment-list"] > div:nth-of-type(%d) [data-e2e="comment-level-1"]`,
	}
}

func (s Selectors) itemAnchor(i int) string { return fmt.Sprintf(s.ItemAnchor, i) }
func (s Selectors) itemThumb(i int) string  { return fmt.Sprintf(s.ItemThumb, i) }
func (s Selectors) itemViews(i int) string  { return fmt.Sprintf(s.ItemViews, i) }
func (s Selectors) itemPinned(i int) string { return fmt.Sprintf(s.ItemPinned, i) }
func (s Selectors) commentText(i int) string {
	return fmt.Sprintf(s.CommentText, i)
}
