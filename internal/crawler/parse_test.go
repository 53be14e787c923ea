package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"3,450", 3450, true},
		{"718", 718, true},
		{"0", 0, true},
		{"1.5K", 1500, true},
		{"2M", 2_000_000, true},
		{"1.1B", 1_100_000_000, true},
		{"1.1G", 1_100_000_000, true},
		{"1.2万", 12_000, true},
		{"3億", 300_000_000, true},
		{" 12.5K ", 12_500, true},
		{"1.5k", 1500, true},
		{"", 0, false},
		{"--", 0, false},
		{"abc", 0, false},
		{"K", 0, false},
	}
	for _, tc := range tests {
		got, ok := ParseCount(tc.in)
		require.Equal(t, tc.ok, ok, "input %q", tc.in)
		require.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestParseTimestamp_Relative(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 25, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"30秒前", base.Add(-30 * time.Second)},
		{"5分前", base.Add(-5 * time.Minute)},
		{"3時間前", base.Add(-3 * time.Hour)},
		{"2日前", base.Add(-48 * time.Hour)},
		{"1週間前", base.Add(-7 * 24 * time.Hour)},
	}
	for _, tc := range tests {
		got, ok := ParseTimestamp(tc.in, base)
		require.True(t, ok, "input %q", tc.in)
		require.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestParseTimestamp_MonthDayRollsBackYear(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 25, 15, 30, 0, 0, time.UTC)

	got, ok := ParseTimestamp("2-14", base)
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 2, 14, 15, 30, 0, 0, time.UTC), got)

	// A month ahead of the base month must belong to the previous year.
	got, ok = ParseTimestamp("11-2", base)
	require.True(t, ok)
	require.Equal(t, time.Date(2023, 11, 2, 15, 30, 0, 0, time.UTC), got)
}

func TestParseTimestamp_FullDate(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 25, 15, 30, 0, 0, time.UTC)

	got, ok := ParseTimestamp("2022-12-31", base)
	require.True(t, ok)
	require.Equal(t, time.Date(2022, 12, 31, 15, 30, 0, 0, time.UTC), got)

	_, ok = ParseTimestamp("yesterday", base)
	require.False(t, ok)
	_, ok = ParseTimestamp("13-40", base)
	require.False(t, ok)
}

func TestItemIDFromURL(t *testing.T) {
	t.Parallel()

	itemID, targetID, err := ItemIDFromURL("https://example.com/@alice/video/7301234567890123456")
	require.NoError(t, err)
	require.Equal(t, "7301234567890123456", itemID)
	require.Equal(t, "alice", targetID)

	// Query strings and trailing slashes never change the identity.
	again, againTarget, err := ItemIDFromURL("https://example.com/@alice/video/7301234567890123456/?lang=ja")
	require.NoError(t, err)
	require.Equal(t, itemID, again)
	require.Equal(t, targetID, againTarget)

	_, _, err = ItemIDFromURL("https://example.com/")
	require.Error(t, err)
}

func TestThumbnailEssence(t *testing.T) {
	t.Parallel()

	require.Equal(t, "obj123", ThumbnailEssence("https://cdn.example.com/img/obj123~c5_300x400.jpeg?x-expires=9999"))
	require.Equal(t, "obj123", ThumbnailEssence("https://cdn.example.com/img/obj123.webp"))
	require.Equal(t, "plain", ThumbnailEssence("plain"))
}

func TestSplitAudioText(t *testing.T) {
	t.Parallel()

	title, author := SplitAudioText("Song Name - Artist")
	require.Equal(t, "Song Name", title)
	require.Equal(t, "Artist", author)

	// Last separator wins.
	title, author = SplitAudioText("A - B - C")
	require.Equal(t, "A - B", title)
	require.Equal(t, "C", author)

	title, author = SplitAudioText("original sound")
	require.Equal(t, "original sound", title)
	require.Empty(t, author)
}

func TestCompareItemIDs(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, CompareItemIDs("7302", "7301"))
	require.Equal(t, -1, CompareItemIDs("999", "1000"))
	require.Equal(t, 0, CompareItemIDs("7301", "7301"))
	require.Equal(t, -1, CompareItemIDs("abc", "abd"))
}
