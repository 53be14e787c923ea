package crawler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Count suffix multipliers. Latin suffixes follow western grouping, the CJK
// suffixes are the ten-thousand (万) and hundred-million (億) scales.
var countSuffixes = map[string]int64{
	"K": 1_000,
	"M": 1_000_000,
	"G": 1_000_000_000,
	"B": 1_000_000_000,
	"万": 10_000,
	"億": 100_000_000,
}

// ParseCount normalizes an abbreviated count ("3,450", "1.5K", "1.2万") to an
// integer, truncating any fractional remainder. The second return is false
// when the text is not parseable; that is never an error condition for the
// caller, the value is simply absent.
func ParseCount(text string) (int64, bool) {
	text = strings.TrimSpace(strings.ReplaceAll(text, ",", ""))
	if text == "" {
		return 0, false
	}

	if v, err := strconv.ParseFloat(text, 64); err == nil {
		return int64(v), true
	}

	suffix, width := utf8.DecodeLastRuneInString(text)
	mult, ok := countSuffixes[strings.ToUpper(string(suffix))]
	if !ok {
		return 0, false
	}
	prefix := text[:len(text)-width]
	v, err := strconv.ParseFloat(prefix, 64)
	if err != nil {
		return 0, false
	}
	return int64(v * float64(mult)), true
}

// Relative-time suffixes in display order of magnitude.
var relativeUnits = []struct {
	suffix string
	unit   time.Duration
}{
	{"秒前", time.Second},
	{"分前", time.Minute},
	{"時間前", time.Hour},
	{"日前", 24 * time.Hour},
	{"週間前", 7 * 24 * time.Hour},
}

// ParseTimestamp resolves a posted-at display string against a base time.
// Supported forms: relative ("3時間前"), month-day ("3-25", rolled to the
// previous year when the month is ahead of base), and full date
// ("2024-03-25"). Date forms keep the base's clock time and location.
func ParseTimestamp(text string, base time.Time) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}

	for _, ru := range relativeUnits {
		if !strings.HasSuffix(text, ru.suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(text, ru.suffix))
		if err != nil {
			return time.Time{}, false
		}
		return base.Add(-time.Duration(n) * ru.unit), true
	}

	parts := strings.Split(text, "-")
	switch len(parts) {
	case 2:
		month, errM := strconv.Atoi(parts[0])
		day, errD := strconv.Atoi(parts[1])
		if errM != nil || errD != nil || month < 1 || month > 12 {
			return time.Time{}, false
		}
		year := base.Year()
		if month > int(base.Month()) {
			year--
		}
		return time.Date(year, time.Month(month), day,
			base.Hour(), base.Minute(), 0, 0, base.Location()), true
	case 3:
		year, errY := strconv.Atoi(parts[0])
		month, errM := strconv.Atoi(parts[1])
		day, errD := strconv.Atoi(parts[2])
		if errY != nil || errM != nil || errD != nil || month < 1 || month > 12 {
			return time.Time{}, false
		}
		return time.Date(year, time.Month(month), day,
			base.Hour(), base.Minute(), 0, 0, base.Location()), true
	}
	return time.Time{}, false
}

// ItemIDFromURL derives the (item, target) identity pair from a canonical
// detail URL of the form .../@username/video/1234567890. The derivation is
// deterministic: the same URL always yields the same identity.
func ItemIDFromURL(rawURL string) (itemID, targetID string, err error) {
	path := rawURL
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimRight(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) < 3 {
		return "", "", fmt.Errorf("derive item identity from %q: too few path segments", rawURL)
	}
	itemID = parts[len(parts)-1]
	targetID = strings.TrimPrefix(parts[len(parts)-3], "@")
	if itemID == "" || targetID == "" {
		return "", "", fmt.Errorf("derive item identity from %q: empty segment", rawURL)
	}
	return itemID, targetID, nil
}

// ThumbnailEssence extracts the stable object name from a CDN thumbnail URL,
// dropping query strings, extensions, and size variants. Falls back to the
// input when no essence can be extracted.
func ThumbnailEssence(rawURL string) string {
	path := rawURL
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	name := path[strings.LastIndexByte(path, '/')+1:]
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	if i := strings.IndexByte(name, '~'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return rawURL
	}
	return name
}

// SplitAudioText separates "title - artist" audio attribution text. The last
// separator wins so titles containing " - " survive intact.
func SplitAudioText(text string) (title, author string) {
	idx := strings.LastIndex(text, " - ")
	if idx < 0 {
		return text, ""
	}
	return text[:idx], text[idx+3:]
}

// CompareItemIDs orders item identities descending-ready: numeric IDs compare
// numerically (longer means larger for equal-length-free snowflakes), with a
// lexicographic fallback for non-numeric IDs. Returns -1, 0, or 1.
func CompareItemIDs(a, b string) int {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
