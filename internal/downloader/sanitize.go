package downloader

import (
	"regexp"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	fallbackStem = "video"
	maxStemLen   = 200
	filler       = "_"
)

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// SanitizeTitle turns a title into a filename stem made only of ASCII
// letters, digits and underscores. Accented letters keep their base letter.
func SanitizeTitle(title string) string {
	stem := nonAlnum.ReplaceAllString(removeAccents(title), filler)
	if stem == "" {
		return fallbackStem
	}
	if len(stem) > maxStemLen {
		stem = stem[:maxStemLen]
	}
	return stem
}

// Truncate cuts an already sanitized stem to n characters
func Truncate(stem string, n int) string {
	if len(stem) > n {
		return stem[:n]
	}
	return stem
}

func removeAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}
