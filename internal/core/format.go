// Package core holds small helpers shared by the controller's commands.
package core

import (
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// FormatSize renders a byte count in SI units ("4.1 kB", "12 MB"), the way
// Finder reports sizes. Negative counts render as zero.
func FormatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.Bytes(uint64(bytes))
}

// FormatCount renders n with thousands separators.
func FormatCount(n int) string {
	return humanize.Comma(int64(n))
}

// ShortenPath trims the front of p so it fits in max runes, keeping the
// more specific end.
func ShortenPath(p string, max int) string {
	if max < 2 {
		max = 2
	}
	n := utf8.RuneCountInString(p)
	if n <= max {
		return p
	}
	runes := []rune(p)
	return "…" + string(runes[n-max+1:])
}
