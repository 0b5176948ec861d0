package logging

import (
	"strconv"
	"unicode/utf8"
)

// MaxLogFieldLength bounds string fields such as vendor error payloads.
const MaxLogFieldLength = 512

// Truncate shortens s to at most MaxLogFieldLength bytes.
func Truncate(s string) string {
	return TruncateN(s, MaxLogFieldLength)
}

// TruncateN shortens s to at most n bytes and marks the cut with "...".
// The cut never splits a UTF-8 sequence.
func TruncateN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// TruncateSlice keeps the first maxItems entries and summarizes the rest.
func TruncateSlice(items []string, maxItems int) []string {
	if len(items) <= maxItems {
		return items
	}
	out := make([]string, 0, maxItems+1)
	out = append(out, items[:maxItems]...)
	return append(out, "... and "+strconv.Itoa(len(items)-maxItems)+" more")
}
