package strings

import (
	"strings"
)

// minToolDescriptionLen is the floor truncateLen is clamped to: below
// this there's no room for content plus "...".
const minToolDescriptionLen = 4

// TruncateToolDescription collapses a tool description to one line and
// bounds it to truncateLen runes, used by the Tool Registry (C3) when
// building the tools/list payload (spec.md §4.3) so one verbose upstream
// description can't blow out the listing agents see.
//
// Newlines and repeated whitespace are collapsed to single spaces first;
// if the result still exceeds truncateLen it is cut on a rune boundary
// and suffixed with "...". truncateLen below minToolDescriptionLen is
// clamped up to it.
func TruncateToolDescription(s string, truncateLen int) string {
	if truncateLen < minToolDescriptionLen {
		truncateLen = minToolDescriptionLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > truncateLen {
		return string(runes[:truncateLen-3]) + "..."
	}
	return s
}
