package pii

import (
	"sort"
	"strings"
)

// maxMaskedLength bounds the masked context stored in event payloads. When
// masking would exceed it, the result is truncated and terminated with the
// ellipsis sentinel.
const (
	maxMaskedLength  = 5000
	ellipsisSentinel = "…"
)

// MaskContent replaces every detected span in source with a [TYPE] token.
// Entities are applied in ascending start order and positions are clamped to
// the source bounds, so tokens still appear when a detector reports positions
// outside the text.
func MaskContent(source string, entities []*DetectedEntity) string {
	if source == "" {
		return ""
	}
	if len(entities) == 0 {
		return truncateMasked(source)
	}

	ordered := make([]*DetectedEntity, len(entities))
	copy(ordered, entities)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartPosition < ordered[j].StartPosition
	})

	var b strings.Builder
	b.Grow(len(source))
	cursor := 0
	for _, e := range ordered {
		start := clamp(e.StartPosition, 0, len(source))
		end := clamp(e.EndPosition, 0, len(source))
		if end < start {
			end = start
		}
		if start < cursor {
			// Overlapping span; the earlier token already covers it.
			if end > cursor {
				cursor = end
			}
			continue
		}
		b.WriteString(source[cursor:start])
		b.WriteString("[")
		b.WriteString(strings.ToUpper(strings.TrimSpace(e.PiiType)))
		b.WriteString("]")
		cursor = end
	}
	b.WriteString(source[cursor:])

	return truncateMasked(b.String())
}

func truncateMasked(s string) string {
	if len(s) <= maxMaskedLength {
		return s
	}
	// Cut on a rune boundary below the limit, then append the sentinel.
	cut := maxMaskedLength
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsisSentinel
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
