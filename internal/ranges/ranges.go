// Package ranges collapses integer positions into minimal contiguous ranges.
// The scanner uses it to turn matched character positions into highlight
// spans, and the admin surface uses it to accept removal by index range.
package ranges

import (
	"fmt"
	"sort"
	"strings"
)

// Range is an inclusive [Low, High] interval.
type Range struct {
	Low  int
	High int
}

// Merge collapses positions into an ordered, minimal, non-overlapping list
// of inclusive ranges. Positions differing by one land in the same range.
// Duplicates are tolerated.
func Merge(positions []int) []Range {
	if len(positions) == 0 {
		return nil
	}

	sorted := append([]int(nil), positions...)
	sort.Ints(sorted)

	var merged []Range
	current := Range{Low: sorted[0], High: sorted[0]}
	for _, p := range sorted[1:] {
		if p <= current.High+1 {
			if p > current.High {
				current.High = p
			}
			continue
		}
		merged = append(merged, current)
		current = Range{Low: p, High: p}
	}
	return append(merged, current)
}

// FromSpans expands half-open [start, end) spans into the positions they
// cover, ready for Merge.
func FromSpans(spans [][2]int) []int {
	var positions []int
	for _, span := range spans {
		for i := span[0]; i < span[1]; i++ {
			positions = append(positions, i)
		}
	}
	return positions
}

// Format renders ranges as "1-3, 5, 9" for command feedback.
func Format(merged []Range) string {
	parts := make([]string, 0, len(merged))
	for _, r := range merged {
		if r.Low == r.High {
			parts = append(parts, fmt.Sprintf("%d", r.Low))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", r.Low, r.High))
		}
	}
	return strings.Join(parts, ", ")
}

// Bold wraps each range of rune positions in ** markers, leaving the rest of
// the text untouched. Ranges outside the text are clamped.
func Bold(text []rune, merged []Range) string {
	var b strings.Builder
	next := 0
	for _, r := range merged {
		if r.Low >= len(text) || r.High < next {
			continue
		}
		low := r.Low
		if low < next {
			low = next
		}
		high := r.High
		if high >= len(text) {
			high = len(text) - 1
		}
		b.WriteString(string(text[next:low]))
		b.WriteString("**")
		b.WriteString(string(text[low : high+1]))
		b.WriteString("**")
		next = high + 1
	}
	b.WriteString(string(text[next:]))
	return b.String()
}
