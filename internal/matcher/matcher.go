// Package matcher implements the span-producing text matchers used by the
// scanner: a word-boundary matcher that sees through inline formatting,
// repeated substring search, and regex delegation.
package matcher

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Span is a half-open [Start, End) interval of rune offsets into the
// original message content.
type Span struct {
	Start int
	End   int
}

// wordMarkers delimit words; a word match must be bounded by these (or by
// the ends of the text) on both sides.
const wordMarkers = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~ \t\n\r\v\f"

// formatMarkers are inline styling runes that never reset a partial match,
// so a pattern can match across markup embedded mid-word.
const formatMarkers = "*_|~"

func isWordMarker(r rune) bool {
	return strings.ContainsRune(wordMarkers, r)
}

func isFormatMarker(r rune) bool {
	return strings.ContainsRune(formatMarkers, r)
}

// Text is message content preprocessed once per scan and shared by every
// rule evaluated against the message.
type Text struct {
	raw    string
	folded []rune
}

func PrepareText(s string) Text {
	return Text{
		raw:    s,
		folded: []rune(strings.ToLower(s)),
	}
}

func (t Text) Raw() string {
	return t.raw
}

// Pattern is a word pattern preprocessed the same way as Text. Word matching
// is inherently case-folded.
type Pattern struct {
	runes []rune
}

func PreparePattern(s string) Pattern {
	return Pattern{runes: []rune(strings.ToLower(s))}
}

// MatchWord returns every occurrence of pattern that sits on word boundaries.
// The scan walks the text once with a pattern cursor; formatting runes inside
// a partial match do not reset the cursor, so "word" matches "w*o*rd". Any
// other mismatch resets the cursor and tentative start.
func (t Text) MatchWord(p Pattern) []Span {
	if len(p.runes) == 0 || len(p.runes) > len(t.folded) {
		return nil
	}

	var found []Span
	start := -1
	index := 0

	for along, char := range t.folded {
		if char == p.runes[index] {
			if start == -1 {
				start = along
			}
			index++
			if index == len(p.runes) {
				leftOk := start == 0 || isWordMarker(t.folded[start-1])
				rightOk := along+1 == len(t.folded) || isWordMarker(t.folded[along+1])
				if leftOk && rightOk {
					found = append(found, Span{Start: start, End: along + 1})
				}
				index = 0
				start = -1
			}
		} else if index != 0 && !isFormatMarker(char) {
			index = 0
			start = -1
		}
	}

	return found
}

// MatchContains returns non-overlapping substring occurrences left to right,
// advancing past each match's end before searching again.
func (t Text) MatchContains(pattern string, caseSensitive bool) []Span {
	hay := t.raw
	if !caseSensitive {
		hay = strings.ToLower(hay)
		pattern = strings.ToLower(pattern)
	}
	if pattern == "" {
		return nil
	}

	var found []Span
	offset := 0
	for {
		pos := strings.Index(hay[offset:], pattern)
		if pos == -1 {
			break
		}
		start := offset + pos
		end := start + len(pattern)
		found = append(found, Span{
			Start: utf8.RuneCountInString(hay[:start]),
			End:   utf8.RuneCountInString(hay[:end]),
		})
		offset = end
	}
	return found
}

// MatchRegex returns all non-overlapping matches of a pattern compiled at
// rule-compile time. Byte offsets from the regexp engine are converted to
// rune offsets so all three matchers report spans in the same coordinates.
func (t Text) MatchRegex(re *regexp.Regexp) []Span {
	var found []Span
	for _, m := range re.FindAllStringIndex(t.raw, -1) {
		found = append(found, Span{
			Start: utf8.RuneCountInString(t.raw[:m[0]]),
			End:   utf8.RuneCountInString(t.raw[:m[1]]),
		})
	}
	return found
}
