// Package rules defines watch rules, the settings mini-language that
// configures them, and compilation of persisted records into executable
// matchers.
package rules

import (
	"fmt"
	"regexp"

	"wordwatch/internal/matcher"
)

// MatchType selects the matching semantics of a rule.
type MatchType int

const (
	MatchWord MatchType = iota
	MatchContains
	MatchRegex
)

func (t MatchType) String() string {
	switch t {
	case MatchWord:
		return "word"
	case MatchContains:
		return "contains"
	case MatchRegex:
		return "regex"
	}
	return fmt.Sprintf("MatchType(%d)", int(t))
}

// ParseMatchType recognizes the values accepted by the settings
// mini-language's type key.
func ParseMatchType(s string) (MatchType, error) {
	switch s {
	case "word":
		return MatchWord, nil
	case "contains":
		return MatchContains, nil
	case "regex":
		return MatchRegex, nil
	}
	return 0, fmt.Errorf("unknown match type %q", s)
}

// MaxBanSeverity is the largest number of days of message history the
// platform purges on ban.
const MaxBanSeverity = 7

// MaxPatternLength bounds stored patterns.
const MaxPatternLength = 1000

// WatchRule is the persisted form of a rule. (CommunityID, Pattern) pairs
// are unique per community.
type WatchRule struct {
	ID            int64
	CommunityID   string
	Pattern       string
	MatchType     MatchType
	CaseSensitive bool
	AutoDelete    bool
	BanSeverity   *int
	PingGroupID   *int64
}

// CompileError reports a rule that cannot produce a working matcher. Rules
// that fail to compile are rejected at creation and, if found persisted,
// deleted during cache load rather than kept in a broken state.
type CompileError struct {
	Pattern string
	Reason  string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("cannot compile pattern %q: %s", e.Pattern, e.Reason)
}

// CompiledRule pairs a WatchRule with its executable matcher.
type CompiledRule struct {
	WatchRule

	word matcher.Pattern
	re   *regexp.Regexp
}

// Compile validates a rule record and builds its matcher.
func Compile(rule WatchRule) (CompiledRule, error) {
	if rule.Pattern == "" {
		return CompiledRule{}, &CompileError{Pattern: rule.Pattern, Reason: "empty pattern"}
	}
	if len(rule.Pattern) > MaxPatternLength {
		return CompiledRule{}, &CompileError{Pattern: rule.Pattern, Reason: "pattern too long"}
	}
	if rule.BanSeverity != nil && (*rule.BanSeverity < 0 || *rule.BanSeverity > MaxBanSeverity) {
		return CompiledRule{}, &CompileError{
			Pattern: rule.Pattern,
			Reason:  fmt.Sprintf("ban severity %d out of range", *rule.BanSeverity),
		}
	}

	switch rule.MatchType {
	case MatchWord:
		if rule.CaseSensitive {
			return CompiledRule{}, &CompileError{
				Pattern: rule.Pattern,
				Reason:  "word matching is always case-folded",
			}
		}
		return CompiledRule{
			WatchRule: rule,
			word:      matcher.PreparePattern(rule.Pattern),
		}, nil
	case MatchContains:
		return CompiledRule{WatchRule: rule}, nil
	case MatchRegex:
		expr := rule.Pattern
		if !rule.CaseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return CompiledRule{}, &CompileError{Pattern: rule.Pattern, Reason: err.Error()}
		}
		return CompiledRule{WatchRule: rule, re: re}, nil
	}

	return CompiledRule{}, &CompileError{
		Pattern: rule.Pattern,
		Reason:  fmt.Sprintf("unknown match type %d", int(rule.MatchType)),
	}
}

// FindMatches runs the rule's matcher over preprocessed text. This is the
// single dispatch point over match types.
func (r CompiledRule) FindMatches(text matcher.Text) []matcher.Span {
	switch r.MatchType {
	case MatchWord:
		return text.MatchWord(r.word)
	case MatchContains:
		return text.MatchContains(r.Pattern, r.CaseSensitive)
	case MatchRegex:
		return text.MatchRegex(r.re)
	}
	return nil
}
