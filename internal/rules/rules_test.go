package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wordwatch/internal/matcher"
)

func intPtr(v int) *int { return &v }

func TestCompile_RejectsEmptyPattern(t *testing.T) {
	_, err := Compile(WatchRule{Pattern: "", MatchType: MatchWord})
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
}

func TestCompile_RejectsCasedWord(t *testing.T) {
	_, err := Compile(WatchRule{Pattern: "cat", MatchType: MatchWord, CaseSensitive: true})
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
}

func TestCompile_RejectsBadRegex(t *testing.T) {
	_, err := Compile(WatchRule{Pattern: "([", MatchType: MatchRegex})
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
}

func TestCompile_RejectsSeverityOutOfRange(t *testing.T) {
	_, err := Compile(WatchRule{Pattern: "cat", MatchType: MatchWord, BanSeverity: intPtr(8)})
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
}

func TestCompiledRule_Dispatch(t *testing.T) {
	text := matcher.PrepareText("I have a cat, a catalog, and a Cat")

	word, err := Compile(WatchRule{Pattern: "cat", MatchType: MatchWord})
	require.NoError(t, err)
	assert.Len(t, word.FindMatches(text), 2)

	contains, err := Compile(WatchRule{Pattern: "cat", MatchType: MatchContains})
	require.NoError(t, err)
	assert.Len(t, contains.FindMatches(text), 3)

	cased, err := Compile(WatchRule{Pattern: "Cat", MatchType: MatchContains, CaseSensitive: true})
	require.NoError(t, err)
	assert.Len(t, cased.FindMatches(text), 1)

	regex, err := Compile(WatchRule{Pattern: "cat(alog)?", MatchType: MatchRegex})
	require.NoError(t, err)
	assert.Len(t, regex.FindMatches(text), 3)
}

func TestCompile_RegexHonorsCaseFlag(t *testing.T) {
	text := matcher.PrepareText("I have a cat")

	insensitive, err := Compile(WatchRule{Pattern: "Cat", MatchType: MatchRegex})
	require.NoError(t, err)
	assert.Len(t, insensitive.FindMatches(text), 1)

	sensitive, err := Compile(WatchRule{Pattern: "Cat", MatchType: MatchRegex, CaseSensitive: true})
	require.NoError(t, err)
	assert.Empty(t, sensitive.FindMatches(text))
}

func TestParseSettings(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    RuleSettings
		wantErr string
	}{
		{
			name:  "full settings",
			input: "del,type.word,ping.mods,ban.3",
			want: RuleSettings{
				AutoDelete:  true,
				MatchType:   MatchWord,
				PingGroup:   "mods",
				BanSeverity: intPtr(3),
			},
		},
		{
			name:  "minimal",
			input: "type.contains",
			want:  RuleSettings{MatchType: MatchContains},
		},
		{
			name:  "cased contains",
			input: "cased,type.contains",
			want:  RuleSettings{CaseSensitive: true, MatchType: MatchContains},
		},
		{
			name:  "explicit boolean values",
			input: "del.off,cased.no,type.regex",
			want:  RuleSettings{MatchType: MatchRegex},
		},
		{
			name:  "ping cleared by falsy token",
			input: "type.word,ping.off",
			want:  RuleSettings{MatchType: MatchWord},
		},
		{
			name:  "bare ban flag",
			input: "type.word,ban",
			want:  RuleSettings{MatchType: MatchWord, BanSeverity: intPtr(0)},
		},
		{
			name:  "ban cleared by falsy token",
			input: "type.word,ban.off",
			want:  RuleSettings{MatchType: MatchWord},
		},
		{
			name:  "whitespace tolerated",
			input: " del , type.word ",
			want:  RuleSettings{AutoDelete: true, MatchType: MatchWord},
		},
		{
			name:    "cased word rejected",
			input:   "cased,type.word",
			wantErr: "incompatible",
		},
		{
			name:    "type required",
			input:   "del",
			wantErr: "type is required",
		},
		{
			name:    "unknown key",
			input:   "type.word,bogus",
			wantErr: "unknown setting",
		},
		{
			name:    "unknown match type",
			input:   "type.fuzzy",
			wantErr: "unknown match type",
		},
		{
			name:    "ban out of range",
			input:   "type.word,ban.9",
			wantErr: "out of range",
		},
		{
			name:    "malformed del value",
			input:   "del.maybe,type.word",
			wantErr: "boolean",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSettings(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
