package prefilter

import (
	"bytes"
	"testing"

	"github.com/streamregex/streamregex/internal/pkg/automaton"
	"github.com/streamregex/streamregex/internal/pkg/syntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, sources ...string) (*automaton.Automaton, []*syntax.Pattern) {
	t.Helper()
	inputs := make([]automaton.Input, len(sources))
	asts := make([]*syntax.Pattern, len(sources))
	for i, src := range sources {
		pat, err := syntax.Parse(src, syntax.Flags{})
		require.NoError(t, err)
		inputs[i] = automaton.Input{ID: src, Pattern: pat}
		asts[i] = pat
	}
	a, err := automaton.Compile(inputs, automaton.DefaultConfig())
	require.NoError(t, err)
	return a, asts
}

func TestDerive_LiteralMode(t *testing.T) {
	a, asts := compile(t, "malware", "trojan[0-9]+")

	plan := Derive(a, asts)
	assert.Equal(t, ModeLiteral, plan.Mode())

	stats := plan.Stats()
	assert.Equal(t, 2, stats.LiteralCount)
	assert.Equal(t, 7, stats.MaxLiteralLen)
	assert.NotEmpty(t, stats.Summary())
}

func TestDerive_ClassStartDisablesLiterals(t *testing.T) {
	a, asts := compile(t, "[a-z]+virus")

	plan := Derive(a, asts)
	assert.NotEqual(t, ModeLiteral, plan.Mode())
	assert.Equal(t, ModeByteSet, plan.Mode())
	assert.Greater(t, plan.Stats().SkippableBytes, 0)
}

func TestDerive_AnchoredOnlySetSkipsEverything(t *testing.T) {
	a, asts := compile(t, "^HELO")

	plan := Derive(a, asts)
	// Once parked, a fully anchored set can never match again; every
	// byte value is skippable.
	assert.Equal(t, ModeByteSet, plan.Mode())
	assert.Equal(t, 256, plan.Stats().SkippableBytes)
	assert.Equal(t, 10, plan.Skip([]byte("irrelevant")))
}

func TestSkip_ByteSetStopsAtCandidate(t *testing.T) {
	a, asts := compile(t, "[mv]alware")

	plan := Derive(a, asts)
	require.Equal(t, ModeByteSet, plan.Mode())

	// Neither 'm' nor 'v' appears before offset 6.
	assert.Equal(t, 6, plan.Skip([]byte("xx xx malware")))
	assert.Equal(t, 0, plan.Skip([]byte("valware")))
}

func TestSkip_SingleSeekByteUsesIndexByte(t *testing.T) {
	a, asts := compile(t, "a[0-9]+")

	plan := Derive(a, asts)
	require.Equal(t, ModeByteSet, plan.Mode())
	require.Equal(t, 255, plan.Stats().SkippableBytes)

	assert.Equal(t, 4, plan.Skip([]byte("xyz a9 end")))
	assert.Equal(t, 7, plan.Skip([]byte("nothing")))
	assert.Equal(t, 0, plan.Skip([]byte("a1")))
}

func TestSkip_LiteralJumpsToHit(t *testing.T) {
	a, asts := compile(t, "malware")

	plan := Derive(a, asts)
	require.Equal(t, ModeLiteral, plan.Mode())

	data := []byte("................malware....")
	assert.Equal(t, 16, plan.Skip(data))
}

func TestSkip_LiteralRespectsChunkEndMargin(t *testing.T) {
	a, asts := compile(t, "malware")

	plan := Derive(a, asts)
	require.Equal(t, ModeLiteral, plan.Mode())

	// No hit in the chunk: skip must stop maxLiteralLen-1 bytes short of
	// the end, where a literal could begin and complete next chunk.
	data := []byte("................")
	assert.Equal(t, len(data)-6, plan.Skip(data))

	// Chunk shorter than the margin: nothing is skippable.
	assert.Equal(t, 0, plan.Skip([]byte("malw")))
}

func TestSkip_LiteralHitInsideMargin(t *testing.T) {
	a, asts := compile(t, "malware")

	plan := Derive(a, asts)
	data := []byte("..........malware")
	// The hit starts before the margin boundary, so the jump goes to it.
	assert.Equal(t, 10, plan.Skip(data))
}

func TestSession_MatchesPlanSkipAtEveryPosition(t *testing.T) {
	a, asts := compile(t, "malware")

	plan := Derive(a, asts)
	require.Equal(t, ModeLiteral, plan.Mode())

	data := []byte("..malware...malware......")
	sess := plan.NewSession()
	sess.Begin(data)
	for pos := 0; pos < len(data); pos++ {
		assert.Equal(t, plan.Skip(data[pos:]), sess.Skip(data, pos),
			"position %d", pos)
	}
}

func TestSession_DenseHitsScanChunkOnce(t *testing.T) {
	a, asts := compile(t, "needle[0-9]")

	plan := Derive(a, asts)
	require.Equal(t, ModeLiteral, plan.Mode())

	// Every 7th byte starts the literal but the pattern never completes,
	// so the executor re-parks right after each candidate. All queries
	// must come from the single iterator pass begun with the chunk.
	data := bytes.Repeat([]byte("needleY"), 1024)
	sess := plan.NewSession()

	allocs := testing.AllocsPerRun(10, func() {
		sess.Begin(data)
		for pos := 0; pos < len(data); {
			n := sess.Skip(data, pos)
			if n == 0 {
				n = 1
			}
			pos += n
		}
	})
	// The searcher yields each of the 1024 candidates once. Rescanning
	// the tail per query would multiply that by the candidate count.
	assert.LessOrEqual(t, allocs, 2048.0)
}

func TestSession_ByteSetDelegates(t *testing.T) {
	a, asts := compile(t, "[mv]alware")

	plan := Derive(a, asts)
	require.Equal(t, ModeByteSet, plan.Mode())

	data := []byte("xx xx malware")
	sess := plan.NewSession()
	sess.Begin(data)
	assert.Equal(t, 6, sess.Skip(data, 0))
	assert.Equal(t, 0, sess.Skip(data, 6))
	assert.Equal(t, len(data)-7, sess.Skip(data, 7))
}

func TestDerive_CaseInsensitiveLiterals(t *testing.T) {
	pat, err := syntax.Parse("Malware", syntax.Flags{CaseInsensitive: true})
	require.NoError(t, err)
	a, err := automaton.Compile(
		[]automaton.Input{{ID: "ci", Pattern: pat}}, automaton.DefaultConfig())
	require.NoError(t, err)

	plan := Derive(a, []*syntax.Pattern{pat})
	require.Equal(t, ModeLiteral, plan.Mode())

	// The searcher must hit regardless of input case.
	assert.Equal(t, 3, plan.Skip([]byte("...MALWARE...")))
	assert.Equal(t, 3, plan.Skip([]byte("...malware...")))
}

func TestDerive_ShortLiteralFallsBack(t *testing.T) {
	// One-byte leading literals are not worth a literal plan.
	a, asts := compile(t, "a[0-9]+")

	plan := Derive(a, asts)
	assert.Equal(t, ModeByteSet, plan.Mode())
}

func TestLeadingLiteral_Extraction(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{name: "plain literal", source: "malware", want: "malware"},
		{name: "literal then class", source: "cmd[0-9]", want: "cmd"},
		{name: "single byte class extends", source: "ab[c]d", want: "abcd"},
		{name: "repeat with min", source: "abc+", want: "abc"},
		{name: "optional head stops", source: "a?bc", want: ""},
		{name: "alternation stops", source: "(ab|cd)x", want: ""},
		{name: "group literal", source: "(abc)de", want: "abcde"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pat, err := syntax.Parse(tt.source, syntax.Flags{})
			require.NoError(t, err)
			lit, _ := leadingLiteral(pat.Root)
			assert.Equal(t, tt.want, string(lit))
		})
	}
}
