package ruleset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamregex/streamregex/internal/pkg/automaton"
	"github.com/streamregex/streamregex/internal/pkg/syntax"
)

const sampleYAML = `
name: malware-indicators
patterns:
  - id: mal-generic
    pattern: "malware"
    description: generic indicator
  - id: exploit-ci
    pattern: "EXPLOIT[0-9]{2,4}"
    case_insensitive: true
  - id: smtp-greet
    pattern: "HELO "
    anchor: start
    first_match_only: true
  - id: legacy
    pattern: "oldsig"
    enabled: false
`

func TestParse_Sample(t *testing.T) {
	f, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "malware-indicators", f.Name)
	require.Len(t, f.Patterns, 4)

	assert.True(t, f.Patterns[0].IsEnabled())
	assert.True(t, f.Patterns[1].CaseInsensitive)
	assert.Equal(t, "start", f.Patterns[2].Anchor)
	assert.True(t, f.Patterns[2].FirstMatchOnly)
	assert.False(t, f.Patterns[3].IsEnabled())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		file File
		want string
	}{
		{
			name: "empty",
			file: File{Name: "empty"},
			want: "no patterns",
		},
		{
			name: "missing id",
			file: File{Patterns: []*Rule{{Pattern: "abc"}}},
			want: "no id",
		},
		{
			name: "duplicate id",
			file: File{Patterns: []*Rule{
				{ID: "a", Pattern: "x"},
				{ID: "a", Pattern: "y"},
			}},
			want: "duplicate",
		},
		{
			name: "missing pattern",
			file: File{Patterns: []*Rule{{ID: "a"}}},
			want: "no pattern text",
		},
		{
			name: "bad anchor",
			file: File{Patterns: []*Rule{{ID: "a", Pattern: "x", Anchor: "middle"}}},
			want: "unknown anchor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.file)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompileSet_SkipsDisabled(t *testing.T) {
	f, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	set, err := CompileSet(f, automaton.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, "malware-indicators", set.Name)
	assert.Equal(t, 3, set.Automaton.PatternCount())

	ids := make([]string, set.Automaton.PatternCount())
	for i := range ids {
		ids[i] = set.Automaton.Pattern(i).ID
	}
	assert.NotContains(t, ids, "legacy")
}

func TestCompileSet_AppliesFlags(t *testing.T) {
	f, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	set, err := CompileSet(f, automaton.DefaultConfig())
	require.NoError(t, err)

	byID := make(map[string]automaton.PatternInfo)
	for i := 0; i < set.Automaton.PatternCount(); i++ {
		info := set.Automaton.Pattern(i)
		byID[info.ID] = info
	}

	assert.True(t, byID["exploit-ci"].Flags.CaseInsensitive)
	assert.True(t, byID["smtp-greet"].AnchorStart)
	assert.True(t, byID["smtp-greet"].Flags.FirstMatchOnly)
	assert.False(t, byID["mal-generic"].AnchorStart)
}

func TestCompileSet_BadPatternFailsWholeSet(t *testing.T) {
	f := &File{
		Name: "broken",
		Patterns: []*Rule{
			{ID: "good", Pattern: "abc"},
			{ID: "bad", Pattern: `a(?=look)`},
		},
	}
	require.NoError(t, Validate(f))

	set, err := CompileSet(f, automaton.DefaultConfig())
	assert.Nil(t, set)
	require.Error(t, err)
	assert.True(t, errors.Is(err, syntax.ErrUnsupported))
	assert.Contains(t, err.Error(), `"bad"`)
}

func TestCompileSet_BudgetFailure(t *testing.T) {
	f := &File{
		Name: "heavy",
		Patterns: []*Rule{
			{ID: "blowup", Pattern: "[ab]*a[ab]{8}"},
		},
	}
	cfg := automaton.DefaultConfig()
	cfg.StateBudget = 128

	_, err := CompileSet(f, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, automaton.ErrStateBudget))
}

func TestLoadAndWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sets", "rules.yaml")

	f, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, WriteFile(path, f))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, f.Name, loaded.Name)
	require.Len(t, loaded.Patterns, 4)
	assert.Equal(t, f.Patterns[1].Pattern, loaded.Patterns[1].Pattern)
	assert.False(t, loaded.Patterns[3].IsEnabled())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
