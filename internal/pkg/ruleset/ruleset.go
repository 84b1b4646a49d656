// Package ruleset reads pattern-set definitions from YAML files and
// compiles them into installable pattern sets. This is the file format
// operators edit; the store persists the same structure.
package ruleset

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/streamregex/streamregex/internal/pkg/automaton"
	"github.com/streamregex/streamregex/internal/pkg/prefilter"
	"github.com/streamregex/streamregex/internal/pkg/registry"
	"github.com/streamregex/streamregex/internal/pkg/syntax"
)

// File is the YAML structure of one pattern-set definition.
type File struct {
	Name     string  `yaml:"name" json:"name"`
	Patterns []*Rule `yaml:"patterns" json:"patterns"`
}

// Rule is one pattern entry in YAML/JSON format.
type Rule struct {
	ID              string `yaml:"id" json:"id"`
	Pattern         string `yaml:"pattern" json:"pattern"`
	CaseInsensitive bool   `yaml:"case_insensitive,omitempty" json:"case_insensitive,omitempty"`
	Anchor          string `yaml:"anchor,omitempty" json:"anchor,omitempty"`
	FirstMatchOnly  bool   `yaml:"first_match_only,omitempty" json:"first_match_only,omitempty"`
	Enabled         *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Description     string `yaml:"description,omitempty" json:"description,omitempty"`
}

// IsEnabled reports whether the rule participates in compilation.
// Rules are enabled unless explicitly disabled.
func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// ValidAnchors maps the accepted anchor strings to anchor modes.
var ValidAnchors = map[string]syntax.AnchorMode{
	"":      syntax.AnchorNone,
	"none":  syntax.AnchorNone,
	"start": syntax.AnchorStart,
	"end":   syntax.AnchorEnd,
	"both":  syntax.AnchorBoth,
}

// Load reads and parses a YAML pattern-set file.
func Load(path string) (*File, error) {
	// #nosec G304 -- Path is from configuration, not user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ruleset file: %w", err)
	}
	return Parse(data)
}

// Parse parses pattern-set YAML. The result is structurally validated;
// patterns are not compiled yet.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse ruleset YAML: %w", err)
	}
	if err := Validate(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks structural invariants: every rule has an ID and a
// pattern, IDs are unique, and anchor strings are recognized.
func Validate(f *File) error {
	if len(f.Patterns) == 0 {
		return fmt.Errorf("ruleset %q has no patterns", f.Name)
	}
	seen := make(map[string]struct{}, len(f.Patterns))
	for i, r := range f.Patterns {
		if r.ID == "" {
			return fmt.Errorf("pattern %d has no id", i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("duplicate pattern id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.Pattern == "" {
			return fmt.Errorf("pattern %q has no pattern text", r.ID)
		}
		if _, ok := ValidAnchors[r.Anchor]; !ok {
			return fmt.Errorf("pattern %q: unknown anchor %q", r.ID, r.Anchor)
		}
	}
	return nil
}

// CompileSet parses and compiles the enabled rules into a pattern set
// ready to install. Any rule that fails to parse or any compile-time
// limit violation fails the whole set; a failed compile must never
// disturb an installed set.
func CompileSet(f *File, cfg automaton.Config) (*registry.PatternSet, error) {
	var (
		inputs []automaton.Input
		asts   []*syntax.Pattern
	)
	for _, r := range f.Patterns {
		if !r.IsEnabled() {
			continue
		}
		flags := syntax.Flags{
			CaseInsensitive: r.CaseInsensitive,
			Anchor:          ValidAnchors[r.Anchor],
			FirstMatchOnly:  r.FirstMatchOnly,
		}
		p, err := syntax.Parse(r.Pattern, flags)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", r.ID, err)
		}
		inputs = append(inputs, automaton.Input{ID: r.ID, Pattern: p})
		asts = append(asts, p)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("ruleset %q has no enabled patterns", f.Name)
	}

	a, err := automaton.Compile(inputs, cfg)
	if err != nil {
		return nil, fmt.Errorf("ruleset %q: %w", f.Name, err)
	}
	return registry.NewPatternSet(f.Name, a, prefilter.Derive(a, asts)), nil
}

// WriteFile writes a pattern-set definition with an atomic rename.
func WriteFile(path string, f *File) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create ruleset directory: %w", err)
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal ruleset: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write ruleset file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace ruleset file: %w", err)
	}
	return nil
}
