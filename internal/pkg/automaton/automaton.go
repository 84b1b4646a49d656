// Package automaton compiles parsed patterns into a single deterministic
// finite automaton and enforces compile-time complexity bounds.
//
// All nondeterminism is resolved at compile time via subset construction,
// so scanning is a flat table lookup per byte: no backtracking, no lazy
// determinization, no possibility of runtime state explosion. The cost of
// pathological patterns is paid (and bounded) during compilation, never
// during matching.
package automaton

import (
	"errors"
	"fmt"

	"github.com/streamregex/streamregex/internal/pkg/syntax"
)

// ErrStateBudget marks compilation failures caused by the state budget.
var ErrStateBudget = errors.New("state budget exceeded")

// BuildError reports that subset construction hit the state budget.
// The count is exact: construction proceeds until the budget trips, so
// the same input and budget always produce the same decision.
type BuildError struct {
	// EstimatedStates is the number of deterministic states constructed
	// when the build was aborted.
	EstimatedStates int

	// Budget is the configured ceiling.
	Budget int
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("state budget exceeded: construction reached %d states (budget %d)",
		e.EstimatedStates, e.Budget)
}

func (e *BuildError) Unwrap() error {
	return ErrStateBudget
}

// Config bounds compile-time cost and compiled memory footprint.
type Config struct {
	// StateBudget is the maximum number of deterministic states a
	// compiled set may use. Compilation fails once construction would
	// exceed it.
	StateBudget int

	// MaxPatternLength bounds the source text length of one pattern.
	MaxPatternLength int

	// MaxAlternation bounds the branching factor of one alternation.
	MaxAlternation int

	// MaxUnboundedRepeatDepth bounds nesting of unbounded repeats.
	MaxUnboundedRepeatDepth int
}

// DefaultConfig returns the default complexity bounds.
func DefaultConfig() Config {
	return Config{
		StateBudget:             8192,
		MaxPatternLength:        1024,
		MaxAlternation:          64,
		MaxUnboundedRepeatDepth: 3,
	}
}

// Input is one pattern to compile, in set order.
type Input struct {
	// ID identifies the pattern in detections.
	ID string

	// Pattern is the parsed pattern.
	Pattern *syntax.Pattern
}

// Accept records one pattern terminating at an accepting state, with the
// length bounds the executor needs to reconstruct start offsets.
type Accept struct {
	// Pattern is the index into the automaton's pattern table.
	Pattern int32

	// MinLen and MaxLen bound the byte length of a match ending here.
	// MaxLen < 0 means unbounded.
	MinLen, MaxLen int32
}

// PatternInfo is the per-pattern metadata carried by the automaton.
type PatternInfo struct {
	ID     string
	Source string
	Flags  syntax.Flags

	// AnchorStart and AnchorEnd are the resolved anchors.
	AnchorStart, AnchorEnd bool

	// MinLen and MaxLen bound the pattern's match length (MaxLen < 0 =
	// unbounded).
	MinLen, MaxLen int
}

// Automaton is a compiled deterministic automaton for one pattern set.
// It is immutable after Compile returns and safe for unlimited concurrent
// readers; executors share it by reference and never mutate it.
type Automaton struct {
	// next is the flat transition table: next[state*256 + b] is the
	// state reached from state on input byte b. Every state defines a
	// transition for all 256 byte values.
	next []int32

	// accepts[state] lists patterns whose match ends when the automaton
	// enters state. Nil for non-accepting states.
	accepts [][]Accept

	// eosAccepts[state] lists end-anchored patterns that match if the
	// stream ends while the automaton is in state.
	eosAccepts [][]Accept

	// start is the state at stream offset zero. It differs from
	// loopStart only when the set contains start-anchored patterns.
	start int32

	// loopStart is the steady scanning state: the state the automaton
	// parks in while no pattern prefix is in progress.
	loopStart int32

	// dead is the index of the unconditionally-dead state, or -1. Only
	// fully start-anchored sets can go dead.
	dead int32

	patterns []PatternInfo
}

// Start returns the state for stream offset zero.
func (a *Automaton) Start() int32 { return a.start }

// LoopStart returns the steady scanning state.
func (a *Automaton) LoopStart() int32 { return a.loopStart }

// Dead returns the unconditionally-dead state index, or -1 if the
// automaton has none.
func (a *Automaton) Dead() int32 { return a.dead }

// NumStates returns the number of deterministic states.
func (a *Automaton) NumStates() int { return len(a.next) / 256 }

// Next returns the state reached from state on input byte b.
func (a *Automaton) Next(state int32, b byte) int32 {
	return a.next[int(state)<<8|int(b)]
}

// Accepts returns the accept list for state, nil if none.
func (a *Automaton) Accepts(state int32) []Accept {
	return a.accepts[state]
}

// EOSAccepts returns the end-of-stream accept list for state, nil if none.
func (a *Automaton) EOSAccepts(state int32) []Accept {
	return a.eosAccepts[state]
}

// HasEOSAccepts reports whether any pattern in the set is end anchored,
// meaning Close must perform an end-of-stream transition.
func (a *Automaton) HasEOSAccepts() bool {
	for _, e := range a.eosAccepts {
		if len(e) > 0 {
			return true
		}
	}
	return false
}

// PatternCount returns the number of patterns compiled into the set.
func (a *Automaton) PatternCount() int { return len(a.patterns) }

// Pattern returns metadata for pattern index i.
func (a *Automaton) Pattern(i int) PatternInfo { return a.patterns[i] }

// MemoryFootprint returns the approximate size of the transition tables
// in bytes. Cursor memory is independent of this and of input length.
func (a *Automaton) MemoryFootprint() int {
	return len(a.next)*4 + len(a.accepts)*24
}

// Compile builds one merged deterministic automaton for the ordered
// pattern set. Each pattern first passes the complexity guard; the merged
// nondeterministic machine is then determinized eagerly and completely,
// aborting with a BuildError if the state budget would be exceeded.
func Compile(inputs []Input, cfg Config) (*Automaton, error) {
	if len(inputs) == 0 {
		return nil, errors.New("empty pattern set")
	}
	for _, in := range inputs {
		if err := Check(in.ID, in.Pattern, cfg); err != nil {
			return nil, err
		}
	}

	n := newNFA()
	infos := make([]PatternInfo, len(inputs))
	for i, in := range inputs {
		minLen, maxLen := in.Pattern.LengthRange()
		infos[i] = PatternInfo{
			ID:          in.ID,
			Source:      in.Pattern.Source,
			Flags:       in.Pattern.Flags,
			AnchorStart: in.Pattern.AnchorStart,
			AnchorEnd:   in.Pattern.AnchorEnd,
			MinLen:      minLen,
			MaxLen:      maxLen,
		}
		n.addPattern(int32(i), in.Pattern)
	}

	return determinize(n, infos, cfg)
}
