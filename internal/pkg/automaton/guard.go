package automaton

import (
	"fmt"

	"github.com/streamregex/streamregex/internal/pkg/syntax"
)

// GuardError reports a pattern rejected by the complexity guard before
// any automaton construction was attempted. The decision depends only on
// the pattern and the configured limits, so it is reproducible.
type GuardError struct {
	// PatternID identifies the offending pattern in its set.
	PatternID string

	// Limit names the violated bound.
	Limit string

	// Value and Max are the observed and configured values.
	Value, Max int
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("pattern %q rejected by complexity guard: %s is %d (limit %d)",
		e.PatternID, e.Limit, e.Value, e.Max)
}

// Check runs the cheap complexity pre-pass on one pattern. It bounds
// pattern length, alternation branching, unbounded-repeat nesting and
// the unrolled fragment size, and rejects patterns that can match the
// empty string (which would detect at every stream position).
//
// Scanning cost is already linear for any compiled set because the
// runtime machine is fully deterministic; the guard exists to bound
// compile-time cost and compiled memory before the expensive subset
// construction runs.
func Check(id string, p *syntax.Pattern, cfg Config) error {
	if len(p.Source) > cfg.MaxPatternLength {
		return &GuardError{
			PatternID: id,
			Limit:     "pattern length",
			Value:     len(p.Source),
			Max:       cfg.MaxPatternLength,
		}
	}

	if branch := maxAlternation(p.Root); branch > cfg.MaxAlternation {
		return &GuardError{
			PatternID: id,
			Limit:     "alternation branching factor",
			Value:     branch,
			Max:       cfg.MaxAlternation,
		}
	}

	if depth := unboundedRepeatDepth(p.Root); depth > cfg.MaxUnboundedRepeatDepth {
		return &GuardError{
			PatternID: id,
			Limit:     "unbounded repeat nesting depth",
			Value:     depth,
			Max:       cfg.MaxUnboundedRepeatDepth,
		}
	}

	// Bounded repeats unroll, so their counts multiply fragment size.
	// Capping the estimate at the state budget fails obviously hopeless
	// patterns without paying for construction.
	if est := fragmentSize(p.Root); est > cfg.StateBudget {
		return &GuardError{
			PatternID: id,
			Limit:     "estimated fragment size",
			Value:     est,
			Max:       cfg.StateBudget,
		}
	}

	if p.Root.MatchesEmpty() {
		return &GuardError{
			PatternID: id,
			Limit:     "minimum match length",
			Value:     0,
			Max:       1,
		}
	}
	return nil
}

func maxAlternation(n *syntax.Node) int {
	most := 0
	if n.Op == syntax.OpAlternate {
		most = len(n.Sub)
	}
	for _, sub := range n.Sub {
		if b := maxAlternation(sub); b > most {
			most = b
		}
	}
	return most
}

func unboundedRepeatDepth(n *syntax.Node) int {
	deepest := 0
	for _, sub := range n.Sub {
		if d := unboundedRepeatDepth(sub); d > deepest {
			deepest = d
		}
	}
	if n.Op == syntax.OpRepeat && n.Max < 0 {
		deepest++
	}
	return deepest
}

// fragmentSize estimates the Thompson fragment's state count, saturating
// at a value safely above any configurable budget.
func fragmentSize(n *syntax.Node) int {
	const sat = 1 << 24

	switch n.Op {
	case syntax.OpEmpty:
		return 1
	case syntax.OpLiteral:
		return len(n.Lit) + 1
	case syntax.OpClass:
		return 2
	case syntax.OpConcat, syntax.OpAlternate:
		total := 2
		for _, sub := range n.Sub {
			total += fragmentSize(sub)
			if total > sat {
				return sat
			}
		}
		return total
	case syntax.OpRepeat:
		sub := fragmentSize(n.Sub[0])
		copies := n.Max
		if copies < 0 {
			copies = n.Min + 1
		}
		if copies == 0 {
			copies = 1
		}
		if sub > sat/copies {
			return sat
		}
		return sub*copies + 2
	}
	return 1
}
