// Package registry holds compiled pattern sets behind an atomically
// swappable reference. Installing a new set never blocks readers: the
// swap is a pointer publish, and superseded versions stay alive until
// the last cursor bound to them is closed.
package registry

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/streamregex/streamregex/internal/pkg/automaton"
	"github.com/streamregex/streamregex/internal/pkg/logger"
	"github.com/streamregex/streamregex/internal/pkg/prefilter"
)

// ErrNoCurrentSet is returned by Current before any set is installed.
var ErrNoCurrentSet = errors.New("no pattern set installed")

// PatternSet is one immutable compiled set: the automaton, its prefilter
// plan, and pattern metadata. It is shared by reference and never
// mutated after construction.
type PatternSet struct {
	// Name is the operator-facing set name.
	Name string

	// Version uniquely identifies this compiled instance.
	Version string

	// Automaton is the compiled deterministic machine.
	Automaton *automaton.Automaton

	// Plan is the literal prefilter plan derived from the automaton.
	Plan *prefilter.Plan

	// CompiledAt records when the set was compiled.
	CompiledAt time.Time

	// cursors counts live cursors bound to this version.
	cursors atomic.Int64
}

// NewPatternSet assembles a set and assigns it a fresh version.
func NewPatternSet(name string, a *automaton.Automaton, plan *prefilter.Plan) *PatternSet {
	return &PatternSet{
		Name:       name,
		Version:    uuid.NewString(),
		Automaton:  a,
		Plan:       plan,
		CompiledAt: time.Now(),
	}
}

// ActiveCursors returns the number of live cursors bound to this version.
func (s *PatternSet) ActiveCursors() int64 {
	return s.cursors.Load()
}

// Handle is a counted reference to one set version. Executors pin a
// version through a Handle so an Install cannot invalidate an in-flight
// stream; the set is reclaimed only after every handle is released.
type Handle struct {
	set      *PatternSet
	released atomic.Bool
}

// Set returns the pinned pattern set.
func (h *Handle) Set() *PatternSet { return h.set }

// Acquire returns an additional handle pinning the same version.
func (h *Handle) Acquire() *Handle {
	h.set.cursors.Add(1)
	return &Handle{set: h.set}
}

// Release drops the reference. Releasing twice is a no-op.
func (h *Handle) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.set.cursors.Add(-1)
	}
}

// Registry publishes the current pattern set version.
//
// The zero value is ready to use. All methods are safe for concurrent
// use; readers never block, including during Install.
type Registry struct {
	current atomic.Pointer[PatternSet]
}

// Install publishes set as the current version and returns a handle to
// it. Cursors already bound to the previous version keep matching
// against it; only new Current calls observe the new version.
func (r *Registry) Install(set *PatternSet) *Handle {
	prev := r.current.Swap(set)
	set.cursors.Add(1)

	attrs := []any{
		"set", set.Name,
		"version", set.Version,
		"patterns", set.Automaton.PatternCount(),
		"states", set.Automaton.NumStates(),
		"prefilter", set.Plan.Mode().String(),
	}
	if prev != nil {
		attrs = append(attrs, "replaces", prev.Version, "old_cursors", prev.ActiveCursors())
	}
	logger.Info("pattern set installed", attrs...)

	return &Handle{set: set}
}

// Current returns a handle to the currently installed version.
func (r *Registry) Current() (*Handle, error) {
	set := r.current.Load()
	if set == nil {
		return nil, ErrNoCurrentSet
	}
	set.cursors.Add(1)
	return &Handle{set: set}, nil
}
