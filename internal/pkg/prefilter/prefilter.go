// Package prefilter derives literal skip-scanning plans from compiled
// automatons. A plan lets the executor skip runs of bytes that cannot
// possibly begin a match while the automaton is parked in its scanning
// state. It is strictly an optimization: the scalar automaton alone
// finds exactly the same detections with any plan, including none.
package prefilter

import (
	"bytes"
	"fmt"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"

	"github.com/streamregex/streamregex/internal/pkg/automaton"
	"github.com/streamregex/streamregex/internal/pkg/simd"
	"github.com/streamregex/streamregex/internal/pkg/syntax"
)

// maxLiteralLen caps extracted literals. A prefix of a mandatory literal
// is still mandatory, and shorter literals shrink the unsafe margin at
// chunk ends.
const maxLiteralLen = 8

// Mode identifies the scanning strategy a plan uses.
type Mode int

const (
	// ModeNone performs no skipping; the automaton runs on every byte.
	ModeNone Mode = iota
	// ModeByteSet skips bytes that cannot leave the scanning state.
	ModeByteSet
	// ModeLiteral jumps between candidate literal occurrences using a
	// multi-pattern literal searcher.
	ModeLiteral
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeByteSet:
		return "byte-set"
	case ModeLiteral:
		return "literal"
	}
	return "unknown"
}

// Stats describes a derived plan for diagnostics.
type Stats struct {
	Mode           Mode
	SkippableBytes int
	LiteralCount   int
	MaxLiteralLen  int

	// EstimatedSelectivity estimates the fraction of scan positions the
	// automaton still has to step (0 = skip almost everything, 1 = no
	// skipping possible).
	EstimatedSelectivity float64
}

// Summary returns a one-line human-readable description.
func (s Stats) Summary() string {
	switch s.Mode {
	case ModeLiteral:
		return fmt.Sprintf("literal scan over %d literals (max len %d)", s.LiteralCount, s.MaxLiteralLen)
	case ModeByteSet:
		return fmt.Sprintf("byte-set skip over %d/256 byte values", s.SkippableBytes)
	}
	return "no skip: automaton steps every byte"
}

// Plan is an immutable skip-scanning plan shared by all cursors bound to
// the same pattern set.
type Plan struct {
	mode Mode

	// skip holds the bytes that keep the automaton parked in its
	// scanning state. Valid in ModeByteSet and ModeLiteral.
	skip simd.ByteSet

	// searcher finds candidate leading-literal occurrences in a chunk.
	// Only set in ModeLiteral.
	searcher *ahocorasick.AhoCorasick

	// margin is maxLiteralLen-1: the tail window of a chunk where a
	// literal could begin but not complete, which must never be skipped.
	margin int

	// seekByte is set when exactly one byte value can leave the
	// scanning state, turning the skip into a single IndexByte.
	seekByte   byte
	seekSingle bool

	stats Stats
}

// Stats returns the plan's derivation statistics.
func (p *Plan) Stats() Stats { return p.stats }

// Mode returns the plan's scanning strategy.
func (p *Plan) Mode() Mode { return p.mode }

// Derive builds a plan for a compiled automaton. The asts slice must be
// the same patterns, in the same order, the automaton was compiled from.
//
// Skipping is proven safe from the automaton itself: while parked in the
// scanning state, a byte whose transition returns to that state cannot
// advance any pattern, so runs of such bytes are invisible to matching.
// When every unanchored pattern additionally starts with a mandatory
// literal, a multi-literal search finds the only positions where a match
// can begin, allowing whole-chunk jumps.
func Derive(a *automaton.Automaton, asts []*syntax.Pattern) *Plan {
	p := &Plan{}

	park := a.LoopStart()
	for c := 0; c < 256; c++ {
		if a.Next(park, byte(c)) == park {
			p.skip.Add(byte(c))
		}
	}
	skippable := p.skip.Count()

	literals, ok := leadingLiterals(asts)
	switch {
	case ok && len(literals) > 0:
		p.mode = ModeLiteral
		maxLen := 0
		for _, lit := range literals {
			if len(lit) > maxLen {
				maxLen = len(lit)
			}
		}
		builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
			// Conservative over-approximation: case-insensitive search
			// also covers case-sensitive patterns; the automaton makes
			// the exact decision.
			AsciiCaseInsensitive: true,
			MatchKind:            ahocorasick.LeftMostLongestMatch,
			DFA:                  true,
		})
		ac := builder.Build(literals)
		p.searcher = &ac
		p.margin = maxLen - 1
		p.stats = Stats{
			Mode:                 ModeLiteral,
			SkippableBytes:       skippable,
			LiteralCount:         len(literals),
			MaxLiteralLen:        maxLen,
			EstimatedSelectivity: estimateSelectivity(len(literals)),
		}
	case skippable > 0:
		p.mode = ModeByteSet
		if skippable == 255 {
			for c := 0; c < 256; c++ {
				if !p.skip.Contains(byte(c)) {
					p.seekByte = byte(c)
					p.seekSingle = true
					break
				}
			}
		}
		p.stats = Stats{
			Mode:                 ModeByteSet,
			SkippableBytes:       skippable,
			EstimatedSelectivity: 1.0 - float64(skippable)/256.0,
		}
	default:
		p.mode = ModeNone
		p.stats = Stats{Mode: ModeNone, EstimatedSelectivity: 1.0}
	}
	return p
}

// Skip returns how many bytes at the front of data the executor may
// consume without stepping the automaton. Only valid while the automaton
// is parked in its scanning state. A zero return means the next byte
// must be stepped normally.
//
// In ModeLiteral each call walks the searcher from the front of data, so
// a cursor that re-parks many times inside one chunk should go through a
// Session instead.
func (p *Plan) Skip(data []byte) int {
	switch p.mode {
	case ModeLiteral:
		return p.literalSkip(data)
	case ModeByteSet:
		return p.byteSetSkip(data)
	}
	return 0
}

func (p *Plan) byteSetSkip(data []byte) int {
	if p.seekSingle {
		if i := bytes.IndexByte(data, p.seekByte); i >= 0 {
			return i
		}
		return len(data)
	}
	return simd.SkipAccepted(data, &p.skip)
}

// literalSkip jumps to the earliest candidate literal occurrence. The
// final margin bytes of the chunk are never skipped: a literal starting
// there could complete in the next chunk, and only the stepped automaton
// carries progress across chunk boundaries.
func (p *Plan) literalSkip(data []byte) int {
	limit := len(data) - p.margin
	if limit <= 0 {
		return 0
	}
	m := p.searcher.IterByte(data).Next()
	if m == nil {
		return limit
	}
	if first := m.Start(); first < limit {
		return first
	}
	return limit
}

// Session carries per-stream scanning state across the repeated skip
// queries a cursor issues while working through one chunk. In literal
// mode a single lazy searcher pass per chunk feeds every query, so each
// chunk byte is examined at most once no matter how often the automaton
// re-parks.
type Session struct {
	plan *Plan

	// iter streams literal occurrences over the chunk bound by Begin.
	iter ahocorasick.Iter

	// nextHit is the start of the earliest unconsumed occurrence, or -1
	// once the chunk has none left.
	nextHit int
}

// NewSession returns a session bound to the plan. One session serves one
// cursor; sessions are not safe for concurrent use.
func (p *Plan) NewSession() *Session {
	return &Session{plan: p}
}

// Begin rebinds the session to a freshly fed chunk. Must be called
// before any Skip queries against that chunk.
func (s *Session) Begin(chunk []byte) {
	if s.plan.mode != ModeLiteral {
		return
	}
	s.iter = s.plan.searcher.IterByte(chunk)
	s.advance(0)
}

// advance moves nextHit to the first occurrence starting at or after
// pos, pulling from the iterator as needed.
func (s *Session) advance(pos int) {
	for {
		m := s.iter.Next()
		if m == nil {
			s.nextHit = -1
			return
		}
		if m.Start() >= pos {
			s.nextHit = m.Start()
			return
		}
	}
}

// Skip returns how many bytes at chunk[pos:] the executor may consume
// without stepping the automaton. Semantics match Plan.Skip on the same
// suffix; chunk must be the slice last passed to Begin.
func (s *Session) Skip(chunk []byte, pos int) int {
	switch s.plan.mode {
	case ModeLiteral:
		limit := len(chunk) - s.plan.margin
		if limit <= pos {
			return 0
		}
		if s.nextHit >= 0 && s.nextHit < pos {
			s.advance(pos)
		}
		if s.nextHit < 0 || s.nextHit >= limit {
			return limit - pos
		}
		return s.nextHit - pos
	case ModeByteSet:
		return s.plan.byteSetSkip(chunk[pos:])
	}
	return 0
}

// leadingLiterals extracts one mandatory leading literal per unanchored
// pattern. ok is false when any unanchored pattern lacks a usable
// literal, which disables literal mode for the whole set (skipping must
// be safe for every pattern simultaneously).
func leadingLiterals(asts []*syntax.Pattern) (literals []string, ok bool) {
	seen := make(map[string]struct{})
	for _, pat := range asts {
		if pat.AnchorStart {
			// Start-anchored patterns cannot begin once the automaton
			// is parked, so they place no constraint on skipping.
			continue
		}
		lit, _ := leadingLiteral(pat.Root)
		if len(lit) < 2 {
			return nil, false
		}
		if len(lit) > maxLiteralLen {
			lit = lit[:maxLiteralLen]
		}
		if pat.Flags.CaseInsensitive {
			lit = toLowerASCII(lit)
		}
		key := string(lit)
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			literals = append(literals, key)
		}
	}
	return literals, true
}

// leadingLiteral returns the mandatory byte prefix of a node. complete
// reports whether the node matches exactly that literal and nothing
// else, which lets concatenations extend the prefix across nodes.
func leadingLiteral(n *syntax.Node) (lit []byte, complete bool) {
	switch n.Op {
	case syntax.OpEmpty:
		return nil, true
	case syntax.OpLiteral:
		return n.Lit, true
	case syntax.OpClass:
		if n.Class.Size() == 1 {
			return []byte{n.Class[0].Lo}, true
		}
		return nil, false
	case syntax.OpConcat:
		var out []byte
		for _, sub := range n.Sub {
			l, c := leadingLiteral(sub)
			out = append(out, l...)
			if !c {
				return out, false
			}
		}
		return out, true
	case syntax.OpRepeat:
		if n.Min < 1 {
			return nil, false
		}
		l, _ := leadingLiteral(n.Sub[0])
		return l, false
	}
	// Alternations could share a common prefix, but per-branch literal
	// analysis is not worth the plan complexity.
	return nil, false
}

func toLowerASCII(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 32
		}
		out[i] = c
	}
	return out
}

func estimateSelectivity(literalCount int) float64 {
	switch {
	case literalCount >= 50:
		return 0.05
	case literalCount >= 20:
		return 0.10
	case literalCount >= 10:
		return 0.20
	case literalCount >= 5:
		return 0.40
	default:
		return 0.70
	}
}
