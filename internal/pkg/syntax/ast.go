// Package syntax parses the restricted pattern grammar into an AST.
//
// The grammar covers literals, character classes, alternation,
// concatenation, bounded and unbounded repetition, and start/end anchors.
// Constructs that cannot compile into a bounded state machine
// (backreferences, lookaround, recursion) are rejected at parse time.
package syntax

// Op identifies the kind of an AST node.
type Op int

const (
	// OpEmpty matches the empty string.
	OpEmpty Op = iota
	// OpLiteral matches an exact byte sequence.
	OpLiteral
	// OpClass matches any single byte in a set of byte ranges.
	OpClass
	// OpConcat matches its subexpressions in sequence.
	OpConcat
	// OpAlternate matches any one of its subexpressions.
	OpAlternate
	// OpRepeat matches its subexpression Min..Max times (Max < 0 = unbounded).
	OpRepeat
)

func (op Op) String() string {
	switch op {
	case OpEmpty:
		return "Empty"
	case OpLiteral:
		return "Literal"
	case OpClass:
		return "Class"
	case OpConcat:
		return "Concat"
	case OpAlternate:
		return "Alternate"
	case OpRepeat:
		return "Repeat"
	}
	return "Unknown"
}

// Node is a single AST node. Nodes are immutable once parsed.
type Node struct {
	Op Op

	// Sub holds subexpressions for OpConcat and OpAlternate,
	// and exactly one element for OpRepeat.
	Sub []*Node

	// Lit is the byte sequence for OpLiteral.
	Lit []byte

	// Class is the byte range set for OpClass.
	Class ByteClass

	// Min and Max bound OpRepeat. Max < 0 means unbounded.
	Min, Max int
}

// ByteRange is an inclusive range of byte values.
type ByteRange struct {
	Lo, Hi byte
}

// ByteClass is a normalized, sorted, non-overlapping set of byte ranges.
type ByteClass []ByteRange

// Contains reports whether b is a member of the class.
func (c ByteClass) Contains(b byte) bool {
	for _, r := range c {
		if b >= r.Lo && b <= r.Hi {
			return true
		}
	}
	return false
}

// Size returns the number of byte values covered by the class.
func (c ByteClass) Size() int {
	n := 0
	for _, r := range c {
		n += int(r.Hi) - int(r.Lo) + 1
	}
	return n
}

// normalize sorts and merges overlapping or adjacent ranges.
func (c ByteClass) normalize() ByteClass {
	if len(c) <= 1 {
		return c
	}
	// Insertion sort; classes are tiny.
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].Lo < c[j-1].Lo; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
	out := c[:1]
	for _, r := range c[1:] {
		last := &out[len(out)-1]
		if int(r.Lo) <= int(last.Hi)+1 {
			if r.Hi > last.Hi {
				last.Hi = r.Hi
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// negate returns the complement of the class over the full byte alphabet.
func (c ByteClass) negate() ByteClass {
	var out ByteClass
	next := 0
	for _, r := range c {
		if int(r.Lo) > next {
			out = append(out, ByteRange{byte(next), byte(int(r.Lo) - 1)})
		}
		next = int(r.Hi) + 1
	}
	if next <= 0xFF {
		out = append(out, ByteRange{byte(next), 0xFF})
	}
	return out
}

// anyByte is the class covering all 256 byte values. The grammar is byte
// oriented, so '.' matches any byte including newline.
func anyByte() ByteClass {
	return ByteClass{{0x00, 0xFF}}
}

// AnchorMode selects implicit anchoring applied on top of inline ^ and $.
type AnchorMode int

const (
	// AnchorNone applies no implicit anchoring.
	AnchorNone AnchorMode = iota
	// AnchorStart pins the match to the start of the stream.
	AnchorStart
	// AnchorEnd pins the match to the end of the stream.
	AnchorEnd
	// AnchorBoth pins the match to both ends.
	AnchorBoth
)

func (m AnchorMode) String() string {
	switch m {
	case AnchorNone:
		return "none"
	case AnchorStart:
		return "start"
	case AnchorEnd:
		return "end"
	case AnchorBoth:
		return "both"
	}
	return "unknown"
}

// Flags modify how a pattern is parsed and matched.
type Flags struct {
	// CaseInsensitive folds ASCII letters during compilation.
	CaseInsensitive bool

	// Anchor applies implicit anchoring, combined with inline ^ and $.
	Anchor AnchorMode

	// FirstMatchOnly suppresses detections for this pattern after its
	// first hit on a stream. Other patterns in the set keep matching.
	FirstMatchOnly bool
}

// Pattern is the parse result: the AST plus resolved anchoring.
type Pattern struct {
	// Root is the root AST node, without anchor nodes.
	Root *Node

	// AnchorStart and AnchorEnd record resolved anchoring from both the
	// inline ^/$ syntax and the Anchor flag.
	AnchorStart bool
	AnchorEnd   bool

	// Flags are the flags the pattern was parsed with.
	Flags Flags

	// Source is the original pattern text.
	Source string
}

// LengthRange returns the minimum and maximum byte length of strings the
// node can match. max < 0 means unbounded.
func (n *Node) LengthRange() (min, max int) {
	switch n.Op {
	case OpEmpty:
		return 0, 0
	case OpLiteral:
		return len(n.Lit), len(n.Lit)
	case OpClass:
		return 1, 1
	case OpConcat:
		for _, s := range n.Sub {
			smin, smax := s.LengthRange()
			min += smin
			if max < 0 || smax < 0 {
				max = -1
			} else {
				max += smax
			}
		}
		return min, max
	case OpAlternate:
		min, max = n.Sub[0].LengthRange()
		for _, s := range n.Sub[1:] {
			smin, smax := s.LengthRange()
			if smin < min {
				min = smin
			}
			if max >= 0 && (smax < 0 || smax > max) {
				max = smax
			}
		}
		return min, max
	case OpRepeat:
		smin, smax := n.Sub[0].LengthRange()
		min = smin * n.Min
		switch {
		case n.Max == 0 || smax == 0:
			max = 0
		case n.Max < 0 || smax < 0:
			max = -1
		default:
			max = smax * n.Max
		}
		return min, max
	}
	return 0, -1
}

// MatchesEmpty reports whether the node can match the empty string.
func (n *Node) MatchesEmpty() bool {
	min, _ := n.LengthRange()
	return min == 0
}

// LengthRange returns the length bounds for the whole pattern.
func (p *Pattern) LengthRange() (min, max int) {
	return p.Root.LengthRange()
}
