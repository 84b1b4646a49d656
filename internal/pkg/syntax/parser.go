package syntax

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrUnsupported marks constructs that cannot be compiled into a bounded
// state machine. Errors returned for such constructs unwrap to it.
var ErrUnsupported = errors.New("unsupported construct")

// ParseError describes a rejected pattern.
type ParseError struct {
	// Pos is the byte offset into the pattern source.
	Pos int

	// Reason is a human-readable description.
	Reason string

	// Err is ErrUnsupported for constructs outside the grammar, nil for
	// plain syntax errors.
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("pattern syntax error at %d: %s", e.Pos, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func syntaxErr(pos int, format string, args ...any) error {
	return &ParseError{Pos: pos, Reason: fmt.Sprintf(format, args...)}
}

func unsupportedErr(pos int, construct string) error {
	return &ParseError{
		Pos:    pos,
		Reason: construct + " is not supported",
		Err:    ErrUnsupported,
	}
}

// Parse parses a pattern source into its AST. It is a pure function of
// its inputs: no global state, no side effects.
func Parse(source string, flags Flags) (*Pattern, error) {
	p := &parser{src: source}
	root, err := p.parseAlternate(0)
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.src) {
		return nil, syntaxErr(p.pos, "unexpected %q", p.src[p.pos])
	}

	pat := &Pattern{
		Root:        root,
		AnchorStart: p.anchorStart || flags.Anchor == AnchorStart || flags.Anchor == AnchorBoth,
		AnchorEnd:   p.anchorEnd || flags.Anchor == AnchorEnd || flags.Anchor == AnchorBoth,
		Flags:       flags,
		Source:      source,
	}
	return pat, nil
}

type parser struct {
	src   string
	pos   int
	depth int

	anchorStart bool
	anchorEnd   bool
}

const maxGroupDepth = 64

// parseAlternate parses branch ('|' branch)*.
func (p *parser) parseAlternate(groupDepth int) (*Node, error) {
	first, err := p.parseConcat(groupDepth)
	if err != nil {
		return nil, err
	}
	if p.pos >= len(p.src) || p.src[p.pos] != '|' {
		return first, nil
	}
	subs := []*Node{first}
	for p.pos < len(p.src) && p.src[p.pos] == '|' {
		p.pos++
		branch, err := p.parseConcat(groupDepth)
		if err != nil {
			return nil, err
		}
		subs = append(subs, branch)
	}
	return &Node{Op: OpAlternate, Sub: subs}, nil
}

// parseConcat parses a sequence of repeated terms.
func (p *parser) parseConcat(groupDepth int) (*Node, error) {
	var subs []*Node
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '|' || c == ')' {
			break
		}

		// Anchors are only valid at the very ends of the pattern.
		if c == '^' {
			if p.pos != 0 {
				return nil, syntaxErr(p.pos, "'^' is only valid at the start of the pattern")
			}
			p.anchorStart = true
			p.pos++
			continue
		}
		if c == '$' {
			if p.pos != len(p.src)-1 {
				return nil, syntaxErr(p.pos, "'$' is only valid at the end of the pattern")
			}
			p.anchorEnd = true
			p.pos++
			continue
		}

		term, err := p.parseTerm(groupDepth)
		if err != nil {
			return nil, err
		}
		term, err = p.parseQuantifier(term)
		if err != nil {
			return nil, err
		}
		subs = append(subs, term)
	}

	switch len(subs) {
	case 0:
		return &Node{Op: OpEmpty}, nil
	case 1:
		return subs[0], nil
	}
	return &Node{Op: OpConcat, Sub: flattenConcat(subs)}, nil
}

// flattenConcat merges adjacent literal nodes and inlines nested concats.
func flattenConcat(subs []*Node) []*Node {
	out := make([]*Node, 0, len(subs))
	for _, s := range subs {
		if s.Op == OpConcat {
			out = append(out, s.Sub...)
			continue
		}
		if s.Op == OpLiteral && len(out) > 0 && out[len(out)-1].Op == OpLiteral {
			prev := out[len(out)-1]
			merged := make([]byte, 0, len(prev.Lit)+len(s.Lit))
			merged = append(merged, prev.Lit...)
			merged = append(merged, s.Lit...)
			out[len(out)-1] = &Node{Op: OpLiteral, Lit: merged}
			continue
		}
		out = append(out, s)
	}
	return out
}

// parseTerm parses a single atom: literal byte, class, '.', or group.
func (p *parser) parseTerm(groupDepth int) (*Node, error) {
	c := p.src[p.pos]
	switch c {
	case '(':
		return p.parseGroup(groupDepth)
	case '[':
		return p.parseClass()
	case '.':
		p.pos++
		return &Node{Op: OpClass, Class: anyByte()}, nil
	case '\\':
		return p.parseEscape(false)
	case '*', '+', '?':
		return nil, syntaxErr(p.pos, "quantifier %q has nothing to repeat", c)
	case '{':
		// '{' that does not open a valid bound is a literal brace.
		if _, _, ok := p.peekBounds(); ok {
			return nil, syntaxErr(p.pos, "quantifier has nothing to repeat")
		}
		p.pos++
		return &Node{Op: OpLiteral, Lit: []byte{'{'}}, nil
	default:
		p.pos++
		return &Node{Op: OpLiteral, Lit: []byte{c}}, nil
	}
}

// parseGroup parses '(' ... ')'. Groups exist only for precedence; there
// is no capture semantics. Lookaround and other (?...) extensions are
// rejected, except the no-op non-capturing form (?:...).
func (p *parser) parseGroup(groupDepth int) (*Node, error) {
	if groupDepth >= maxGroupDepth {
		return nil, syntaxErr(p.pos, "groups nested deeper than %d", maxGroupDepth)
	}
	open := p.pos
	p.pos++ // consume '('

	if p.pos < len(p.src) && p.src[p.pos] == '?' {
		if p.pos+1 >= len(p.src) {
			return nil, syntaxErr(p.pos, "dangling '(?'")
		}
		switch p.src[p.pos+1] {
		case ':':
			p.pos += 2
		case '=', '!':
			return nil, unsupportedErr(open, "lookahead")
		case '<':
			return nil, unsupportedErr(open, "lookbehind or named group")
		case 'P':
			return nil, unsupportedErr(open, "named group")
		case 'R':
			return nil, unsupportedErr(open, "recursion")
		default:
			return nil, unsupportedErr(open, "inline group modifier")
		}
	}

	sub, err := p.parseAlternate(groupDepth + 1)
	if err != nil {
		return nil, err
	}
	if p.pos >= len(p.src) || p.src[p.pos] != ')' {
		return nil, syntaxErr(open, "missing closing ')'")
	}
	p.pos++
	return sub, nil
}

// parseEscape parses a backslash escape. inClass changes which escapes
// are legal (anchors and backreferences are class-irrelevant).
func (p *parser) parseEscape(inClass bool) (*Node, error) {
	start := p.pos
	p.pos++ // consume '\'
	if p.pos >= len(p.src) {
		return nil, syntaxErr(start, "trailing backslash")
	}
	c := p.src[p.pos]
	p.pos++

	switch c {
	case 'n':
		return &Node{Op: OpLiteral, Lit: []byte{'\n'}}, nil
	case 'r':
		return &Node{Op: OpLiteral, Lit: []byte{'\r'}}, nil
	case 't':
		return &Node{Op: OpLiteral, Lit: []byte{'\t'}}, nil
	case 'f':
		return &Node{Op: OpLiteral, Lit: []byte{'\f'}}, nil
	case 'v':
		return &Node{Op: OpLiteral, Lit: []byte{'\v'}}, nil
	case '0':
		return &Node{Op: OpLiteral, Lit: []byte{0}}, nil
	case 'x':
		if p.pos+1 >= len(p.src) {
			return nil, syntaxErr(start, "truncated \\x escape")
		}
		v, err := strconv.ParseUint(p.src[p.pos:p.pos+2], 16, 8)
		if err != nil {
			return nil, syntaxErr(start, "invalid \\x escape %q", p.src[p.pos:p.pos+2])
		}
		p.pos += 2
		return &Node{Op: OpLiteral, Lit: []byte{byte(v)}}, nil
	case 'd':
		return &Node{Op: OpClass, Class: ByteClass{{'0', '9'}}}, nil
	case 'D':
		return &Node{Op: OpClass, Class: ByteClass{{'0', '9'}}.negate()}, nil
	case 'w':
		return &Node{Op: OpClass, Class: wordClass()}, nil
	case 'W':
		return &Node{Op: OpClass, Class: wordClass().negate()}, nil
	case 's':
		return &Node{Op: OpClass, Class: spaceClass()}, nil
	case 'S':
		return &Node{Op: OpClass, Class: spaceClass().negate()}, nil
	case '1', '2', '3', '4', '5', '6', '7', '8', '9':
		if inClass {
			return nil, syntaxErr(start, "invalid escape \\%c in class", c)
		}
		return nil, unsupportedErr(start, "backreference")
	case 'b', 'B':
		if !inClass {
			return nil, unsupportedErr(start, "word boundary")
		}
		return &Node{Op: OpLiteral, Lit: []byte{'\b'}}, nil
	case '\\', '.', '*', '+', '?', '(', ')', '[', ']', '{', '}', '|', '^', '$', '-', '/':
		return &Node{Op: OpLiteral, Lit: []byte{c}}, nil
	default:
		return nil, syntaxErr(start, "unknown escape \\%c", c)
	}
}

func wordClass() ByteClass {
	return ByteClass{{'0', '9'}, {'A', 'Z'}, {'_', '_'}, {'a', 'z'}}
}

func spaceClass() ByteClass {
	return ByteClass{{'\t', '\r'}, {' ', ' '}}
}

// parseClass parses '[' ... ']'.
func (p *parser) parseClass() (*Node, error) {
	open := p.pos
	p.pos++ // consume '['

	negated := false
	if p.pos < len(p.src) && p.src[p.pos] == '^' {
		negated = true
		p.pos++
	}

	var class ByteClass
	first := true
	for {
		if p.pos >= len(p.src) {
			return nil, syntaxErr(open, "missing closing ']'")
		}
		c := p.src[p.pos]
		if c == ']' && !first {
			p.pos++
			break
		}
		first = false

		lo, ranges, err := p.classAtom()
		if err != nil {
			return nil, err
		}
		if ranges != nil {
			// \d, \w, \s inside a class contribute their ranges.
			class = append(class, ranges...)
			continue
		}

		// Possible range lo-hi.
		if p.pos+1 < len(p.src) && p.src[p.pos] == '-' && p.src[p.pos+1] != ']' {
			p.pos++
			hi, hiRanges, err := p.classAtom()
			if err != nil {
				return nil, err
			}
			if hiRanges != nil {
				return nil, syntaxErr(p.pos, "invalid range bound")
			}
			if hi < lo {
				return nil, syntaxErr(open, "invalid range %c-%c", lo, hi)
			}
			class = append(class, ByteRange{lo, hi})
			continue
		}
		class = append(class, ByteRange{lo, lo})
	}

	if len(class) == 0 {
		return nil, syntaxErr(open, "empty character class")
	}
	class = class.normalize()
	if negated {
		class = class.negate()
		if len(class) == 0 {
			return nil, syntaxErr(open, "negated class matches nothing")
		}
	}
	return &Node{Op: OpClass, Class: class}, nil
}

// classAtom parses one class member: a byte, an escape, or an escape
// class like \d (returned as ranges).
func (p *parser) classAtom() (byte, ByteClass, error) {
	c := p.src[p.pos]
	if c != '\\' {
		p.pos++
		return c, nil, nil
	}
	n, err := p.parseEscape(true)
	if err != nil {
		return 0, nil, err
	}
	if n.Op == OpClass {
		return 0, n.Class, nil
	}
	return n.Lit[0], nil, nil
}

// parseQuantifier applies a following *, +, ?, or {m,n} to term.
func (p *parser) parseQuantifier(term *Node) (*Node, error) {
	if p.pos >= len(p.src) {
		return term, nil
	}

	var min, max int
	start := p.pos
	switch p.src[p.pos] {
	case '*':
		min, max = 0, -1
		p.pos++
	case '+':
		min, max = 1, -1
		p.pos++
	case '?':
		min, max = 0, 1
		p.pos++
	case '{':
		var ok bool
		min, max, ok = p.peekBounds()
		if !ok {
			return term, nil
		}
		p.consumeBounds()
		if max >= 0 && max < min {
			return nil, syntaxErr(start, "invalid repeat bounds {%d,%d}", min, max)
		}
	default:
		return term, nil
	}

	// Atoms are single bytes or groups, so a quantifier always binds to
	// exactly the preceding term; multi-byte literals only appear after
	// a group like (ab)+, where repeating the whole sequence is correct.
	return p.finishQuantifier(term, min, max)
}

// finishQuantifier wraps term in a repeat node and consumes a lazy or
// possessive suffix. Without capture or backtracking semantics, lazy
// repetition matches the same detections as greedy, so '?' is accepted
// and ignored; possessive '+' is rejected.
func (p *parser) finishQuantifier(term *Node, min, max int) (*Node, error) {
	if p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '?':
			p.pos++
		case '+':
			return nil, unsupportedErr(p.pos, "possessive quantifier")
		}
	}
	if min == 1 && max == 1 {
		return term, nil
	}
	return &Node{Op: OpRepeat, Sub: []*Node{term}, Min: min, Max: max}, nil
}

// peekBounds checks whether the '{' at the cursor opens a valid {m}, {m,}
// or {m,n} bound, without consuming input.
func (p *parser) peekBounds() (min, max int, ok bool) {
	i := p.pos
	if i >= len(p.src) || p.src[i] != '{' {
		return 0, 0, false
	}
	i++
	j := i
	for j < len(p.src) && p.src[j] >= '0' && p.src[j] <= '9' {
		j++
	}
	if j == i {
		return 0, 0, false
	}
	min, _ = strconv.Atoi(p.src[i:j])
	switch {
	case j < len(p.src) && p.src[j] == '}':
		return min, min, true
	case j < len(p.src) && p.src[j] == ',':
		j++
		k := j
		for k < len(p.src) && p.src[k] >= '0' && p.src[k] <= '9' {
			k++
		}
		if k >= len(p.src) || p.src[k] != '}' {
			return 0, 0, false
		}
		if k == j {
			return min, -1, true
		}
		max, _ = strconv.Atoi(p.src[j:k])
		return min, max, true
	}
	return 0, 0, false
}

// consumeBounds advances the cursor past a bound previously validated by
// peekBounds.
func (p *parser) consumeBounds() {
	for p.pos < len(p.src) && p.src[p.pos] != '}' {
		p.pos++
	}
	p.pos++ // consume '}'
}
