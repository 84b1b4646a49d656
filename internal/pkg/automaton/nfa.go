package automaton

import "github.com/streamregex/streamregex/internal/pkg/syntax"

// The nondeterministic machine uses the classic Thompson construction:
// concatenation chains fragments, alternation forks through epsilon
// edges, repetition adds backward and forward epsilon edges. States live
// in a flat arena addressed by index, so loop edges cannot create
// ownership cycles.
//
// Layout invariants:
//   - state 0 is the global start (stream offset zero)
//   - state 1 is the scanning loop: a self-transition on every byte,
//     with epsilon edges into each unanchored pattern's fragment, so
//     unanchored patterns restart "for free" at every input position
//   - start-anchored fragments hang only off the global start, so they
//     are never re-entered after offset zero

const (
	nfaGlobalStart int32 = 0
	nfaLoopStart   int32 = 1
)

type nfaEdge struct {
	lo, hi byte
	to     int32
}

type nfaState struct {
	eps   []int32
	edges []nfaEdge

	// accept is the pattern index whose match ends here, -1 if none.
	accept int32

	// eosAccept is the pattern index that matches here only at end of
	// stream (end-anchored patterns), -1 if none.
	eosAccept int32
}

type nfa struct {
	states []nfaState
}

func newNFA() *nfa {
	n := &nfa{}
	gs := n.newState() // nfaGlobalStart
	ls := n.newState() // nfaLoopStart
	n.addEps(gs, ls)
	n.addEdge(ls, 0x00, 0xFF, ls)
	return n
}

func (n *nfa) newState() int32 {
	n.states = append(n.states, nfaState{accept: -1, eosAccept: -1})
	return int32(len(n.states) - 1)
}

func (n *nfa) addEps(from, to int32) {
	n.states[from].eps = append(n.states[from].eps, to)
}

func (n *nfa) addEdge(from int32, lo, hi byte, to int32) {
	n.states[from].edges = append(n.states[from].edges, nfaEdge{lo: lo, hi: hi, to: to})
}

// addClassEdge adds edges for a byte class, folding ASCII case when the
// pattern is case-insensitive.
func (n *nfa) addClassEdge(from int32, class syntax.ByteClass, fold bool, to int32) {
	for _, r := range class {
		n.addEdge(from, r.Lo, r.Hi, to)
	}
	if !fold {
		return
	}
	for _, r := range class {
		// Letters in the range also match their other-case form.
		if lo, hi, ok := clampRange(r, 'A', 'Z'); ok {
			n.addEdge(from, lo+32, hi+32, to)
		}
		if lo, hi, ok := clampRange(r, 'a', 'z'); ok {
			n.addEdge(from, lo-32, hi-32, to)
		}
	}
}

func clampRange(r syntax.ByteRange, lo, hi byte) (byte, byte, bool) {
	cl, ch := r.Lo, r.Hi
	if cl < lo {
		cl = lo
	}
	if ch > hi {
		ch = hi
	}
	if cl > ch {
		return 0, 0, false
	}
	return cl, ch, true
}

// addPattern compiles one pattern into a fragment and wires it to the
// appropriate start state.
func (n *nfa) addPattern(pattern int32, p *syntax.Pattern) {
	fold := p.Flags.CaseInsensitive
	start, end := n.buildNode(p.Root, fold)

	if p.AnchorStart {
		n.addEps(nfaGlobalStart, start)
	} else {
		n.addEps(nfaLoopStart, start)
	}

	if p.AnchorEnd {
		n.states[end].eosAccept = pattern
	} else {
		n.states[end].accept = pattern
	}
}

// buildNode builds the Thompson fragment for one AST node and returns
// its entry and exit states. Fragments have exactly one entry and one
// exit; repetition re-builds the subtree rather than copying states.
func (n *nfa) buildNode(node *syntax.Node, fold bool) (start, end int32) {
	switch node.Op {
	case syntax.OpEmpty:
		s := n.newState()
		return s, s

	case syntax.OpLiteral:
		start = n.newState()
		cur := start
		for _, b := range node.Lit {
			next := n.newState()
			if fold && isASCIILetter(b) {
				other := b ^ 0x20
				n.addEdge(cur, b, b, next)
				n.addEdge(cur, other, other, next)
			} else {
				n.addEdge(cur, b, b, next)
			}
			cur = next
		}
		return start, cur

	case syntax.OpClass:
		start = n.newState()
		end = n.newState()
		n.addClassEdge(start, node.Class, fold, end)
		return start, end

	case syntax.OpConcat:
		start, end = n.buildNode(node.Sub[0], fold)
		for _, sub := range node.Sub[1:] {
			s, e := n.buildNode(sub, fold)
			n.addEps(end, s)
			end = e
		}
		return start, end

	case syntax.OpAlternate:
		start = n.newState()
		end = n.newState()
		for _, sub := range node.Sub {
			s, e := n.buildNode(sub, fold)
			n.addEps(start, s)
			n.addEps(e, end)
		}
		return start, end

	case syntax.OpRepeat:
		return n.buildRepeat(node, fold)
	}

	// Unreachable for well-formed ASTs.
	s := n.newState()
	return s, s
}

// buildRepeat expands a repetition. Bounded repeats unroll: min required
// copies, then max-min optional copies. Unbounded repeats do not unroll;
// they close with a single backward-epsilon loop, so `x{2,}` costs the
// states of three copies of x no matter how much input it consumes.
func (n *nfa) buildRepeat(node *syntax.Node, fold bool) (start, end int32) {
	sub := node.Sub[0]

	start = n.newState()
	cur := start

	// Required copies.
	for i := 0; i < node.Min; i++ {
		s, e := n.buildNode(sub, fold)
		n.addEps(cur, s)
		cur = e
	}

	if node.Max < 0 {
		// Counting-free loop: one more copy that may run any number of
		// times, or be skipped entirely.
		s, e := n.buildNode(sub, fold)
		exit := n.newState()
		n.addEps(cur, s)
		n.addEps(cur, exit)
		n.addEps(e, s) // loop back
		n.addEps(e, exit)
		return start, exit
	}

	// Optional copies, each skippable independently.
	exit := n.newState()
	n.addEps(cur, exit)
	for i := node.Min; i < node.Max; i++ {
		s, e := n.buildNode(sub, fold)
		n.addEps(cur, s)
		cur = e
		n.addEps(cur, exit)
	}
	return start, exit
}

func isASCIILetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// closure expands set (sorted, deduplicated) with all states reachable
// through epsilon edges, reusing scratch storage owned by the caller.
func (n *nfa) closure(set []int32, marked []bool) []int32 {
	for _, s := range set {
		marked[s] = true
	}
	// set doubles as the BFS queue; appended states are visited in turn.
	for i := 0; i < len(set); i++ {
		for _, to := range n.states[set[i]].eps {
			if !marked[to] {
				marked[to] = true
				set = append(set, to)
			}
		}
	}
	for _, s := range set {
		marked[s] = false
	}
	sortInt32s(set)
	return set
}

func sortInt32s(s []int32) {
	// Insertion sort; subset members arrive nearly ordered.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
