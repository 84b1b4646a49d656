package automaton

// Subset construction. Each deterministic state represents the set of
// nondeterministic states reachable on the same input history. The
// construction is eager and complete: every reachable deterministic
// state and all 256 of its transitions exist before Compile returns, so
// the scan loop never allocates and never discovers new states.

type dfaBuilder struct {
	n     *nfa
	infos []PatternInfo
	cfg   Config

	// sets[i] is the sorted NFA subset for deterministic state i.
	sets  [][]int32
	index map[string]int32

	next       [][]int32 // per-state 256-entry rows, flattened later
	accepts    [][]Accept
	eosAccepts [][]Accept

	// live[s] reports whether NFA state s can reach any accepting state.
	live []bool

	// dead is the canonical unconditionally-dead state, -1 until needed.
	dead int32

	marked []bool // closure scratch
}

func determinize(n *nfa, infos []PatternInfo, cfg Config) (*Automaton, error) {
	b := &dfaBuilder{
		n:      n,
		infos:  infos,
		cfg:    cfg,
		index:  make(map[string]int32),
		live:   computeLive(n),
		dead:   -1,
		marked: make([]bool, len(n.states)),
	}

	start, err := b.addSet(b.closureOf(nfaGlobalStart))
	if err != nil {
		return nil, err
	}
	loopStart, err := b.addSet(b.closureOf(nfaLoopStart))
	if err != nil {
		return nil, err
	}

	// Process states breadth first; addSet appends, so the slice is the
	// work queue.
	for i := 0; i < len(b.sets); i++ {
		if err := b.fillTransitions(int32(i)); err != nil {
			return nil, err
		}
	}

	numStates := len(b.sets)
	a := &Automaton{
		next:       make([]int32, numStates*256),
		accepts:    b.accepts,
		eosAccepts: b.eosAccepts,
		start:      start,
		loopStart:  loopStart,
		dead:       b.dead,
		patterns:   infos,
	}
	for s, row := range b.next {
		copy(a.next[s*256:], row)
	}
	return a, nil
}

func (b *dfaBuilder) closureOf(s int32) []int32 {
	return b.n.closure([]int32{s}, b.marked)
}

// addSet interns a subset, returning its deterministic state index. Dead
// subsets all collapse into one canonical dead state. Creating a state
// past the budget aborts the whole build.
func (b *dfaBuilder) addSet(set []int32) (int32, error) {
	if b.isDead(set) {
		return b.addDead()
	}

	k := setKey(set)
	if idx, ok := b.index[k]; ok {
		return idx, nil
	}

	idx := int32(len(b.sets))
	if len(b.sets)+1 > b.cfg.StateBudget {
		return 0, &BuildError{EstimatedStates: len(b.sets) + 1, Budget: b.cfg.StateBudget}
	}
	b.index[k] = idx
	b.sets = append(b.sets, set)
	b.next = append(b.next, nil)
	b.accepts = append(b.accepts, b.collectAccepts(set, false))
	b.eosAccepts = append(b.eosAccepts, b.collectAccepts(set, true))
	return idx, nil
}

// addDead creates (once) the canonical dead state: no accepts, every
// transition a self-loop. It gives fully-anchored sets an O(1) "can
// never match again" fast path.
func (b *dfaBuilder) addDead() (int32, error) {
	if b.dead >= 0 {
		return b.dead, nil
	}
	idx := int32(len(b.sets))
	if len(b.sets)+1 > b.cfg.StateBudget {
		return 0, &BuildError{EstimatedStates: len(b.sets) + 1, Budget: b.cfg.StateBudget}
	}
	b.dead = idx
	b.sets = append(b.sets, nil)
	b.next = append(b.next, nil)
	b.accepts = append(b.accepts, nil)
	b.eosAccepts = append(b.eosAccepts, nil)
	return idx, nil
}

func (b *dfaBuilder) isDead(set []int32) bool {
	for _, s := range set {
		if b.live[s] {
			return false
		}
	}
	return true
}

// fillTransitions computes the full 256-entry transition row for one
// deterministic state.
func (b *dfaBuilder) fillTransitions(state int32) error {
	row := make([]int32, 256)
	b.next[state] = row

	if state == b.dead {
		for c := range row {
			row[c] = state
		}
		return nil
	}

	set := b.sets[state]
	var move []int32
	for c := 0; c < 256; c++ {
		move = move[:0]
		for _, s := range set {
			for _, e := range b.n.states[s].edges {
				if e.lo <= byte(c) && byte(c) <= e.hi && !b.marked[e.to] {
					b.marked[e.to] = true
					move = append(move, e.to)
				}
			}
		}
		for _, s := range move {
			b.marked[s] = false
		}

		closed := b.n.closure(append([]int32(nil), move...), b.marked)
		to, err := b.addSet(closed)
		if err != nil {
			return err
		}
		row[c] = to
	}
	return nil
}

// collectAccepts gathers the accept list for a subset. Each pattern owns
// exactly one accepting NFA state, so no per-pattern deduplication is
// needed; entries come out ordered by pattern index for deterministic
// detection emission.
func (b *dfaBuilder) collectAccepts(set []int32, eos bool) []Accept {
	var out []Accept
	for _, s := range set {
		p := b.n.states[s].accept
		if eos {
			p = b.n.states[s].eosAccept
		}
		if p < 0 {
			continue
		}
		info := b.infos[p]
		maxLen := int32(info.MaxLen)
		if info.MaxLen < 0 {
			maxLen = -1
		}
		out = append(out, Accept{Pattern: p, MinLen: int32(info.MinLen), MaxLen: maxLen})
	}
	sortAccepts(out)
	return out
}

func sortAccepts(a []Accept) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j].Pattern < a[j-1].Pattern; j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}

// computeLive marks NFA states that can reach an accepting state via any
// combination of byte and epsilon edges. States that cannot are dead
// weight: a subset made only of them will never emit a detection.
func computeLive(n *nfa) []bool {
	rev := make([][]int32, len(n.states))
	for i, s := range n.states {
		for _, to := range s.eps {
			rev[to] = append(rev[to], int32(i))
		}
		for _, e := range s.edges {
			rev[e.to] = append(rev[e.to], int32(i))
		}
	}

	live := make([]bool, len(n.states))
	var queue []int32
	for i, s := range n.states {
		if s.accept >= 0 || s.eosAccept >= 0 {
			live[i] = true
			queue = append(queue, int32(i))
		}
	}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, from := range rev[s] {
			if !live[from] {
				live[from] = true
				queue = append(queue, from)
			}
		}
	}
	return live
}

// setKey builds a map key from a sorted subset.
func setKey(set []int32) string {
	buf := make([]byte, len(set)*4)
	for i, s := range set {
		buf[i*4] = byte(s)
		buf[i*4+1] = byte(s >> 8)
		buf[i*4+2] = byte(s >> 16)
		buf[i*4+3] = byte(s >> 24)
	}
	return string(buf)
}
