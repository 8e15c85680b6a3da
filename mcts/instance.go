// Package mcts implements the search tree (C3) and the MCTS instance
// (C4) from the design: PUCT selection, virtual-loss pipelining,
// Dirichlet root noise, and expansion driven by an external batch
// evaluator.
//
// The arena-of-nodes layout is carried over from the teacher's
// mcts/tree.go (integer node handles into a flat slice instead of
// pointer-chasing), but generalized away from the teacher's
// concurrent, per-node-mutex design: one Instance is only ever driven
// by a single worker goroutine, so no locking is needed here.
package mcts

import (
	"sort"

	"github.com/chewxy/math32"
	distrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/pkg/errors"
	"github.com/samkirby/connectzero/game"
)

// ChildSpec is one entry of the expansion list passed to ExpandLeaf:
// a legal move, the resulting state, and its prior probability.
type ChildSpec struct {
	Move  int
	State game.State
	Prior float32
}

// ProbEntry is a (move, visit-proportional probability) pair recorded
// into a Turn's improved policy.
type ProbEntry struct {
	Move int
	Prob float32
}

// Turn is one entry of an Instance's history: the state at the start
// of the turn and the improved policy computed over its root's
// children.
type Turn struct {
	State game.State
	Probs []ProbEntry
}

type edgeRef struct {
	parent NodeID
	idx    int
}

// Instance is one self-play game's search tree plus the game state it
// is currently playing (spec.md's "MCTS instance").
type Instance struct {
	Config

	initial game.State
	current game.State

	arena []node
	root  NodeID

	turns   int
	history []Turn

	searchesThisTurn int
	noiseApplied     bool

	pendingRootSelect bool
	pendingPaths      map[NodeID][]path

	rng *distrand.Rand
}

type path []edgeRef

// New creates an Instance rooted at initial.
func New(initial game.State, conf Config, seed uint64) *Instance {
	m := &Instance{
		Config:  conf,
		initial: initial,
		rng:     distrand.New(distrand.NewSource(seed)),
	}
	m.Reset(initial)
	return m
}

// Reset drops the tree and starts a fresh game at initial (spec.md
// §4.2 reset).
func (m *Instance) Reset(initial game.State) {
	m.initial = initial
	m.current = initial
	m.arena = make([]node, 1, 64)
	m.arena[0] = node{parent: NilNode}
	m.root = 0
	m.turns = 0
	m.history = nil
	m.searchesThisTurn = 0
	m.noiseApplied = false
	m.pendingRootSelect = false
	m.pendingPaths = make(map[NodeID][]path)
}

// CurrentState returns the game state at the root of the search tree.
func (m *Instance) CurrentState() game.State { return m.current }

// SearchesThisTurn reports the number of expansions completed since
// the last MoveProportional/Reset.
func (m *Instance) SearchesThisTurn() int { return m.searchesThisTurn }

// Turns reports the number of completed turns.
func (m *Instance) Turns() int { return m.turns }

// RootExpanded reports whether the root node has been expanded.
func (m *Instance) RootExpanded() bool { return m.arena[m.root].expanded }

func (m *Instance) alloc(parent NodeID) NodeID {
	m.arena = append(m.arena, node{parent: parent})
	return NodeID(len(m.arena) - 1)
}

// SelectLeaf descends the tree by PUCT, applying virtual loss along
// the way, and returns the first unexpanded node reached along with
// the game state at that node. It returns ok=false when the root is
// unexpanded and an earlier SelectLeaf call is still pending for it
// (spec.md §4.2), and when the root is resolved (every reachable leaf
// is terminal, so nothing is left to evaluate).
func (m *Instance) SelectLeaf() (leaf NodeID, state game.State, ok bool) {
	if !m.arena[m.root].expanded {
		if m.pendingRootSelect {
			return NilNode, nil, false
		}
		m.pendingRootSelect = true
		m.pendingPaths[m.root] = append(m.pendingPaths[m.root], nil)
		return m.root, m.current, true
	}

	if m.arena[m.root].resolved {
		// The whole reachable tree is terminal: there is no leaf left
		// to evaluate.
		return NilNode, nil, false
	}

	cur := m.root
	cs := m.current
	var p path

	for {
		n := &m.arena[cur]

		if !n.expanded {
			m.pendingPaths[cur] = append(m.pendingPaths[cur], p)
			return cur, cs, true
		}

		if len(n.edges) == 0 {
			// Already-expanded terminal dead end reached mid-descent:
			// the parent re-emits the cached terminal value directly,
			// without ever producing it as a leaf for evaluation.
			m.backup(p, n.terminalValue)
			cur = m.root
			cs = m.current
			p = nil
			continue
		}

		idx := m.selectEdge(n)
		n.edges[idx].pending++
		p = append(append(path(nil), p...), edgeRef{parent: cur, idx: idx})
		cur = n.edges[idx].child
		cs = cs.Play(n.edges[idx].move)
	}
}

// selectEdge picks the child edge maximizing Q(s,a) + U(s,a), ties
// broken by lowest move index (ExpandLeaf stores edges in ascending
// move order). Resolved children are skipped.
func (m *Instance) selectEdge(n *node) int {
	var parentTotal int32
	for i := range n.edges {
		parentTotal += n.edges[i].visits + n.edges[i].pending
	}

	cOfN := m.CInit + math32.Log((float32(parentTotal)+m.CBase+1)/m.CBase)
	sqrtN := math32.Sqrt(float32(parentTotal))

	best := -1
	var bestScore float32
	for i := range n.edges {
		if m.arena[n.edges[i].child].resolved {
			// Nothing more to learn from a fully-solved subtree.
			continue
		}
		e := &n.edges[i]
		denom := float32(1 + e.visits + e.pending)
		u := e.prior * sqrtN / denom * cOfN
		score := e.q() + u
		if best == -1 || score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best == -1 {
		// All children resolved; maybeResolve should have already
		// marked n itself resolved before we got here.
		best = 0
	}
	return best
}

// ExpandLeaf installs children at leaf (or marks it terminal) and
// backpropagates value along the path that produced it. It is an
// error to expand the same leaf handle twice.
func (m *Instance) ExpandLeaf(leaf NodeID, value float32, children []ChildSpec) error {
	n := &m.arena[leaf]
	if n.expanded {
		return errors.Errorf("mcts: leaf %d expanded twice", leaf)
	}

	n.expanded = true
	if len(children) == 0 {
		n.terminal = true
		n.terminalValue = value
		n.resolved = true
	} else {
		sorted := append([]ChildSpec(nil), children...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Move < sorted[j].Move })

		n.edges = make([]childEdge, len(sorted))
		for i, c := range sorted {
			child := m.alloc(leaf)
			n.edges[i] = childEdge{move: c.Move, child: child, prior: c.Prior}
		}
	}

	paths, ok := m.pendingPaths[leaf]
	if !ok || len(paths) == 0 {
		return errors.Errorf("mcts: no pending selection for leaf %d", leaf)
	}
	p := paths[0]
	if len(paths) == 1 {
		delete(m.pendingPaths, leaf)
	} else {
		m.pendingPaths[leaf] = paths[1:]
	}

	if leaf == m.root {
		m.pendingRootSelect = false
	}

	m.backup(p, value)
	m.propagateResolved(m.arena[leaf].parent)
	m.searchesThisTurn++
	return nil
}

// maybeResolve marks id resolved if it is a terminal node, or if it is
// expanded and every one of its children is already resolved. Returns
// the (possibly updated) resolved state.
func (m *Instance) maybeResolve(id NodeID) bool {
	n := &m.arena[id]
	if n.resolved {
		return true
	}
	if n.terminal {
		n.resolved = true
		return true
	}
	if !n.expanded || len(n.edges) == 0 {
		return false
	}
	for _, e := range n.edges {
		if !m.arena[e.child].resolved {
			return false
		}
	}
	n.resolved = true
	return true
}

// propagateResolved re-evaluates resolution from start up to the root,
// stopping as soon as an ancestor fails to newly resolve.
func (m *Instance) propagateResolved(start NodeID) {
	for id := start; id != NilNode; id = m.arena[id].parent {
		if !m.maybeResolve(id) {
			return
		}
	}
}

// backup walks path in reverse, alternating the sign of value at
// every step (spec.md §4.1 backpropagation).
func (m *Instance) backup(p path, value float32) {
	for i := len(p) - 1; i >= 0; i-- {
		ref := p[i]
		e := &m.arena[ref.parent].edges[ref.idx]
		e.totalValue += value
		e.visits++
		e.pending--
		value = -value
	}
}

// AddDirichletNoise perturbs the root's priors: P <- (1-fraction)*P +
// fraction*eta, eta ~ Dirichlet(alpha, ..., one concentration per root
// child). Requires the root to be expanded. Applied at most once per
// turn (spec.md §9 Open Question resolution).
func (m *Instance) AddDirichletNoise(alpha float64, fraction float32) error {
	root := &m.arena[m.root]
	if !root.expanded {
		return errors.New("mcts: cannot add dirichlet noise before root is expanded")
	}
	if m.noiseApplied || len(root.edges) == 0 {
		return nil
	}

	alphas := make([]float64, len(root.edges))
	for i := range alphas {
		alphas[i] = alpha
	}
	dir, ok := distmv.NewDirichlet(alphas, m.rng)
	if !ok {
		return errors.New("mcts: invalid dirichlet parameters")
	}
	eta := dir.Rand(nil)

	for i := range root.edges {
		root.edges[i].prior = (1-fraction)*root.edges[i].prior + fraction*float32(eta[i])
	}
	m.noiseApplied = true
	return nil
}

// MoveProportional commits a move: computes pi(a) proportional to
// N(s,a) over the root's children, records (current state, pi) into
// history, samples a move from pi, and replaces the root with the
// sampled child (spec.md §4.2).
func (m *Instance) MoveProportional() {
	root := &m.arena[m.root]

	if len(root.edges) == 0 {
		// Defensive fallback for a root that never had legal moves to
		// expand into (spec.md §9: coordinator uses a uniform fallback
		// for turns recorded with no search probabilities).
		m.history = append(m.history, Turn{State: m.current})
		m.turns++
		m.searchesThisTurn = 0
		m.noiseApplied = false
		return
	}

	var total int32
	for i := range root.edges {
		total += root.edges[i].visits
	}

	probs := make([]ProbEntry, len(root.edges))
	if total == 0 {
		uniform := float32(1) / float32(len(root.edges))
		for i, e := range root.edges {
			probs[i] = ProbEntry{Move: e.move, Prob: uniform}
		}
	} else {
		for i, e := range root.edges {
			probs[i] = ProbEntry{Move: e.move, Prob: float32(e.visits) / float32(total)}
		}
	}

	m.history = append(m.history, Turn{State: m.current, Probs: probs})

	chosen := sampleIndex(probs, m.rng)
	chosenEdge := root.edges[chosen]

	m.current = m.current.Play(chosenEdge.move)
	m.keepSubtree(chosenEdge.child)

	m.turns++
	m.searchesThisTurn = 0
	m.noiseApplied = false
}

func sampleIndex(probs []ProbEntry, rng *distrand.Rand) int {
	r := float32(rng.Float64())
	var accum float32
	for i, p := range probs {
		accum += p.Prob
		if r < accum {
			return i
		}
	}
	return len(probs) - 1
}

// keepSubtree rewrites the arena so that newRoot becomes index 0,
// compacting away everything outside its subtree (design notes §9:
// "a compacting arena swap is acceptable").
func (m *Instance) keepSubtree(newRoot NodeID) {
	var order []NodeID
	remap := make(map[NodeID]NodeID)

	var visit func(id NodeID)
	visit = func(id NodeID) {
		remap[id] = NodeID(len(order))
		order = append(order, id)
		for _, e := range m.arena[id].edges {
			visit(e.child)
		}
	}
	visit(newRoot)

	fresh := make([]node, len(order))
	for newID, oldID := range order {
		n := m.arena[oldID]
		if oldID == newRoot {
			n.parent = NilNode
		} else {
			n.parent = remap[n.parent]
		}
		for i := range n.edges {
			n.edges[i].child = remap[n.edges[i].child]
		}
		fresh[newID] = n
	}

	m.arena = fresh
	m.root = 0
	m.pendingPaths = make(map[NodeID][]path)
	m.pendingRootSelect = false
}

// Complete reports whether the current state has ended.
func (m *Instance) Complete() bool {
	return m.current.Outcome() != game.NoOutcome
}

// CollectResult returns the terminal outcome from the perspective of
// the first player to move, plus the recorded history. Requires
// Complete() or Turns() to have reached the configured max-turns
// budget (enforced by the caller, per spec.md §4.2).
func (m *Instance) CollectResult() (float32, []Turn) {
	outcome := m.current.Outcome()
	var score float32
	if outcome != game.NoOutcome {
		score = float32(outcome)
	}

	// Flip score back to the first player's perspective by undoing
	// the alternation that each turn introduces.
	if len(m.history)%2 == 1 {
		score = -score
	}
	return score, m.history
}

// History exposes the recorded turns (used by tests and callers that
// want to inspect search probabilities directly).
func (m *Instance) History() []Turn { return m.history }
