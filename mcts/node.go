package mcts

// NodeID indexes into an Instance's arena. The arena root has no
// incoming edge; every other node is reached through exactly one
// childEdge on its parent, matching the teacher's Naughty/arena
// pattern (mcts/naughty.go, mcts/tree.go in the teacher) but owned by
// a single MCTS instance instead of shared across goroutines.
type NodeID int32

const NilNode NodeID = -1

// node is a vertex of the search tree (spec.md's Node).
type node struct {
	parent   NodeID
	expanded bool

	// terminal is set when this node was expanded from a terminal game
	// state: the subtree collapses to a constant terminalValue and
	// edges stays empty.
	terminal      bool
	terminalValue float32

	// resolved marks a node whose entire subtree is terminal: itself,
	// or expanded with every child edge pointing at a resolved node.
	// Selection skips resolved children so a fully solved corner of
	// the tree (e.g. every remaining column ends the game) does not
	// get reselected forever.
	resolved bool

	edges []childEdge
}

// childEdge is a per-action statistic block on a parent node
// (spec.md's ChildEdge).
type childEdge struct {
	move       int
	child      NodeID
	prior      float32
	visits     int32
	totalValue float32
	pending    int32
}

// q returns Q(s,a): the virtual-loss-adjusted mean value of the edge.
func (e *childEdge) q() float32 {
	denom := e.visits + e.pending
	if denom < 1 {
		denom = 1
	}
	return (e.totalValue - float32(e.pending)) / float32(denom)
}
