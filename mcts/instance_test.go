package mcts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samkirby/connectzero/game"
)

func newTestInstance(t *testing.T) (*Instance, *game.ConnectK) {
	t.Helper()
	g := game.NewConnectK(3, 4, 3)
	return New(g, DefaultConfig(), 1), g
}

func expandRootUniform(t *testing.T, m *Instance, st game.State, n int) NodeID {
	t.Helper()
	leaf, _, ok := m.SelectLeaf()
	require.True(t, ok)

	children := make([]ChildSpec, n)
	for i := 0; i < n; i++ {
		children[i] = ChildSpec{Move: i, State: st.Play(i), Prior: 1.0 / float32(n)}
	}
	require.NoError(t, m.ExpandLeaf(leaf, 0, children))
	return leaf
}

func TestSelectLeafReturnsRootFirst(t *testing.T) {
	m, g := newTestInstance(t)
	leaf, st, ok := m.SelectLeaf()
	require.True(t, ok)
	assert.Equal(t, m.root, leaf)
	assert.Equal(t, g, st)
}

func TestSelectLeafBlocksSecondPendingRootSelection(t *testing.T) {
	m, _ := newTestInstance(t)
	_, _, ok := m.SelectLeaf()
	require.True(t, ok)

	_, _, ok = m.SelectLeaf()
	assert.False(t, ok, "a second root selection must wait for the first to expand")
}

func TestVirtualLossSpreadsSelectionAcrossDistinctChildren(t *testing.T) {
	m, g := newTestInstance(t)
	expandRootUniform(t, m, g, 4)

	seen := map[NodeID]bool{}
	for i := 0; i < 4; i++ {
		leaf, _, ok := m.SelectLeaf()
		require.True(t, ok)
		seen[leaf] = true
	}
	assert.Len(t, seen, 4, "4 back-to-back selections before any expand must land on 4 distinct leaves")
}

func TestTerminalLeafShortcutNeverReturnsExpandedNode(t *testing.T) {
	m, g := newTestInstance(t)
	expandRootUniform(t, m, g, 3)

	terminalLeaf, _, ok := m.SelectLeaf()
	require.True(t, ok)
	require.NoError(t, m.ExpandLeaf(terminalLeaf, 0.5, nil)) // resolves this child

	// the next two selections must skip the resolved child entirely,
	// even though PUCT revisits the root every time.
	second, st, ok := m.SelectLeaf()
	require.True(t, ok)
	assert.NotEqual(t, terminalLeaf, second)
	require.NoError(t, m.ExpandLeaf(second, 0.2, []ChildSpec{
		{Move: 0, State: st.Play(0), Prior: 0.5},
		{Move: 1, State: st.Play(1), Prior: 0.5},
	}))

	third, _, ok := m.SelectLeaf()
	require.True(t, ok)
	assert.NotEqual(t, terminalLeaf, third)
	assert.NotEqual(t, second, third)
}

func TestFullyResolvedTreeStopsProducingLeaves(t *testing.T) {
	m, g := newTestInstance(t)
	expandRootUniform(t, m, g, 2)

	for i := 0; i < 2; i++ {
		leaf, _, ok := m.SelectLeaf()
		require.True(t, ok)
		require.NoError(t, m.ExpandLeaf(leaf, 0, nil))
	}

	_, _, ok := m.SelectLeaf()
	assert.False(t, ok, "once every child is terminal the tree is fully resolved")
}

func TestExpandLeafTwiceErrors(t *testing.T) {
	m, g := newTestInstance(t)
	leaf := expandRootUniform(t, m, g, 3)
	err := m.ExpandLeaf(leaf, 0, []ChildSpec{{Move: 0, State: g.Play(0), Prior: 1}})
	assert.Error(t, err)
}

func TestDirichletNoiseAppliesOnce(t *testing.T) {
	m, g := newTestInstance(t)
	expandRootUniform(t, m, g, 3)

	before := append([]childEdge(nil), m.arena[m.root].edges...)
	require.NoError(t, m.AddDirichletNoise(0.3, 0.25))
	after := m.arena[m.root].edges

	changed := false
	for i := range before {
		if before[i].prior != after[i].prior {
			changed = true
		}
	}
	assert.True(t, changed, "noise must perturb root priors")

	snapshot := append([]childEdge(nil), after...)
	require.NoError(t, m.AddDirichletNoise(0.3, 0.25))
	for i := range snapshot {
		assert.Equal(t, snapshot[i].prior, m.arena[m.root].edges[i].prior, "noise must not reapply within a turn")
	}
}

func TestMoveProportionalRecordsHistoryAndResetsTurnCounters(t *testing.T) {
	m, g := newTestInstance(t)
	leaf := expandRootUniform(t, m, g, 4)
	require.Equal(t, m.root, leaf)

	// give child 2 all the visits so sampling is deterministic
	for i := range m.arena[m.root].edges {
		m.arena[m.root].edges[i].visits = 0
	}
	m.arena[m.root].edges[2].visits = 10

	m.MoveProportional()

	require.Len(t, m.History(), 1)
	assert.Equal(t, 1, m.Turns())
	assert.Equal(t, 0, m.SearchesThisTurn())
	probs := m.History()[0].Probs
	require.Len(t, probs, 4)
	assert.InDelta(t, 1.0, probs[2].Prob, 1e-6)
}

func TestCollectResultFlipsPerspectiveByParity(t *testing.T) {
	m, _ := newTestInstance(t)
	var s game.State = game.NewConnectK(1, 4, 2) // 2-in-a-row, tiny board
	for _, c := range []int{0, 2, 1} {            // both plays at ply 1 and 3 belong to the first mover
		s = s.Play(c)
	}
	m.current = s
	require.Equal(t, game.Loss, m.current.Outcome(), "the mover up next (second player) just lost")

	m.history = []Turn{{}} // odd parity: 3 plies played so far
	score, hist := m.CollectResult()
	assert.Equal(t, float32(1), score, "loss reported to the mover must flip to a win for the first player")
	assert.Len(t, hist, 1)
}

func TestSearchesThisTurnCountsExpansionsIncludingTerminalShortcuts(t *testing.T) {
	m, g := newTestInstance(t)
	leaf := expandRootUniform(t, m, g, 2)
	_ = leaf
	assert.Equal(t, 1, m.SearchesThisTurn())

	l, _, ok := m.SelectLeaf()
	require.True(t, ok)
	require.NoError(t, m.ExpandLeaf(l, 0, nil))
	assert.Equal(t, 2, m.SearchesThisTurn())
}
