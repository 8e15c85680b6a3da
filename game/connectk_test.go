package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectKMovesOnEmptyBoard(t *testing.T) {
	g := NewConnectK(6, 7, 4)
	assert.Len(t, g.Moves(), 7)
	assert.Equal(t, NoOutcome, g.Outcome())
}

func TestConnectKGravity(t *testing.T) {
	g := NewConnectK(6, 7, 4)
	s := g.Play(3).(*ConnectK)
	// the mover's stone was recorded into the opponent-facing plane of
	// the child (plane 1), at the bottom row.
	require.Equal(t, 1, s.Stone(5, 3))
	s2 := s.Play(3).(*ConnectK)
	require.Equal(t, 1, s2.Stone(4, 3))
}

func TestConnectKHorizontalWinReportedAsLoss(t *testing.T) {
	var s State = NewConnectK(6, 7, 4)
	// the first player fills the bottom row of columns 0-3 while the
	// second player stacks in column 6: 0,6,1,6,2,6,3
	cols := []int{0, 6, 1, 6, 2, 6, 3}
	for i, c := range cols {
		next := s.Play(c)
		if i == len(cols)-1 {
			require.Equal(t, Loss, next.Outcome(), "mover to move next just lost")
		} else {
			require.Equal(t, NoOutcome, next.Outcome())
		}
		s = next
	}
}

func TestConnectKFullBoardDraw(t *testing.T) {
	// 1x4 board, k=5 (unreachable) forces a draw once full.
	var s State = NewConnectK(1, 4, 5)
	for _, c := range []int{0, 1, 2, 3} {
		s = s.Play(c)
	}
	assert.Equal(t, Draw, s.Outcome())
}

func TestConnectKMovesEmptyWhenTerminal(t *testing.T) {
	var s State = NewConnectK(1, 4, 5)
	for _, c := range []int{0, 1, 2, 3} {
		s = s.Play(c)
	}
	assert.Empty(t, s.Moves())
}

func TestConnectKPositionShapeMatchesPosition(t *testing.T) {
	g := NewConnectK(6, 7, 4)
	shape := g.PositionShape()
	total := 1
	for _, d := range shape {
		total *= d
	}
	assert.Len(t, g.Position(), total)
}
