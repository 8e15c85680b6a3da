package trainer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samkirby/connectzero/game"
	"github.com/samkirby/connectzero/mcts"
	"github.com/samkirby/connectzero/protocol"
)

func testConfig() Config {
	return Config{
		Workers:            1,
		Concurrency:        1,
		TotalSteps:         1,
		CheckpointEvery:    0,
		CInit:              1.25,
		CBase:              19652,
		NoiseAlpha:         0.3,
		NoiseFraction:      0.25,
		EvaluationsPerTurn: 1,
		MaxTurns:           10,
		BufferSize:         64,
		BatchSize:          8,
		LRSchedule:         []LRStep{{Step: 0, LR: 1e-3}},
	}
}

// respondUniformly acts as a minimal stand-in for the Coordinator's
// evaluate phase: every EVALUATE gets a uniform-prior, zero-value
// response computed the same way Coordinator.evaluate does, without
// needing a real dualnet evaluator.
func respondUniformly(t *testing.T, ch *protocol.Channel, msg protocol.Message) {
	t.Helper()
	moves := msg.State.Moves()
	prior := float32(1) / float32(len(moves))
	children := make([]mcts.ChildSpec, len(moves))
	for i, mv := range moves {
		children[i] = mcts.ChildSpec{Move: mv, State: msg.State.Play(mv), Prior: prior}
	}
	ch.Send(protocol.Message{Command: protocol.Evaluation, Value: 0, Expansion: children})
}

func TestWorkerProducesResultsAndStopsOnTerminate(t *testing.T) {
	coordSide, workerSide := protocol.NewPipe(8)

	initial := game.NewConnectK(1, 3, 2)
	w := NewWorker(0, workerSide, initial, testConfig(), 7)

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	results := 0
	deadline := time.After(5 * time.Second)
	for results < 2 {
		select {
		case batch := <-coordSide.In():
			for _, msg := range batch {
				switch msg.Command {
				case protocol.Evaluate:
					respondUniformly(t, coordSide, msg)
				case protocol.Result:
					results++
				default:
					t.Fatalf("unexpected command %s", msg.Command)
				}
			}
			coordSide.Flush()
		case <-deadline:
			t.Fatal("timed out waiting for worker results")
		}
	}

	coordSide.Send(protocol.Message{Command: protocol.Terminate})
	coordSide.Flush()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit after TERMINATE")
	}
}

func TestDriveSelectionEmitsEvaluateForNonTerminalLeaf(t *testing.T) {
	coordSide, workerSide := protocol.NewPipe(8)
	initial := game.NewConnectK(2, 2, 2)
	w := NewWorker(0, workerSide, initial, testConfig(), 3)

	w.driveSelection()
	w.Channel.Flush()

	select {
	case batch := <-coordSide.In():
		require.Len(t, batch, 1)
		assert.Equal(t, protocol.Evaluate, batch[0].Command)
	case <-time.After(time.Second):
		t.Fatal("expected one EVALUATE message")
	}
}
