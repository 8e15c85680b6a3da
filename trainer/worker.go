package trainer

import (
	"github.com/samkirby/connectzero/game"
	"github.com/samkirby/connectzero/mcts"
	"github.com/samkirby/connectzero/protocol"
)

// Worker owns Concurrency MCTS instances and drives them cooperatively
// on a single goroutine, ported almost line-for-line from
// original_source/alpha3/train.py's _worker: two queues,
// pendingSelection and pendingEvaluation, with the channel's FIFO
// per-worker ordering contract standing in for the pipe.
type Worker struct {
	ID      int
	Channel *protocol.Channel

	// Done is closed when Run returns, letting the launcher join worker
	// goroutines with a bounded timeout (see Coordinator.shutdown).
	Done chan struct{}

	initial            game.State
	evaluationsPerTurn int
	maxTurns           int
	noiseAlpha         float64
	noiseFraction      float32

	pendingSelection  []*mcts.Instance
	pendingEvaluation []pendingEval
}

type pendingEval struct {
	instance *mcts.Instance
	leaf     mcts.NodeID
}

// NewWorker builds a worker with Concurrency fresh MCTS instances
// rooted at initial.
func NewWorker(id int, ch *protocol.Channel, initial game.State, conf Config, seed uint64) *Worker {
	w := &Worker{
		ID:                 id,
		Channel:            ch,
		Done:               make(chan struct{}),
		initial:            initial,
		evaluationsPerTurn: conf.EvaluationsPerTurn,
		maxTurns:           conf.MaxTurns,
		noiseAlpha:         conf.NoiseAlpha,
		noiseFraction:      conf.NoiseFraction,
	}
	mctsConf := mcts.Config{CInit: conf.CInit, CBase: conf.CBase}
	for i := 0; i < conf.Concurrency; i++ {
		w.pendingSelection = append(w.pendingSelection, mcts.New(initial, mctsConf, seed+uint64(i)))
	}
	return w
}

// Run drives the worker until a TERMINATE message arrives, closing
// Done on the way out.
func (w *Worker) Run() {
	defer close(w.Done)
	for {
		w.driveSelection()
		w.Channel.Flush()

		if len(w.pendingEvaluation) == 0 {
			continue
		}

		batch := w.Channel.Recv()
		for _, msg := range batch {
			switch msg.Command {
			case protocol.Terminate:
				return
			case protocol.Evaluation:
				pe := w.pendingEvaluation[0]
				w.pendingEvaluation = w.pendingEvaluation[1:]
				if err := pe.instance.ExpandLeaf(pe.leaf, msg.Value, msg.Expansion); err != nil {
					panic("trainer: worker received an invalid evaluation: " + err.Error())
				}
				w.pendingSelection = append(w.pendingSelection, pe.instance)
			default:
				panic("trainer: worker received an unexpected message " + msg.Command.String())
			}
		}
	}
}

// driveSelection processes every instance currently awaiting
// selection work, emitting RESULT/EVALUATE messages and re-queuing
// each instance into pendingSelection or pendingEvaluation.
func (w *Worker) driveSelection() {
	queue := w.pendingSelection
	w.pendingSelection = nil

	for len(queue) > 0 {
		inst := queue[0]
		queue = queue[1:]

		if inst.SearchesThisTurn() >= w.evaluationsPerTurn {
			inst.MoveProportional()

			if inst.Complete() || inst.Turns() >= w.maxTurns {
				score, history := inst.CollectResult()
				w.Channel.Send(protocol.Message{Command: protocol.Result, Score: score, History: history})
				inst.Reset(w.initial)
				w.pendingSelection = append(w.pendingSelection, inst)
				continue
			}
		}

		if inst.RootExpanded() {
			// Gated on the root being expanded rather than
			// SearchesThisTurn()==0: on turn 0 the root is unexpanded
			// at that point, so gating on the search count would skip
			// noise for the game's very first turn. AddDirichletNoise
			// itself no-ops once applied, so calling it on every pass
			// once the root is expanded is safe and still applies
			// noise exactly once per turn.
			_ = inst.AddDirichletNoise(w.noiseAlpha, w.noiseFraction)
		}

		leaf, state, ok := inst.SelectLeaf()
		if !ok {
			w.pendingSelection = append(w.pendingSelection, inst)
			continue
		}

		if state.Outcome() != game.NoOutcome {
			_ = inst.ExpandLeaf(leaf, float32(state.Outcome()), nil)
			w.pendingSelection = append(w.pendingSelection, inst)
			continue
		}

		w.pendingEvaluation = append(w.pendingEvaluation, pendingEval{instance: inst, leaf: leaf})
		w.Channel.Send(protocol.Message{Command: protocol.Evaluate, State: state})
	}
}
