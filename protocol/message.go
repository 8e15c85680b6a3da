// Package protocol defines the wire messages and the buffered duplex
// channel (C8) connecting a Coordinator to each Worker. It is a direct
// port of original_source/alpha3/train.py's command tuples and
// BufferedPipe, substituting Go channels for multiprocessing.Pipe per
// spec.md §9's sanction to do so on a threaded runtime.
package protocol

import (
	"github.com/samkirby/connectzero/game"
	"github.com/samkirby/connectzero/mcts"
)

// Command tags a Message's payload, matching the
// (_TERMINATE, _EVALUATE, _EVALUATION, _RESULT) tuple in train.py.
type Command int

const (
	Terminate Command = iota
	Evaluate
	Evaluation
	Result
)

func (c Command) String() string {
	switch c {
	case Terminate:
		return "TERMINATE"
	case Evaluate:
		return "EVALUATE"
	case Evaluation:
		return "EVALUATION"
	case Result:
		return "RESULT"
	default:
		return "UNKNOWN"
	}
}

// Message is the tagged union sent over a Channel. Only the fields
// relevant to Command are populated by the sender; the receiver
// switches on Command before reading them.
type Message struct {
	Command Command

	// Evaluate: the worker's request for a (value, policy) evaluation.
	State game.State

	// Evaluation: the coordinator's response to an Evaluate request.
	Value     float32
	Expansion []mcts.ChildSpec

	// Result: a worker reporting a finished game.
	Score   float32
	History []mcts.Turn
}
