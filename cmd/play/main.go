// Command play is an interactive human-vs-agent REPL, the direct
// descendant of the teacher's cmd/infer/main.go: load a checkpoint,
// alternate a human's column choice with an MCTS-guided move, and
// print the board via ConnectK's String() after every ply.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gorgonia.org/tensor"

	"github.com/samkirby/connectzero/game"
	"github.com/samkirby/connectzero/mcts"
	"github.com/samkirby/connectzero/trainer"
)

var (
	checkpointDir = flag.String("checkpoint_dir", "", "directory written by cmd/train's checkpoints")
	rows          = flag.Int("rows", 6, "board rows (must match the checkpoint's network)")
	cols          = flag.Int("cols", 7, "board columns (must match the checkpoint's network)")
	k             = flag.Int("k", 4, "stones in a row to win")
	searches      = flag.Int("searches", 200, "MCTS searches per agent move")
	humanFirst    = flag.Bool("human_first", true, "whether the human plays first")
)

func main() {
	flag.Parse()
	if *checkpointDir == "" {
		log.Fatal("play: -checkpoint_dir is required")
	}

	net, _, err := trainer.LoadCheckpoint(*checkpointDir)
	if err != nil {
		log.Fatalf("play: loading checkpoint: %+v", err)
	}

	g := game.NewConnectK(*rows, *cols, *k)
	inst := mcts.New(g, mcts.DefaultConfig(), 1)

	scanner := bufio.NewScanner(os.Stdin)
	humanTurn := *humanFirst

	for g.Outcome() == game.NoOutcome {
		fmt.Println(g.String())
		if humanTurn {
			g = humanMove(g, scanner)
		} else {
			move := agentMove(inst, net, *searches)
			fmt.Printf("agent plays column %d\n", move)
			g = g.Play(move).(*game.ConnectK)
		}
		inst.Reset(g)
		humanTurn = !humanTurn
	}

	fmt.Println(g.String())
	switch g.Outcome() {
	case game.Draw:
		fmt.Println("draw")
	default:
		fmt.Println("game over")
	}
}

func humanMove(g *game.ConnectK, scanner *bufio.Scanner) *game.ConnectK {
	legal := g.Moves()
	for {
		fmt.Printf("your move (legal columns: %v): ", legal)
		if !scanner.Scan() {
			log.Fatal("play: unexpected end of input")
		}
		col, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err != nil {
			fmt.Println("not a number")
			continue
		}
		for _, m := range legal {
			if m == col {
				return g.Play(col).(*game.ConnectK)
			}
		}
		fmt.Println("illegal column")
	}
}

// agentMove drives n searches through inst one at a time against net,
// then calls MoveProportional to record the turn's visit distribution
// and returns the most-visited column from it (not the column
// MoveProportional sampled); the caller plays the returned column.
func agentMove(inst *mcts.Instance, net interface {
	Predict(xs *tensor.Dense) ([]float32, []float32, error)
}, n int) int {
	for i := 0; i < n; i++ {
		leaf, state, ok := inst.SelectLeaf()
		if !ok {
			continue
		}
		if state.Outcome() != game.NoOutcome {
			_ = inst.ExpandLeaf(leaf, float32(state.Outcome()), nil)
			continue
		}

		shape := state.PositionShape()
		xs := tensor.New(tensor.WithShape(append([]int{1}, shape...)...), tensor.WithBacking(state.Position()))
		values, policies, err := net.Predict(xs)
		if err != nil {
			log.Fatalf("play: evaluator predict: %+v", err)
		}

		moves := state.Moves()
		var denom float32
		for _, mv := range moves {
			denom += policies[mv]
		}
		if denom <= 0 {
			denom = 1
		}
		children := make([]mcts.ChildSpec, len(moves))
		for j, mv := range moves {
			children[j] = mcts.ChildSpec{Move: mv, State: state.Play(mv), Prior: policies[mv] / denom}
		}
		_ = inst.ExpandLeaf(leaf, values[0], children)
	}

	beforeTurns := inst.Turns()
	inst.MoveProportional()
	history := inst.History()
	turn := history[len(history)-1]

	best := turn.Probs[0]
	for _, p := range turn.Probs[1:] {
		if p.Prob > best.Prob {
			best = p
		}
	}
	_ = beforeTurns
	return best.Move
}
