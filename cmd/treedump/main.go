// Command treedump runs a handful of searches from a fresh position
// and writes the resulting MCTS tree out as Graphviz source, using
// mcts.Instance's DOT method.
package main

import (
	"flag"
	"log"
	"os"

	"gorgonia.org/tensor"

	dual "github.com/samkirby/connectzero/dualnet"
	"github.com/samkirby/connectzero/game"
	"github.com/samkirby/connectzero/mcts"
	"github.com/samkirby/connectzero/trainer"
)

var (
	checkpointDir = flag.String("checkpoint_dir", "", "checkpoint to evaluate with; empty uses an untrained network")
	rows          = flag.Int("rows", 4, "board rows")
	cols          = flag.Int("cols", 4, "board columns")
	k             = flag.Int("k", 3, "stones in a row to win")
	searches      = flag.Int("searches", 64, "number of MCTS searches to run before dumping")
	out           = flag.String("out", "tree.dot", "output path for the Graphviz source")
)

func main() {
	flag.Parse()

	initial := game.NewConnectK(*rows, *cols, *k)

	var net *dual.Dual
	if *checkpointDir != "" {
		loaded, _, err := trainer.LoadCheckpoint(*checkpointDir)
		if err != nil {
			log.Fatalf("treedump: loading checkpoint: %+v", err)
		}
		net = loaded
	} else {
		conf := dual.DefaultConf(*rows, *cols, initial.PositionShape()[0], initial.ActionSpace())
		conf.BatchSize = 1
		conf.FwdOnly = true
		net = dual.New(conf)
		if err := net.Init(); err != nil {
			log.Fatalf("treedump: init evaluator: %+v", err)
		}
	}

	inst := mcts.New(initial, mcts.DefaultConfig(), 1)
	for i := 0; i < *searches; i++ {
		leaf, state, ok := inst.SelectLeaf()
		if !ok {
			break
		}
		if state.Outcome() != game.NoOutcome {
			if err := inst.ExpandLeaf(leaf, float32(state.Outcome()), nil); err != nil {
				log.Fatalf("treedump: expand terminal leaf: %+v", err)
			}
			continue
		}

		shape := state.PositionShape()
		xs := tensor.New(tensor.WithShape(append([]int{1}, shape...)...), tensor.WithBacking(state.Position()))
		values, policies, err := net.Predict(xs)
		if err != nil {
			log.Fatalf("treedump: evaluator predict: %+v", err)
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
		if err := inst.ExpandLeaf(leaf, values[0], children); err != nil {
			log.Fatalf("treedump: expand leaf: %+v", err)
		}
	}

	dot, err := inst.DOT()
	if err != nil {
		log.Fatalf("treedump: render dot: %+v", err)
	}
	if err := os.WriteFile(*out, []byte(dot), 0644); err != nil {
		log.Fatalf("treedump: write %s: %+v", *out, err)
	}
	log.Printf("treedump: wrote %s after %d searches", *out, inst.SearchesThisTurn())
}
