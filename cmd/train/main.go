// Command train runs the self-play training loop: Workers*Concurrency
// MCTS instances feed a central Coordinator that evaluates batches
// through a dual-head network and periodically trains against a
// replay buffer, following the structure of the teacher's
// cmd/train/main.go (flag-based config, log.SetFlags(log.Ltime)) with
// the HDFS upload step dropped — no SPEC_FULL.md component has a
// referent for Shopee's internal deployment target.
package main

import (
	"flag"
	"log"

	dual "github.com/samkirby/connectzero/dualnet"
	"github.com/samkirby/connectzero/game"
	"github.com/samkirby/connectzero/mcts"
	"github.com/samkirby/connectzero/protocol"
	"github.com/samkirby/connectzero/replaybuffer"
	"github.com/samkirby/connectzero/trainer"
)

var (
	rows            = flag.Int("rows", 6, "board rows")
	cols            = flag.Int("cols", 7, "board columns")
	k               = flag.Int("k", 4, "stones in a row to win")
	workers         = flag.Int("workers", 4, "number of self-play workers")
	concurrency     = flag.Int("concurrency", 8, "MCTS instances driven per worker")
	evaluations     = flag.Int("evaluations_per_turn", 100, "searches per move before committing")
	maxTurns        = flag.Int("max_turns", 200, "forced-draw turn budget per game")
	totalSteps      = flag.Int("total_steps", 1000, "coordinator training steps before exit")
	checkpointEvery = flag.Int("checkpoint_every", 50, "training steps between checkpoints")
	bufferSize      = flag.Int("buffer_size", 50000, "replay buffer capacity")
	batchSize       = flag.Int("batch_size", 256, "training minibatch size")
	checkpointDir   = flag.String("checkpoint_dir", "checkpoints", "directory to write checkpoints to")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime)

	initial := game.NewConnectK(*rows, *cols, *k)
	actionSpace := initial.ActionSpace()
	positionShape := initial.PositionShape()

	nnConf := dual.DefaultConf(*rows, *cols, positionShape[0], actionSpace)
	nnConf.BatchSize = *batchSize
	nnConf.EvalBatchSize = *workers * *concurrency
	net := dual.New(nnConf)
	if err := net.Init(); err != nil {
		log.Fatalf("train: init evaluator: %+v", err)
	}

	featureLen := 1
	for _, d := range positionShape {
		featureLen *= d
	}
	buffer := replaybuffer.New(*bufferSize, featureLen, 1+actionSpace, 1)

	conf := trainer.Config{
		Workers:            *workers,
		Concurrency:        *concurrency,
		TotalSteps:         *totalSteps,
		CheckpointEvery:    *checkpointEvery,
		CInit:              mcts.DefaultConfig().CInit,
		CBase:              mcts.DefaultConfig().CBase,
		NoiseAlpha:         0.3,
		NoiseFraction:      0.25,
		EvaluationsPerTurn: *evaluations,
		MaxTurns:           *maxTurns,
		BufferSize:         *bufferSize,
		BatchSize:          *batchSize,
		LRSchedule:         []trainer.LRStep{{Step: 0, LR: nnConf.InitialLR}},
	}
	if !conf.IsValid() {
		log.Fatal("train: invalid configuration")
	}

	coordSides := make([]*protocol.Channel, *workers)
	dones := make([]<-chan struct{}, *workers)
	for i := 0; i < *workers; i++ {
		coordSide, workerSide := protocol.NewPipe(8)
		coordSides[i] = coordSide

		w := trainer.NewWorker(i, workerSide, initial, conf, uint64(i+1))
		dones[i] = w.Done
		go w.Run()
	}

	coord := trainer.New(conf, nnConf, net, buffer, coordSides, dones, positionShape, actionSpace)
	if err := coord.Run(*checkpointDir); err != nil {
		log.Fatalf("train: coordinator exited with error: %+v", err)
	}
	log.Print("train: done")
}
