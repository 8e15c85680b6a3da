package trainer

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	dual "github.com/samkirby/connectzero/dualnet"
	"github.com/samkirby/connectzero/game"
	"github.com/samkirby/connectzero/mcts"
	"github.com/samkirby/connectzero/protocol"
	"github.com/samkirby/connectzero/replaybuffer"
)

// Coordinator runs the wait/drain/evaluate/train cycle (C7), a direct
// generalization of original_source/alpha3/train.py's train() loop,
// the same log-line cadence as its
// `log = lambda message: print("%06.2f %s" % (monotonic()-started_at, message))`.
type Coordinator struct {
	conf   Config
	nnConf dual.Config

	net    *dual.Dual
	buffer *replaybuffer.Buffer

	workers []*protocol.Channel
	done    []<-chan struct{}

	positionShape []int
	featureLen    int
	labelLen      int
	actionSpace   int

	started time.Time
	step    int
}

// evalRequest tracks one worker's pending EVALUATE, preserving the
// per-worker arrival order the evaluator's response must honor.
type evalRequest struct {
	state   game.State
	channel *protocol.Channel
}

// New builds a Coordinator. workers are the coordinator-side ends of
// the channel pairs returned by protocol.NewPipe for each worker.
// positionShape is the per-example tensor shape State.Position() is
// reshaped into before being fed to the evaluator (Features, Height,
// Width). done[i] must close when worker i's goroutine returns
// (Worker.Done), letting shutdown join them with a bounded timeout.
func New(conf Config, nnConf dual.Config, net *dual.Dual, buffer *replaybuffer.Buffer, workers []*protocol.Channel, done []<-chan struct{}, positionShape []int, actionSpace int) *Coordinator {
	featureLen := 1
	for _, d := range positionShape {
		featureLen *= d
	}
	return &Coordinator{
		conf:          conf,
		nnConf:        nnConf,
		net:           net,
		buffer:        buffer,
		workers:       workers,
		done:          done,
		positionShape: positionShape,
		featureLen:    featureLen,
		labelLen:      1 + actionSpace,
		actionSpace:   actionSpace,
		started:       time.Now(),
	}
}

func (c *Coordinator) logf(format string, args ...interface{}) {
	elapsed := time.Since(c.started).Seconds()
	log.Printf("%06.1f "+format, append([]interface{}{elapsed}, args...)...)
}

// Run executes cycles until conf.TotalSteps training steps complete,
// then sends TERMINATE to every worker.
func (c *Coordinator) Run(checkpointDir string) error {
	for c.step < c.conf.TotalSteps {
		requests, results := c.drain()
		c.logf("received %d state(s) for evaluation", len(requests))
		c.logf("ingested %d game result(s)", len(results))

		c.ingestResults(results)

		if len(requests) > 0 {
			if err := c.evaluate(requests); err != nil {
				return errors.Wrap(err, "evaluate")
			}
		}

		if c.buffer.Len() >= 4*c.conf.BatchSize {
			if err := c.trainStep(checkpointDir); err != nil {
				return errors.Wrap(err, "train step")
			}
		}
	}

	c.logf("trained for %d step(s)", c.step)
	return c.shutdown()
}

// drain waits up to 1 second for any worker to have a batch ready,
// then keeps reading whatever else arrives within that same window,
// routing EVALUATE into requests and RESULT into results.
func (c *Coordinator) drain() (requests []evalRequest, results []protocol.Message) {
	deadline := time.NewTimer(time.Second)
	defer deadline.Stop()

	cases := make([]reflect.SelectCase, len(c.workers)+1)
	for i, w := range c.workers {
		cases[i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(w.In())}
	}
	cases[len(c.workers)] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(deadline.C)}

	for {
		idx, value, ok := reflect.Select(cases)
		if idx == len(c.workers) {
			return requests, results
		}
		if !ok {
			// a worker's channel was closed; treat like a timeout for
			// that slot by disabling its case.
			cases[idx].Chan = reflect.ValueOf((chan []protocol.Message)(nil))
			continue
		}

		batch := value.Interface().([]protocol.Message)
		ch := c.workers[idx]
		for _, msg := range batch {
			switch msg.Command {
			case protocol.Evaluate:
				requests = append(requests, evalRequest{state: msg.State, channel: ch})
			case protocol.Result:
				results = append(results, msg)
			default:
				panic("trainer: coordinator received an unexpected message " + msg.Command.String())
			}
		}
	}
}

// ingestResults walks each finished game's history, inserting one
// training example per turn with alternating-sign labels (spec.md
// §4.4): label[0] = score (mover's perspective at that turn),
// label[1+move] = π(move); score negates after each turn.
func (c *Coordinator) ingestResults(results []protocol.Message) {
	var wins, losses, draws int

	for _, r := range results {
		score := r.Score
		switch {
		case score > 1e-7:
			wins++
		case score < -1e-7:
			losses++
		default:
			draws++
		}

		for _, turn := range r.History {
			label := make([]float32, c.labelLen)
			label[0] = score

			if len(turn.Probs) == 0 {
				// Forced-terminal turn recorded with no search
				// probabilities: uniform fallback over the M
				// (actionSpace) policy slots that follow the outcome
				// (spec.md §9 Open Question).
				uniform := float32(1) / float32(c.actionSpace)
				for i := 1; i < c.labelLen; i++ {
					label[i] = uniform
				}
			} else {
				for _, p := range turn.Probs {
					label[1+p.Move] = p.Prob
				}
			}

			_ = c.buffer.Insert(turn.State.Position(), label)
			score = -score
		}
	}

	c.logf("w/l/d %d/%d/%d", wins, losses, draws)
}

// evaluate stacks every pending request's position into one batch,
// invokes the evaluator once, and routes each response back to its
// originating worker.
func (c *Coordinator) evaluate(requests []evalRequest) error {
	c.logf("evaluating %d position(s)", len(requests))

	backing := make([]float32, 0, len(requests)*c.featureLen)
	for _, r := range requests {
		backing = append(backing, r.state.Position()...)
	}
	batchShape := append([]int{len(requests)}, c.positionShape...)
	xs := tensor.New(tensor.WithShape(batchShape...), tensor.WithBacking(backing))

	values, policies, err := c.net.Predict(xs)
	if err != nil {
		return errors.Wrap(err, "evaluator predict")
	}

	touched := map[*protocol.Channel]bool{}
	for i, r := range requests {
		value := values[i]
		priors := policies[i*c.actionSpace : (i+1)*c.actionSpace]

		moves := r.state.Moves()
		var denom float32
		for _, mv := range moves {
			denom += priors[mv]
		}
		if denom <= 0 {
			denom = 1
		}

		expansion := make([]mcts.ChildSpec, len(moves))
		for j, mv := range moves {
			expansion[j] = mcts.ChildSpec{Move: mv, State: r.state.Play(mv), Prior: priors[mv] / denom}
		}

		r.channel.Send(protocol.Message{Command: protocol.Evaluation, Value: value, Expansion: expansion})
		touched[r.channel] = true
	}
	for ch := range touched {
		ch.Flush()
	}

	c.logf("evaluation complete; emitted %d response(s)", len(requests))
	return nil
}

// trainStep samples a minibatch, evaluates the joint value/policy
// loss, applies one optimizer step, and checkpoints on the configured
// cadence. The step runs at the solver's fixed learning rate
// (dual.Config.InitialLR); the schedule's rate for this step is only
// logged and is not passed to the solver.
func (c *Coordinator) trainStep(checkpointDir string) error {
	c.step++

	features, labels, err := c.buffer.Sample(c.conf.BatchSize)
	if err != nil {
		return errors.Wrap(err, "sample replay buffer")
	}
	batch := features.Shape()[0]

	if err := features.Reshape(append([]int{batch}, c.positionShape...)...); err != nil {
		return errors.Wrap(err, "reshape feature batch")
	}

	valuesView, err := labels.Slice(nil, colRange{0, 1})
	if err != nil {
		return errors.Wrap(err, "slice value column")
	}
	values, ok := valuesView.(*tensor.Dense)
	if !ok {
		return errors.New("trainer: unexpected value slice type")
	}
	values = values.Clone().(*tensor.Dense)
	if err := values.Reshape(batch); err != nil {
		return errors.Wrap(err, "flatten value column")
	}

	policiesView, err := labels.Slice(nil, colRange{1, c.labelLen})
	if err != nil {
		return errors.Wrap(err, "slice policy columns")
	}
	policies, ok := policiesView.(*tensor.Dense)
	if !ok {
		return errors.New("trainer: unexpected policy slice type")
	}
	policies = policies.Clone().(*tensor.Dense)

	c.logf("training against %d example(s) (step %d)", batch, c.step)

	if err := dual.Train(c.net, features, policies, values, 1, 1); err != nil {
		return errors.Wrap(err, "optimizer step")
	}

	c.logf("learning rate %.6g", c.conf.LearningRate(c.step))

	if checkpointDir != "" && c.conf.CheckpointEvery > 0 && c.step%c.conf.CheckpointEvery == 0 {
		if err := c.checkpoint(checkpointDir); err != nil {
			return errors.Wrap(err, "checkpoint")
		}
	}
	return nil
}

func (c *Coordinator) checkpoint(dir string) error {
	path := filepath.Join(dir, fmt.Sprintf("step-%06d", c.step))
	c.logf("checkpointing to %s", path)
	return SaveCheckpoint(path, c.net, c.nnConf, c.conf)
}

// shutdown sends TERMINATE to every worker, flushes, and gives the
// goroutines a 10-second combined budget to return before giving up
// (spec.md §5), collecting every straggler into one error.
func (c *Coordinator) shutdown() error {
	for _, w := range c.workers {
		w.Send(protocol.Message{Command: protocol.Terminate})
		w.Flush()
	}

	var merr *multierror.Error
	deadline := time.Now().Add(10 * time.Second)
	for i, done := range c.done {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			merr = multierror.Append(merr, errors.Errorf("trainer: worker %d shutdown budget exhausted", i))
			continue
		}
		select {
		case <-done:
		case <-time.After(remaining):
			merr = multierror.Append(merr, errors.Errorf("trainer: worker %d did not exit after TERMINATE", i))
		}
	}
	return merr.ErrorOrNil()
}

type colRange struct{ start, end int }

func (r colRange) Start() int { return r.start }
func (r colRange) End() int   { return r.end }
func (r colRange) Step() int  { return 1 }

// checkpointMeta mirrors agogo.go's MetaData{NNConf, MCTSConf}: the
// JSON-serializable configuration needed to reconstruct the evaluator
// graph before decoding its weights.
type checkpointMeta struct {
	TrainerConf Config      `json:"trainer_conf"`
	NNConf      dual.Config `json:"nn_conf"`
}

// SaveCheckpoint persists the evaluator's weights (gob) and the
// training + network config (json) side by side, mirroring agogo.go's
// SaveAZ/Load.
func SaveCheckpoint(dir string, net *dual.Dual, nnConf dual.Config, conf Config) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "mkdir checkpoint dir")
	}

	metaPath := filepath.Join(dir, "meta.json")
	data, err := json.MarshalIndent(checkpointMeta{TrainerConf: conf, NNConf: nnConf}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal meta")
	}
	if err := os.WriteFile(metaPath, data, 0644); err != nil {
		return errors.Wrap(err, "write meta")
	}

	weightsPath := filepath.Join(dir, "weights.gob")
	weights, err := net.GobEncode()
	if err != nil {
		return errors.Wrap(err, "encode weights")
	}
	if err := os.WriteFile(weightsPath, weights, 0644); err != nil {
		return errors.Wrap(err, "write weights")
	}
	return nil
}

// LoadCheckpoint reads back a directory written by SaveCheckpoint,
// rebuilding the evaluator graph from the saved network config before
// decoding its weights (a gorgonia ExprGraph can't be gob-decoded
// directly; only the learnable tensors round-trip, per
// dualnet/checkpoint.go).
func LoadCheckpoint(dir string) (*dual.Dual, Config, error) {
	metaPath := filepath.Join(dir, "meta.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, Config{}, errors.Wrap(err, "read meta")
	}
	var meta checkpointMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, Config{}, errors.Wrap(err, "unmarshal meta")
	}

	net := dual.New(meta.NNConf)
	if err := net.Init(); err != nil {
		return nil, Config{}, errors.Wrap(err, "init evaluator")
	}

	weightsPath := filepath.Join(dir, "weights.gob")
	weights, err := os.ReadFile(weightsPath)
	if err != nil {
		return nil, Config{}, errors.Wrap(err, "read weights")
	}
	if err := net.GobDecode(weights); err != nil {
		return nil, Config{}, errors.Wrap(err, "decode weights")
	}

	return net, meta.TrainerConf, nil
}
