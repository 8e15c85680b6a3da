package dual

import (
	"log"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Predict runs a forward pass over a batch shaped
// [N, Features, Height, Width] and returns the value head's per-sample
// scalar and the policy head's per-sample distribution, flattened
// row-major. N need not match any fixed batch size: a network built
// FwdOnly predicts directly against its own graph (N must equal
// conf.BatchSize there, as in a test harness building an
// inference-only Dual), while a trainable network (loss + Grad nodes
// compiled in, graph fixed at conf.BatchSize for training) delegates
// to its internal forward-only sibling graph, which is sized to
// evalBatchSize(conf) and padded or truncated around to accept N of
// any size up to that bound.
func (d *Dual) Predict(xs *tensor.Dense) (values, policies []float32, err error) {
	if d.conf.FwdOnly {
		return d.predictOwnGraph(xs)
	}
	if d.infer == nil {
		return nil, nil, errors.New("dualnet: trainable network was built without an inference graph")
	}
	if err := d.syncInfer(); err != nil {
		return nil, nil, errors.Wrap(err, "sync inference weights")
	}
	return d.infer.predictPadded(xs)
}

// predictOwnGraph binds xs to d's own graph and runs it; xs's leading
// dimension must exactly equal the shape the graph was compiled for.
func (d *Dual) predictOwnGraph(xs *tensor.Dense) (values, policies []float32, err error) {
	if err := gorgonia.Let(d.input, xs); err != nil {
		return nil, nil, errors.Wrap(err, "bind input")
	}
	if err := d.vm.RunAll(); err != nil {
		return nil, nil, errors.Wrap(err, "forward pass")
	}
	defer d.vm.Reset()

	valueOut, err := tensorToF32(d.value.Value())
	if err != nil {
		return nil, nil, errors.Wrap(err, "read value output")
	}
	policyOut, err := tensorToF32(d.policy.Value())
	if err != nil {
		return nil, nil, errors.Wrap(err, "read policy output")
	}
	return valueOut, policyOut, nil
}

// predictPadded runs xs (N <= conf.BatchSize rows) through d's own
// graph, zero-padding up to conf.BatchSize first if N is smaller, and
// truncating the outputs back down to N rows.
func (d *Dual) predictPadded(xs *tensor.Dense) (values, policies []float32, err error) {
	n := xs.Shape()[0]
	full := d.conf.BatchSize
	if n > full {
		return nil, nil, errors.Errorf("dualnet: batch of %d exceeds eval batch size %d", n, full)
	}

	batch := xs
	if n < full {
		batch, err = padBatch(xs, full)
		if err != nil {
			return nil, nil, errors.Wrap(err, "pad eval batch")
		}
	}

	values, policies, err = d.predictOwnGraph(batch)
	if err != nil {
		return nil, nil, err
	}
	return values[:n], policies[:n*d.conf.ActionSpace], nil
}

// padBatch zero-extends xs's leading dimension to full rows, leaving
// the padding rows' feature planes zeroed.
func padBatch(xs *tensor.Dense, full int) (*tensor.Dense, error) {
	n := xs.Shape()[0]
	data, ok := xs.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("dualnet: unexpected input backing type %T", xs.Data())
	}
	rowLen := len(data) / n

	backing := make([]float32, full*rowLen)
	copy(backing, data)

	shape := xs.Shape().Clone()
	shape[0] = full
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)), nil
}

// syncInfer copies d's current learnable values into d.infer, whose
// graph is structurally identical (same weight/bias shapes; only the
// batch-dependent input/output nodes differ) but has independent Value
// storage since it's a separate gorgonia.ExprGraph.
func (d *Dual) syncInfer() error {
	if len(d.infer.learnables) != len(d.learnables) {
		return errors.Errorf("dualnet: inference graph has %d learnables, training graph has %d", len(d.infer.learnables), len(d.learnables))
	}
	for i, n := range d.learnables {
		t, ok := n.Value().(tensor.Tensor)
		if !ok {
			return errors.Errorf("dualnet: learnable %q has no tensor value", n.Name())
		}
		if err := gorgonia.Let(d.infer.learnables[i], t.Clone()); err != nil {
			return errors.Wrapf(err, "sync learnable %q", n.Name())
		}
	}
	return nil
}

func tensorToF32(v gorgonia.Value) ([]float32, error) {
	t, ok := v.(tensor.Tensor)
	if !ok {
		return nil, errors.Errorf("dualnet: unexpected value type %T", v)
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("dualnet: unexpected backing type %T", t.Data())
	}
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

// Train runs iters passes over the batches batches of examples held
// in xs/policies/values (iters*batches gradient steps in all),
// matching the call shape of the teacher's dual.Train(net, Xs,
// Policies, Values, batches, nniters) (agogo.go's LearnAZ). Each step
// slices one batch out of the dense tensors, runs the forward+backward
// pass, and applies the solver.
func Train(d *Dual, xs, policies, values *tensor.Dense, batches, iters int) error {
	if d.conf.FwdOnly {
		return errors.New("dualnet: network was built FwdOnly, cannot train")
	}

	bs := d.conf.BatchSize
	for iter := 0; iter < iters; iter++ {
		var epochLoss float32
		for b := 0; b < batches; b++ {
			xBatch, err := xs.Slice(sliceRange{b * bs, (b + 1) * bs})
			if err != nil {
				return errors.Wrap(err, "slice input batch")
			}
			pBatch, err := policies.Slice(sliceRange{b * bs, (b + 1) * bs})
			if err != nil {
				return errors.Wrap(err, "slice policy batch")
			}
			vBatch, err := values.Slice(sliceRange{b * bs, (b + 1) * bs})
			if err != nil {
				return errors.Wrap(err, "slice value batch")
			}

			if err := gorgonia.Let(d.input, xBatch); err != nil {
				return errors.Wrap(err, "bind input batch")
			}
			if err := gorgonia.Let(d.policyTarget, pBatch); err != nil {
				return errors.Wrap(err, "bind policy target")
			}
			if err := gorgonia.Let(d.valueTarget, vBatch); err != nil {
				return errors.Wrap(err, "bind value target")
			}

			if err := d.vm.RunAll(); err != nil {
				return errors.Wrap(err, "forward+backward pass")
			}

			lossVal, err := tensorToF32(d.loss.Value())
			if err == nil && len(lossVal) > 0 {
				epochLoss += lossVal[0]
			}

			if err := d.solver.Step(gorgonia.NodesToValueGrads(d.learnables)); err != nil {
				return errors.Wrap(err, "solver step")
			}
			d.vm.Reset()
		}
		log.Printf("dualnet: epoch %d/%d loss=%.4f", iter+1, iters, epochLoss/float32(batches))
	}
	return nil
}

type sliceRange struct {
	start, end int
}

func (s sliceRange) Start() int { return s.start }
func (s sliceRange) End() int   { return s.end }
func (s sliceRange) Step() int  { return 1 }
