package dual

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Dual is the dual-head (policy + value) convolutional network used
// as the evaluator behind MCTS expansion. Architecture follows
// ConvNet3x3 in original_source/alpha3/models/connectk/models.py: one
// convolutional block, SharedLayers residual blocks, then a value
// head (3x3 conv to 1 filter -> flatten -> dense(64) -> dense(1) tanh)
// and a policy head (3x3 conv to 2 filters -> flatten ->
// dense(ActionSpace) softmax),
// ported from Keras layers to a gorgonia.ExprGraph.
type Dual struct {
	conf Config

	g     *gorgonia.ExprGraph
	input *gorgonia.Node

	value  *gorgonia.Node
	policy *gorgonia.Node

	valueTarget  *gorgonia.Node
	policyTarget *gorgonia.Node
	loss         *gorgonia.Node

	learnables gorgonia.Nodes

	vm     gorgonia.VM
	solver gorgonia.Solver

	// infer is a forward-only sibling graph built at a fixed batch size
	// (evalBatchSize) that Predict delegates to whenever d itself
	// carries the training graph (loss + Grad nodes, fixed at
	// conf.BatchSize). Its weights are copied in from d before every
	// Predict call, since the two graphs have independent Value storage
	// despite identical learnable shapes. nil when d.conf.FwdOnly.
	infer *Dual
}

// evalBatchSize is the fixed batch size of the forward-only graph used
// for inference: self-play evaluation batches vary in size call to
// call (they're bounded by Workers*Concurrency, not BatchSize), so
// Predict always runs against a graph built at this size and pads or
// truncates around it.
func evalBatchSize(conf Config) int {
	if conf.EvalBatchSize > 0 {
		return conf.EvalBatchSize
	}
	return conf.BatchSize
}

const kernelSize = 3

// New builds the computation graph for conf but does not compile a VM
// yet; call Init before Predict or Train.
func New(conf Config) *Dual {
	g := gorgonia.NewGraph()
	input := gorgonia.NewTensor(g, tensor.Float32, 4,
		gorgonia.WithShape(conf.BatchSize, conf.Features, conf.Height, conf.Width),
		gorgonia.WithName("input"))

	d := &Dual{conf: conf, g: g, input: input}

	x, err := d.convBlock(input, conf.Features, conf.K)
	if err != nil {
		panic(fmt.Sprintf("dualnet: building conv tower: %+v", err))
	}
	for i := 0; i < conf.SharedLayers; i++ {
		x, err = d.residualBlock(x, conf.K)
		if err != nil {
			panic(fmt.Sprintf("dualnet: building residual block %d: %+v", i, err))
		}
	}

	d.value, err = d.valueHead(x)
	if err != nil {
		panic(fmt.Sprintf("dualnet: building value head: %+v", err))
	}
	d.policy, err = d.policyHead(x)
	if err != nil {
		panic(fmt.Sprintf("dualnet: building policy head: %+v", err))
	}

	if !conf.FwdOnly {
		if err := d.buildLoss(); err != nil {
			panic(fmt.Sprintf("dualnet: building loss: %+v", err))
		}

		inferConf := conf
		inferConf.FwdOnly = true
		inferConf.BatchSize = evalBatchSize(conf)
		d.infer = New(inferConf)
	}

	return d
}

// buildLoss wires the value head's MSE against valueTarget and the
// policy head's cross-entropy against policyTarget into a single
// scalar loss node, matching the combined outcome/policy training
// objective in original_source/alpha3/models/connectk/models.py (the
// two heads are trained jointly off one forward pass).
func (d *Dual) buildLoss() error {
	d.valueTarget = gorgonia.NewVector(d.g, tensor.Float32, gorgonia.WithShape(d.conf.BatchSize), gorgonia.WithName("value_target"))
	d.policyTarget = gorgonia.NewMatrix(d.g, tensor.Float32, gorgonia.WithShape(d.conf.BatchSize, d.conf.ActionSpace), gorgonia.WithName("policy_target"))

	valueFlat, err := gorgonia.Reshape(d.value, tensor.Shape{d.conf.BatchSize})
	if err != nil {
		return errors.Wrap(err, "flatten value output")
	}
	diff, err := gorgonia.Sub(valueFlat, d.valueTarget)
	if err != nil {
		return errors.Wrap(err, "value diff")
	}
	sq, err := gorgonia.Square(diff)
	if err != nil {
		return errors.Wrap(err, "value squared error")
	}
	valueLoss, err := gorgonia.Mean(sq)
	if err != nil {
		return errors.Wrap(err, "mean value loss")
	}

	logPolicy, err := gorgonia.Log(d.policy)
	if err != nil {
		return errors.Wrap(err, "log policy")
	}
	prod, err := gorgonia.HadamardProd(logPolicy, d.policyTarget)
	if err != nil {
		return errors.Wrap(err, "policy cross entropy product")
	}
	summed, err := gorgonia.Sum(prod)
	if err != nil {
		return errors.Wrap(err, "sum policy cross entropy")
	}
	policyLoss, err := gorgonia.Neg(summed)
	if err != nil {
		return errors.Wrap(err, "negate policy cross entropy")
	}
	policyLoss, err = gorgonia.DivScalar(policyLoss, gorgonia.NewConstant(float32(d.conf.BatchSize)))
	if err != nil {
		return errors.Wrap(err, "average policy cross entropy")
	}

	total, err := gorgonia.Add(valueLoss, policyLoss)
	if err != nil {
		return errors.Wrap(err, "combine losses")
	}
	d.loss = total

	_, err = gorgonia.Grad(d.loss, d.learnables...)
	return err
}

// Init compiles the tape machine and, unless conf.FwdOnly is set,
// attaches an Adam solver with the network's weight decay folded in
// as L2 regularization.
func (d *Dual) Init() error {
	if d.conf.FwdOnly {
		d.vm = gorgonia.NewTapeMachine(d.g)
		return nil
	}
	d.vm = gorgonia.NewTapeMachine(d.g, gorgonia.BindDualValues(d.learnables...))
	d.solver = gorgonia.NewAdamSolver(
		gorgonia.WithBatchSize(float64(d.conf.BatchSize)),
		gorgonia.WithLearnRate(d.conf.InitialLR),
		gorgonia.WithL2Reg(d.conf.WeightDecay),
	)
	return d.infer.Init()
}

func (d *Dual) newWeight(shape tensor.Shape, name string) *gorgonia.Node {
	w := gorgonia.NewTensor(d.g, tensor.Float32, shape.Dims(),
		gorgonia.WithShape(shape...),
		gorgonia.WithName(name),
		gorgonia.WithInit(gorgonia.GlorotN(1.0)))
	d.learnables = append(d.learnables, w)
	return w
}

func (d *Dual) newBias(n int, name string) *gorgonia.Node {
	b := gorgonia.NewTensor(d.g, tensor.Float32, 4,
		gorgonia.WithShape(1, n, 1, 1),
		gorgonia.WithName(name),
		gorgonia.WithInit(gorgonia.Zeroes()))
	d.learnables = append(d.learnables, b)
	return b
}

func (d *Dual) convBlock(x *gorgonia.Node, in, out int) (*gorgonia.Node, error) {
	w := d.newWeight(tensor.Shape{out, in, kernelSize, kernelSize}, fmt.Sprintf("conv_w_%d", len(d.learnables)))
	conv, err := gorgonia.Conv2d(x, w, tensor.Shape{kernelSize, kernelSize}, []int{1, 1}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, errors.Wrap(err, "conv2d")
	}
	b := d.newBias(out, fmt.Sprintf("conv_b_%d", len(d.learnables)))
	added, err := gorgonia.BroadcastAdd(conv, b, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, errors.Wrap(err, "add bias")
	}
	return gorgonia.Rectify(added)
}

func (d *Dual) residualBlock(x *gorgonia.Node, filters int) (*gorgonia.Node, error) {
	first, err := d.convBlock(x, filters, filters)
	if err != nil {
		return nil, err
	}
	second, err := d.convBlock(first, filters, filters)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Add(x, second)
	if err != nil {
		return nil, errors.Wrap(err, "residual add")
	}
	return gorgonia.Rectify(sum)
}

func (d *Dual) valueHead(x *gorgonia.Node) (*gorgonia.Node, error) {
	reduced, err := d.convBlock(x, d.conf.K, 1)
	if err != nil {
		return nil, err
	}
	flat, err := gorgonia.Reshape(reduced, tensor.Shape{d.conf.BatchSize, d.conf.Height * d.conf.Width})
	if err != nil {
		return nil, errors.Wrap(err, "flatten value head")
	}
	dense, err := d.dense(flat, d.conf.Height*d.conf.Width, 64, true, "value_fc")
	if err != nil {
		return nil, err
	}
	out, err := d.dense(dense, 64, 1, false, "value_out")
	if err != nil {
		return nil, err
	}
	return gorgonia.Tanh(out)
}

func (d *Dual) policyHead(x *gorgonia.Node) (*gorgonia.Node, error) {
	reduced, err := d.convBlock(x, d.conf.K, 2)
	if err != nil {
		return nil, err
	}
	flat, err := gorgonia.Reshape(reduced, tensor.Shape{d.conf.BatchSize, 2 * d.conf.Height * d.conf.Width})
	if err != nil {
		return nil, errors.Wrap(err, "flatten policy head")
	}
	logits, err := d.dense(flat, 2*d.conf.Height*d.conf.Width, d.conf.ActionSpace, false, "policy_out")
	if err != nil {
		return nil, err
	}
	return gorgonia.SoftMax(logits)
}

func (d *Dual) dense(x *gorgonia.Node, in, out int, relu bool, name string) (*gorgonia.Node, error) {
	w := d.newWeight(tensor.Shape{in, out}, name+"_w")
	b := gorgonia.NewTensor(d.g, tensor.Float32, 1, gorgonia.WithShape(out), gorgonia.WithName(name+"_b"), gorgonia.WithInit(gorgonia.Zeroes()))
	d.learnables = append(d.learnables, b)

	mul, err := gorgonia.Mul(x, w)
	if err != nil {
		return nil, errors.Wrapf(err, "dense %s matmul", name)
	}
	added, err := gorgonia.BroadcastAdd(mul, b, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrapf(err, "dense %s bias", name)
	}
	if !relu {
		return added, nil
	}
	return gorgonia.Rectify(added)
}

// Learnables exposes the parameter nodes, used by checkpoint.go for
// gob persistence.
func (d *Dual) Learnables() gorgonia.Nodes { return d.learnables }
