package dual

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// weightSnapshot is the gob wire format for one learnable node: its
// shape plus the raw float32 backing. Encoding the graph itself isn't
// possible (nodes carry closures), so GobEncode/GobDecode round-trip
// only the parameter values, matching the teacher's checkpoint
// pattern (agogo.go's SaveAZ/Load: gob the network, reload against a
// freshly built graph of the same Config).
type weightSnapshot struct {
	Shape []int
	Data  []float32
}

// GobEncode serializes the network's current learnable values in
// declaration order.
func (d *Dual) GobEncode() ([]byte, error) {
	snapshots := make([]weightSnapshot, len(d.learnables))
	for i, n := range d.learnables {
		t, ok := n.Value().(tensor.Tensor)
		if !ok {
			return nil, errors.Errorf("dualnet: learnable %q has no tensor value", n.Name())
		}
		data, ok := t.Data().([]float32)
		if !ok {
			return nil, errors.Errorf("dualnet: learnable %q backing is %T, not []float32", n.Name(), t.Data())
		}
		snapshots[i] = weightSnapshot{Shape: t.Shape().Clone(), Data: append([]float32(nil), data...)}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshots); err != nil {
		return nil, errors.Wrap(err, "gob-encode weights")
	}
	return buf.Bytes(), nil
}

// GobDecode loads weight values into an already-built graph (New must
// have been called with the matching Config first, so the learnable
// node order and shapes line up).
func (d *Dual) GobDecode(data []byte) error {
	var snapshots []weightSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snapshots); err != nil {
		return errors.Wrap(err, "gob-decode weights")
	}
	if len(snapshots) != len(d.learnables) {
		return errors.Errorf("dualnet: checkpoint has %d weights, graph has %d", len(snapshots), len(d.learnables))
	}

	for i, n := range d.learnables {
		snap := snapshots[i]
		shape := tensor.Shape(snap.Shape)
		if !shape.Eq(n.Shape()) {
			return errors.Errorf("dualnet: learnable %q shape mismatch: checkpoint %v, graph %v", n.Name(), shape, n.Shape())
		}
		t := tensor.New(tensor.WithShape(snap.Shape...), tensor.WithBacking(snap.Data))
		if err := gorgonia.Let(n, t); err != nil {
			return errors.Wrapf(err, "load weight %q", n.Name())
		}
	}
	return nil
}
