// Package replaybuffer implements the fixed-capacity training-example
// ring buffer (C5): insert overwrites the oldest slot once full,
// sample draws distinct indices uniformly from the populated prefix
// and copies them out so callers can mutate freely.
package replaybuffer

import (
	"bytes"
	"encoding/gob"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Buffer is a ring of (position, label) example pairs backed by dense
// tensors, ported from original_source/alpha3/replaybuffer.py's
// ReplayBuffer, generalized from numpy arrays to gorgonia.org/tensor
// (following the tensor-storage convention the teacher uses throughout
// agogo.go's prepareExamples).
type Buffer struct {
	features *tensor.Dense // [maxSize, featureLen]
	labels   *tensor.Dense // [maxSize, labelLen]

	featureLen int
	labelLen   int

	maxSize     int
	size        int
	oldestIndex int

	rng *rand.Rand
}

// New allocates a buffer holding up to maxSize examples, each with a
// position tensor of featureLen floats and a label of labelLen floats
// (the scalar outcome followed by the policy probabilities, the
// layout trainer.Coordinator writes).
func New(maxSize, featureLen, labelLen int, seed int64) *Buffer {
	return &Buffer{
		features:   tensor.New(tensor.WithShape(maxSize, featureLen), tensor.WithBacking(make([]float32, maxSize*featureLen))),
		labels:     tensor.New(tensor.WithShape(maxSize, labelLen), tensor.WithBacking(make([]float32, maxSize*labelLen))),
		featureLen: featureLen,
		labelLen:   labelLen,
		maxSize:    maxSize,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Len reports the number of populated slots.
func (b *Buffer) Len() int { return b.size }

// Insert writes (position, label) at oldestIndex and advances it,
// ring-overwriting once the buffer is full.
func (b *Buffer) Insert(position, label []float32) error {
	if len(position) != b.featureLen {
		return errors.Errorf("replaybuffer: position has %d features, want %d", len(position), b.featureLen)
	}
	if len(label) != b.labelLen {
		return errors.Errorf("replaybuffer: label has %d entries, want %d", len(label), b.labelLen)
	}

	for i, v := range position {
		if err := b.features.SetAt(v, b.oldestIndex, i); err != nil {
			return errors.Wrap(err, "write position")
		}
	}
	for i, v := range label {
		if err := b.labels.SetAt(v, b.oldestIndex, i); err != nil {
			return errors.Wrap(err, "write label")
		}
	}

	b.oldestIndex = (b.oldestIndex + 1) % b.maxSize
	if b.size < b.maxSize {
		b.size++
	}
	return nil
}

// Sample draws min(n, Len()) distinct indices uniformly from the
// populated prefix and returns copied-out feature/label tensors
// shaped [k, featureLen] and [k, labelLen].
func (b *Buffer) Sample(n int) (features, labels *tensor.Dense, err error) {
	k := n
	if k > b.size {
		k = b.size
	}
	if k == 0 {
		return tensor.New(tensor.WithShape(0, b.featureLen)), tensor.New(tensor.WithShape(0, b.labelLen)), nil
	}

	indices := b.rng.Perm(b.size)[:k]

	fOut := make([]float32, 0, k*b.featureLen)
	lOut := make([]float32, 0, k*b.labelLen)
	for _, idx := range indices {
		row, err := b.features.Slice(sliceRange{idx, idx + 1})
		if err != nil {
			return nil, nil, errors.Wrap(err, "slice feature row")
		}
		data, ok := row.Data().([]float32)
		if !ok {
			return nil, nil, errors.Errorf("replaybuffer: unexpected feature backing %T", row.Data())
		}
		fOut = append(fOut, data...)

		lrow, err := b.labels.Slice(sliceRange{idx, idx + 1})
		if err != nil {
			return nil, nil, errors.Wrap(err, "slice label row")
		}
		ldata, ok := lrow.Data().([]float32)
		if !ok {
			return nil, nil, errors.Errorf("replaybuffer: unexpected label backing %T", lrow.Data())
		}
		lOut = append(lOut, ldata...)
	}

	features = tensor.New(tensor.WithShape(k, b.featureLen), tensor.WithBacking(fOut))
	labels = tensor.New(tensor.WithShape(k, b.labelLen), tensor.WithBacking(lOut))
	return features, labels, nil
}

// wireFormat is the gob-serializable snapshot of a Buffer: raw
// backing slices plus the ring-buffer bookkeeping, letting a reload
// reproduce byte-identical tensor contents (spec round-trip property).
type wireFormat struct {
	FeatureLen  int
	LabelLen    int
	MaxSize     int
	Size        int
	OldestIndex int
	Features    []float32
	Labels      []float32
}

// GobEncode serializes the buffer's full backing storage and
// bookkeeping.
func (b *Buffer) GobEncode() ([]byte, error) {
	fData, ok := b.features.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("replaybuffer: unexpected feature backing %T", b.features.Data())
	}
	lData, ok := b.labels.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("replaybuffer: unexpected label backing %T", b.labels.Data())
	}

	wf := wireFormat{
		FeatureLen:  b.featureLen,
		LabelLen:    b.labelLen,
		MaxSize:     b.maxSize,
		Size:        b.size,
		OldestIndex: b.oldestIndex,
		Features:    append([]float32(nil), fData...),
		Labels:      append([]float32(nil), lData...),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wf); err != nil {
		return nil, errors.Wrap(err, "gob-encode replay buffer")
	}
	return buf.Bytes(), nil
}

// GobDecode restores a buffer previously produced by GobEncode. Only
// storage and bookkeeping are replaced: the receiver's rng is left
// as-is, or set to one seeded with 1 if the receiver has none.
func (b *Buffer) GobDecode(data []byte) error {
	var wf wireFormat
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wf); err != nil {
		return errors.Wrap(err, "gob-decode replay buffer")
	}

	b.featureLen = wf.FeatureLen
	b.labelLen = wf.LabelLen
	b.maxSize = wf.MaxSize
	b.size = wf.Size
	b.oldestIndex = wf.OldestIndex
	b.features = tensor.New(tensor.WithShape(wf.MaxSize, wf.FeatureLen), tensor.WithBacking(wf.Features))
	b.labels = tensor.New(tensor.WithShape(wf.MaxSize, wf.LabelLen), tensor.WithBacking(wf.Labels))
	if b.rng == nil {
		b.rng = rand.New(rand.NewSource(1))
	}
	return nil
}

type sliceRange struct {
	start, end int
}

func (s sliceRange) Start() int { return s.start }
func (s sliceRange) End() int   { return s.end }
func (s sliceRange) Step() int  { return 1 }
