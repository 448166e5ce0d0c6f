package model

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

const (
	hidden1 = 1024
	hidden2 = 512

	batchNormEps = 1e-5

	// headPrefix is where the training module keeps the classifier parameters.
	headPrefix = "backbone.classifier."
)

// headSpecs lists the classifier parameters in module order:
//
//	0 Dropout(0.4), 1 Linear(in,1024), 2 ReLU, 3 BatchNorm1d(1024), 4 Dropout(0.3),
//	5 Linear(1024,512), 6 ReLU, 7 BatchNorm1d(512), 8 Dropout(0.2), 9 Linear(512,10)
func headSpecs(inFeatures int) []paramSpec {
	var specs []paramSpec
	specs = append(specs, linearSpecs(headPrefix+"1", inFeatures, hidden1)...)
	specs = append(specs, batchNormSpecs(headPrefix+"3", hidden1)...)
	specs = append(specs, linearSpecs(headPrefix+"5", hidden1, hidden2)...)
	specs = append(specs, batchNormSpecs(headPrefix+"7", hidden2)...)
	specs = append(specs, linearSpecs(headPrefix+"9", hidden2, NumClasses)...)
	return specs
}

func linearSpecs(prefix string, in, out int) []paramSpec {
	return []paramSpec{
		{name: prefix + ".weight", shape: []int{out, in}},
		{name: prefix + ".bias", shape: []int{out}},
	}
}

func batchNormSpecs(prefix string, n int) []paramSpec {
	return []paramSpec{
		{name: prefix + ".weight", shape: []int{n}},
		{name: prefix + ".bias", shape: []int{n}},
		{name: prefix + ".running_mean", shape: []int{n}},
		{name: prefix + ".running_var", shape: []int{n}},
		{name: prefix + ".num_batches_tracked", shape: []int{}},
	}
}

type linear struct {
	in, out int
	weight  []float32 // [out][in]
	bias    []float32
}

func newLinear(sd StateDict, prefix string) *linear {
	w := sd[prefix+".weight"]
	return &linear{
		out:    w.Shape[0],
		in:     w.Shape[1],
		weight: w.Data,
		bias:   sd[prefix+".bias"].Data,
	}
}

func (l *linear) forward(x []float32) []float32 {
	y := make([]float32, l.out)
	for o := 0; o < l.out; o++ {
		row := l.weight[o*l.in : (o+1)*l.in]
		sum := l.bias[o]
		for i, v := range x {
			sum += row[i] * v
		}
		y[o] = sum
	}
	return y
}

// batchNorm is BatchNorm1d with running statistics folded into one affine map.
type batchNorm struct {
	scale []float32
	shift []float32
}

func newBatchNorm(sd StateDict, prefix string) *batchNorm {
	w := sd[prefix+".weight"].Data
	b := sd[prefix+".bias"].Data
	mean := sd[prefix+".running_mean"].Data
	variance := sd[prefix+".running_var"].Data

	bn := &batchNorm{
		scale: make([]float32, len(w)),
		shift: make([]float32, len(w)),
	}
	for i := range w {
		s := float64(w[i]) / math.Sqrt(float64(variance[i])+batchNormEps)
		bn.scale[i] = float32(s)
		bn.shift[i] = float32(float64(b[i]) - float64(mean[i])*s)
	}
	return bn
}

func (bn *batchNorm) forward(x []float32) {
	for i := range x {
		x[i] = x[i]*bn.scale[i] + bn.shift[i]
	}
}

func relu(x []float32) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

// Head is the classification head in inference mode. Dropout is the identity and
// batch norm uses running statistics; there is no training mode.
type Head struct {
	fc1 *linear
	bn1 *batchNorm
	fc2 *linear
	bn2 *batchNorm
	fc3 *linear
}

// NewHead builds the head from sd. The state dict must match the architecture
// exactly for the given backbone feature width.
func NewHead(sd StateDict, inFeatures int) (*Head, error) {
	if inFeatures <= 0 {
		return nil, errors.Wrapf(ErrWeightMismatch, "invalid backbone feature width %d", inFeatures)
	}
	specs := headSpecs(inFeatures)
	if err := matchStrict(sd, specs); err != nil {
		return nil, err
	}
	if err := checkValues(sd, specs); err != nil {
		return nil, err
	}

	return &Head{
		fc1: newLinear(sd, headPrefix+"1"),
		bn1: newBatchNorm(sd, headPrefix+"3"),
		fc2: newLinear(sd, headPrefix+"5"),
		bn2: newBatchNorm(sd, headPrefix+"7"),
		fc3: newLinear(sd, headPrefix+"9"),
	}, nil
}

// InFeatures is the feature width the head consumes.
func (h *Head) InFeatures() int {
	return h.fc1.in
}

// Forward maps backbone features to class logits.
func (h *Head) Forward(features []float32) ([]float32, error) {
	if len(features) != h.fc1.in {
		return nil, fmt.Errorf("head expects %d features, got %d", h.fc1.in, len(features))
	}

	x := h.fc1.forward(features)
	relu(x)
	h.bn1.forward(x)

	x = h.fc2.forward(x)
	relu(x)
	h.bn2.forward(x)

	return h.fc3.forward(x), nil
}
