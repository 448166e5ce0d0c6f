package model

import (
	"errors"
	"sync/atomic"
)

const testFeatureDim = 4

// stubBackbone returns fixed features so tests do not need ONNX Runtime.
type stubBackbone struct {
	dim      int
	features []float32
	err      error
	calls    atomic.Int32
}

func (b *stubBackbone) Extract(input []float32) ([]float32, error) {
	b.calls.Add(1)
	if b.err != nil {
		return nil, b.err
	}
	if len(input) != 3*ImageSize*ImageSize {
		return nil, errors.New("bad input size")
	}
	if b.features != nil {
		return b.features, nil
	}
	return make([]float32, b.dim), nil
}

func (b *stubBackbone) FeatureDim() int { return b.dim }

func (b *stubBackbone) Close() error { return nil }

func filled(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// newTestStateDict builds a head whose hidden layers output zero, so the logits
// equal the final bias regardless of the features.
func newTestStateDict(inFeatures int, logits []float32) StateDict {
	sd := StateDict{}
	for _, p := range headSpecs(inFeatures) {
		n := 1
		for _, d := range p.shape {
			n *= d
		}
		sd[p.name] = &Tensor{Shape: append([]int{}, p.shape...), Data: make([]float32, n)}
	}
	for _, prefix := range []string{headPrefix + "3", headPrefix + "7"} {
		sd[prefix+".weight"].Data = filled(len(sd[prefix+".weight"].Data), 1)
		sd[prefix+".running_var"].Data = filled(len(sd[prefix+".running_var"].Data), 1)
	}
	copy(sd[headPrefix+"9.bias"].Data, logits)
	return sd
}

func newTestServer(logits []float32) (*Server, *stubBackbone, error) {
	backbone := &stubBackbone{dim: testFeatureDim}
	s, err := NewServerWithBackbone(backbone, newTestStateDict(testFeatureDim, logits))
	return s, backbone, err
}
