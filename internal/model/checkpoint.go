package model

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
)

// stateDictKey is the wrapper field the training loop stores parameters under.
const stateDictKey = "model_state_dict"

// Tensor is a dense float32 parameter in row-major order.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// Numel returns the element count implied by Shape. A scalar has one element.
func (t *Tensor) Numel() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// StateDict maps parameter names to tensors.
type StateDict map[string]*Tensor

// LoadCheckpoint reads a head checkpoint from disk. Both a flat parameter mapping
// and a training checkpoint with a model_state_dict field are accepted, plain or
// gzip-compressed.
func LoadCheckpoint(path string) (StateDict, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrConfiguration, "model weights not found at %s", path)
		}
		return nil, errors.Wrapf(ErrConfiguration, "failed to open model weights %s: %v", path, err)
	}
	defer f.Close()

	sd, err := ReadCheckpoint(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	return sd, nil
}

// ReadCheckpoint decodes a checkpoint document from r.
func ReadCheckpoint(r io.Reader) (StateDict, error) {
	br := bufio.NewReader(r)

	var src io.Reader = br
	if magic, _ := br.Peek(2); len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := pgzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrapf(ErrWeightMismatch, "bad gzip stream: %v", err)
		}
		defer gz.Close()
		src = gz
	}

	var doc map[string]json.RawMessage
	if err := json.NewDecoder(src).Decode(&doc); err != nil {
		return nil, errors.Wrapf(ErrWeightMismatch, "checkpoint is not a JSON object: %v", err)
	}

	if raw, ok := doc[stateDictKey]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, errors.Wrapf(ErrWeightMismatch, "%s is not a parameter mapping: %v", stateDictKey, err)
		}
		doc = inner
	}

	if len(doc) == 0 {
		return nil, errors.Wrap(ErrWeightMismatch, "checkpoint holds no parameters")
	}

	sd := make(StateDict, len(doc))
	for name, raw := range doc {
		t, err := decodeTensor(raw)
		if err != nil {
			return nil, errors.Wrapf(ErrWeightMismatch, "parameter %q: %v", name, err)
		}
		sd[name] = t
	}

	return sd, nil
}

func decodeTensor(raw json.RawMessage) (*Tensor, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var t Tensor
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("not a tensor: %w", err)
	}
	if t.Data == nil {
		return nil, fmt.Errorf("not a tensor: missing data")
	}
	for _, d := range t.Shape {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension in shape %v", t.Shape)
		}
	}
	if n := t.Numel(); n != len(t.Data) {
		return nil, fmt.Errorf("shape %v needs %d values, got %d", t.Shape, n, len(t.Data))
	}

	return &t, nil
}

type paramSpec struct {
	name  string
	shape []int
}

// matchStrict checks that sd holds exactly the parameters in specs with matching
// shapes. Every problem is reported, not only the first.
func matchStrict(sd StateDict, specs []paramSpec) error {
	var problems []string

	expected := make(map[string]struct{}, len(specs))
	for _, p := range specs {
		expected[p.name] = struct{}{}

		t, ok := sd[p.name]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing key %s", p.name))
			continue
		}
		if !sameShape(t.Shape, p.shape) {
			problems = append(problems, fmt.Sprintf("size mismatch for %s: checkpoint %v, model %v", p.name, t.Shape, p.shape))
		}
	}

	var unexpected []string
	for name := range sd {
		if _, ok := expected[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}
	sort.Strings(unexpected)
	for _, name := range unexpected {
		problems = append(problems, fmt.Sprintf("unexpected key %s", name))
	}

	if len(problems) > 0 {
		return errors.Wrapf(ErrWeightMismatch, "error loading state dict: %s", strings.Join(problems, "; "))
	}

	return nil
}

// checkValues rejects parameters that load cleanly but cannot produce a finite
// forward pass.
func checkValues(sd StateDict, specs []paramSpec) error {
	var problems []string

	for _, p := range specs {
		t := sd[p.name]
		if i := firstNonFinite32(t.Data); i >= 0 {
			problems = append(problems, fmt.Sprintf("non-finite value %v in %s at %d", t.Data[i], p.name, i))
			continue
		}
		if strings.HasSuffix(p.name, ".running_var") {
			for i, v := range t.Data {
				if v < 0 {
					problems = append(problems, fmt.Sprintf("negative running variance %v in %s at %d", v, p.name, i))
					break
				}
			}
		}
	}

	if len(problems) > 0 {
		return errors.Wrapf(ErrWeightMismatch, "error loading state dict: %s", strings.Join(problems, "; "))
	}

	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
