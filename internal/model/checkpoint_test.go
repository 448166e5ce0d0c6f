package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCheckpoint(t *testing.T, doc any, compress bool) string {
	t.Helper()

	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	if compress {
		var buf bytes.Buffer
		gz := pgzip.NewWriter(&buf)
		_, err = gz.Write(raw)
		require.NoError(t, err)
		require.NoError(t, gz.Close())
		raw = buf.Bytes()
	}

	path := filepath.Join(t.TempDir(), "best_tomato_model.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestLoadCheckpoint_FlatMapping(t *testing.T) {
	sd := newTestStateDict(testFeatureDim, nil)
	path := writeCheckpoint(t, sd, false)

	loaded, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Len(t, loaded, len(sd))

	_, err = NewHead(loaded, testFeatureDim)
	assert.NoError(t, err)
}

func TestLoadCheckpoint_TrainingWrapper(t *testing.T) {
	sd := newTestStateDict(testFeatureDim, nil)
	doc := map[string]any{
		"epoch":                12,
		"best_val_acc":         0.981,
		"optimizer_state_dict": map[string]any{"lr": 0.001},
		"model_state_dict":     sd,
	}
	path := writeCheckpoint(t, doc, false)

	loaded, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Len(t, loaded, len(sd))

	_, err = NewHead(loaded, testFeatureDim)
	assert.NoError(t, err)
}

func TestLoadCheckpoint_Gzip(t *testing.T) {
	sd := newTestStateDict(testFeatureDim, nil)
	path := writeCheckpoint(t, map[string]any{"model_state_dict": sd}, true)

	loaded, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Len(t, loaded, len(sd))
}

func TestLoadCheckpoint_Missing(t *testing.T) {
	_, err := LoadCheckpoint(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.False(t, errors.Is(err, ErrWeightMismatch))
}

func TestReadCheckpoint_Malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "not json", doc: "PK\x03\x04 zip archive"},
		{name: "array", doc: `[1, 2, 3]`},
		{name: "empty object", doc: `{}`},
		{name: "flat with scalar", doc: `{"epoch": 3}`},
		{name: "wrapper not a mapping", doc: `{"model_state_dict": [1]}`},
		{name: "tensor without data", doc: `{"w": {"shape": [2]}}`},
		{name: "data size mismatch", doc: `{"w": {"shape": [2, 2], "data": [1, 2, 3]}}`},
		{name: "negative dim", doc: `{"w": {"shape": [-1], "data": []}}`},
		{name: "unknown tensor field", doc: `{"w": {"shape": [1], "data": [1], "dtype": "f16"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCheckpoint(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrWeightMismatch), err.Error())
		})
	}
}

func TestReadCheckpoint_ScalarTensor(t *testing.T) {
	sd, err := ReadCheckpoint(strings.NewReader(`{"bn.num_batches_tracked": {"shape": [], "data": [4410]}}`))
	require.NoError(t, err)
	require.Contains(t, sd, "bn.num_batches_tracked")
	assert.Equal(t, 1, sd["bn.num_batches_tracked"].Numel())
}

func TestNewHead_MissingParameter(t *testing.T) {
	sd := newTestStateDict(testFeatureDim, nil)
	delete(sd, "backbone.classifier.7.running_var")

	_, err := NewHead(sd, testFeatureDim)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWeightMismatch))
	assert.Contains(t, err.Error(), "missing key backbone.classifier.7.running_var")
}

func TestNewHead_UnexpectedParameter(t *testing.T) {
	sd := newTestStateDict(testFeatureDim, nil)
	sd["backbone.features.0.0.weight"] = &Tensor{Shape: []int{1}, Data: []float32{1}}

	_, err := NewHead(sd, testFeatureDim)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWeightMismatch))
	assert.Contains(t, err.Error(), "unexpected key backbone.features.0.0.weight")
}

func TestNewHead_ShapeMismatch(t *testing.T) {
	sd := newTestStateDict(testFeatureDim, nil)
	sd["backbone.classifier.9.bias"] = &Tensor{Shape: []int{38}, Data: make([]float32, 38)}

	_, err := NewHead(sd, testFeatureDim)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWeightMismatch))
	assert.Contains(t, err.Error(), "size mismatch for backbone.classifier.9.bias")
}

func TestNewHead_ReportsEveryProblem(t *testing.T) {
	sd := newTestStateDict(testFeatureDim, nil)
	delete(sd, "backbone.classifier.1.bias")
	delete(sd, "backbone.classifier.5.weight")
	sd["extra"] = &Tensor{Shape: []int{}, Data: []float32{0}}

	_, err := NewHead(sd, testFeatureDim)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "backbone.classifier.1.bias")
	assert.Contains(t, msg, "backbone.classifier.5.weight")
	assert.Contains(t, msg, "unexpected key extra")
}

func TestNewHead_RejectsNegativeRunningVariance(t *testing.T) {
	sd := newTestStateDict(testFeatureDim, nil)
	sd["backbone.classifier.7.running_var"].Data[0] = -2

	_, err := NewHead(sd, testFeatureDim)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWeightMismatch))
	assert.Contains(t, err.Error(), "negative running variance -2 in backbone.classifier.7.running_var")
}

func TestNewHead_RejectsNonFiniteValues(t *testing.T) {
	sd := newTestStateDict(testFeatureDim, nil)
	sd["backbone.classifier.1.weight"].Data[3] = float32(math.NaN())
	sd["backbone.classifier.9.bias"].Data[0] = float32(math.Inf(1))

	_, err := NewHead(sd, testFeatureDim)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWeightMismatch))
	assert.Contains(t, err.Error(), "non-finite value NaN in backbone.classifier.1.weight at 3")
	assert.Contains(t, err.Error(), "non-finite value +Inf in backbone.classifier.9.bias at 0")
}
