package model

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"k8s.io/klog/v2"
)

// FeatureExtractor runs the convolutional backbone on one preprocessed image.
// Implementations must be safe for concurrent use.
type FeatureExtractor interface {
	// Extract maps a 3x224x224 CHW tensor to a FeatureDim-wide vector.
	Extract(input []float32) ([]float32, error)
	FeatureDim() int
	Close() error
}

// BackboneOptions locate and configure the ONNX backbone.
type BackboneOptions struct {
	Path           string
	InputName      string
	OutputName     string
	Device         Device
	IntraOpThreads int
}

// onnxBackbone runs the exported backbone graph. A DynamicAdvancedSession takes
// its tensors per call, so one session serves all requests.
type onnxBackbone struct {
	session     *ort.DynamicAdvancedSession
	inputShape  ort.Shape
	outputShape ort.Shape
	featureDim  int
	device      Device
}

// NewONNXBackbone opens the backbone graph and checks its input and output
// shapes. The ONNX Runtime environment must already be initialized.
func NewONNXBackbone(opts BackboneOptions) (FeatureExtractor, error) {
	if _, err := os.Stat(opts.Path); err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "backbone model not found at %s: %v", opts.Path, err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(opts.Path)
	if err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "failed to inspect backbone %s: %v", opts.Path, err)
	}

	in, err := findIO(inputs, opts.InputName)
	if err != nil {
		return nil, errors.Wrapf(ErrWeightMismatch, "backbone input: %v", err)
	}
	out, err := findIO(outputs, opts.OutputName)
	if err != nil {
		return nil, errors.Wrapf(ErrWeightMismatch, "backbone output: %v", err)
	}

	if err := checkInputDims(in.Dimensions); err != nil {
		return nil, errors.Wrapf(ErrWeightMismatch, "backbone input %q: %v", in.Name, err)
	}
	if len(out.Dimensions) != 2 || out.Dimensions[1] <= 0 {
		return nil, errors.Wrapf(ErrWeightMismatch, "backbone output %q has shape %v, want [N,F]", out.Name, out.Dimensions)
	}
	featureDim := int(out.Dimensions[1])

	var lastErr error
	for _, d := range opts.Device.candidates() {
		session, err := newBackboneSession(opts, d)
		if err != nil {
			lastErr = err
			if opts.Device == DeviceAuto {
				klog.Warningf("Device %s unavailable, trying next: %v", d, err)
			}
			continue
		}

		klog.Infof("Backbone %s loaded on %s, feature width %d", opts.Path, d, featureDim)
		return &onnxBackbone{
			session:     session,
			inputShape:  ort.NewShape(1, 3, ImageSize, ImageSize),
			outputShape: ort.NewShape(1, int64(featureDim)),
			featureDim:  featureDim,
			device:      d,
		}, nil
	}

	return nil, errors.Wrapf(ErrConfiguration, "failed to create backbone session on %s: %v", opts.Device, lastErr)
}

func newBackboneSession(opts BackboneOptions, d Device) (*ort.DynamicAdvancedSession, error) {
	sessionOpts, err := newSessionOptions(d, opts.IntraOpThreads)
	if err != nil {
		return nil, err
	}
	defer sessionOpts.Destroy()

	return ort.NewDynamicAdvancedSession(opts.Path,
		[]string{opts.InputName}, []string{opts.OutputName}, sessionOpts)
}

func findIO(infos []ort.InputOutputInfo, name string) (ort.InputOutputInfo, error) {
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
		names = append(names, info.Name)
	}
	return ort.InputOutputInfo{}, fmt.Errorf("no tensor named %q, graph has %v", name, names)
}

// checkInputDims accepts [N,3,224,224] where any dimension may be symbolic (-1)
// except the channel count.
func checkInputDims(dims ort.Shape) error {
	want := []int64{-1, 3, ImageSize, ImageSize}
	if len(dims) != len(want) {
		return fmt.Errorf("shape %v, want [N,3,%d,%d]", dims, ImageSize, ImageSize)
	}
	for i, d := range dims {
		switch {
		case i == 0:
			continue
		case i > 1 && d == -1:
			continue
		case d != want[i]:
			return fmt.Errorf("shape %v, want [N,3,%d,%d]", dims, ImageSize, ImageSize)
		}
	}
	return nil
}

func (b *onnxBackbone) Extract(input []float32) ([]float32, error) {
	inputTensor, err := ort.NewTensor(b.inputShape, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](b.outputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := b.session.Run([]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor}); err != nil {
		return nil, fmt.Errorf("backbone run failed: %w", err)
	}

	features := make([]float32, b.featureDim)
	copy(features, outputTensor.GetData())
	return features, nil
}

func (b *onnxBackbone) FeatureDim() int {
	return b.featureDim
}

func (b *onnxBackbone) Close() error {
	if b.session != nil {
		return b.session.Destroy()
	}
	return nil
}
