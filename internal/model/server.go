package model

import (
	"image"
	"math"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"k8s.io/klog/v2"
)

// Options locate the model files and pick the runtime.
type Options struct {
	// WeightsPath is the head checkpoint.
	WeightsPath string
	// BackbonePath is the ONNX feature extractor.
	BackbonePath   string
	BackboneInput  string
	BackboneOutput string

	Device         Device
	IntraOpThreads int
	// SharedLibraryPath overrides where the onnxruntime library is loaded from.
	SharedLibraryPath string
}

// Server is the loaded model. It is read-only after construction and shared by
// every request.
type Server struct {
	backbone FeatureExtractor
	head     *Head
	ownsEnv  bool
}

// NewServer loads the checkpoint and backbone. Any error means the process
// should not start serving.
func NewServer(opts Options) (*Server, error) {
	sd, err := LoadCheckpoint(opts.WeightsPath)
	if err != nil {
		return nil, err
	}

	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "failed to initialize ONNX environment: %v", err)
	}

	backbone, err := NewONNXBackbone(BackboneOptions{
		Path:           opts.BackbonePath,
		InputName:      opts.BackboneInput,
		OutputName:     opts.BackboneOutput,
		Device:         opts.Device,
		IntraOpThreads: opts.IntraOpThreads,
	})
	if err != nil {
		ort.DestroyEnvironment()
		return nil, err
	}

	s, err := NewServerWithBackbone(backbone, sd)
	if err != nil {
		backbone.Close()
		ort.DestroyEnvironment()
		return nil, err
	}
	s.ownsEnv = true

	klog.Infof("Model loaded: weights=%s backbone=%s", opts.WeightsPath, opts.BackbonePath)
	return s, nil
}

// NewServerWithBackbone builds a server around an existing feature extractor.
// The head is matched strictly against the extractor's feature width.
func NewServerWithBackbone(backbone FeatureExtractor, sd StateDict) (*Server, error) {
	head, err := NewHead(sd, backbone.FeatureDim())
	if err != nil {
		return nil, err
	}

	return &Server{
		backbone: backbone,
		head:     head,
	}, nil
}

// Predict classifies img and ranks the topk most likely classes. topk is
// clamped to [1, NumClasses].
func (s *Server) Predict(img image.Image, topk int) (*PredictionResult, error) {
	input, err := Preprocess(img)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return nil, err
		}
		return nil, withKind(ErrInference, errors.Wrap(err, "preprocess"))
	}

	features, err := s.backbone.Extract(input)
	if err != nil {
		return nil, withKind(ErrInference, err)
	}

	logits, err := s.head.Forward(features)
	if err != nil {
		return nil, withKind(ErrInference, err)
	}
	if len(logits) != NumClasses {
		return nil, withKind(ErrInference, errors.Errorf("expected %d logits, got %d", NumClasses, len(logits)))
	}
	if i := firstNonFinite32(logits); i >= 0 {
		return nil, withKind(ErrInference, errors.Errorf("logit %d is %v", i, logits[i]))
	}

	probs := softmax(logits)
	for i, p := range probs {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, withKind(ErrInference, errors.Errorf("probability %d is %v", i, p))
		}
	}

	return newPredictionResult(probs, topk), nil
}

// firstNonFinite32 returns the index of the first NaN or infinite value, or -1.
func firstNonFinite32(values []float32) int {
	for i, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return i
		}
	}
	return -1
}

// Close releases the backbone and, when this server created it, the ONNX
// Runtime environment.
func (s *Server) Close() {
	if s.backbone != nil {
		if err := s.backbone.Close(); err != nil {
			klog.Warningf("Failed to close backbone: %v", err)
		}
	}
	if s.ownsEnv {
		ort.DestroyEnvironment()
	}
}
