package model

import (
	"fmt"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// Device selects the ONNX Runtime execution provider.
type Device string

const (
	// DeviceAuto uses CUDA when the provider can be created and falls back to CPU.
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceGPU  Device = "gpu"
)

// ParseDevice validates a device name.
func ParseDevice(s string) (Device, error) {
	switch d := Device(strings.ToLower(strings.TrimSpace(s))); d {
	case DeviceAuto, DeviceCPU, DeviceGPU:
		return d, nil
	case "":
		return DeviceAuto, nil
	case "cuda":
		return DeviceGPU, nil
	default:
		return "", fmt.Errorf("unknown device %q, expected one of auto, cpu, gpu", s)
	}
}

// candidates lists the concrete devices to try, in order.
func (d Device) candidates() []Device {
	switch d {
	case DeviceCPU:
		return []Device{DeviceCPU}
	case DeviceGPU:
		return []Device{DeviceGPU}
	default:
		return []Device{DeviceGPU, DeviceCPU}
	}
}

// newSessionOptions builds session options for a concrete device.
func newSessionOptions(d Device, intraOpThreads int) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	if intraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(intraOpThreads); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	if d == DeviceGPU {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("failed to create CUDA provider options: %w", err)
		}
		defer cudaOpts.Destroy()

		if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("failed to enable CUDA provider: %w", err)
		}
	}

	return opts, nil
}
