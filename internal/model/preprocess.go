package model

import (
	"image"

	"github.com/pkg/errors"

	"github.com/Brownie44l1/leaf-api/internal/imaging"
)

// Per-channel statistics of the training set. They are baked into the weights.
var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

// Preprocess converts img to the normalized 3x224x224 CHW tensor the backbone
// was trained on: RGB, resized without cropping, scaled to [0,1], then
// standardized per channel.
func Preprocess(img image.Image) ([]float32, error) {
	if img.Bounds().Empty() {
		return nil, errors.Wrapf(ErrInvalidInput, "image has no pixels (%dx%d)", img.Bounds().Dx(), img.Bounds().Dy())
	}

	resized, err := imaging.Resize(imaging.ToRGB(img), ImageSize, ImageSize)
	if err != nil {
		return nil, err
	}

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width != ImageSize || height != ImageSize {
		return nil, errors.Errorf("resize produced %dx%d, want %dx%d", width, height, ImageSize, ImageSize)
	}
	plane := width * height

	data := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			i := y*width + x
			data[i] = (float32(r)/65535.0 - channelMean[0]) / channelStd[0]
			data[plane+i] = (float32(g)/65535.0 - channelMean[1]) / channelStd[1]
			data[2*plane+i] = (float32(b)/65535.0 - channelMean[2]) / channelStd[2]
		}
	}

	return data, nil
}
