//go:build !gocv
// +build !gocv

package imaging

import (
	"image"

	"github.com/nfnt/resize"
)

// Backend names the resize implementation compiled in.
const Backend = "nfnt/resize"

// Resize scales img to exactly width x height with bilinear interpolation.
// Aspect ratio is not preserved.
func Resize(img image.Image, width, height int) (image.Image, error) {
	return resize.Resize(uint(width), uint(height), img, resize.Bilinear), nil
}
