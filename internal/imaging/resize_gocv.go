//go:build gocv
// +build gocv

package imaging

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Backend names the resize implementation compiled in.
const Backend = "gocv"

// Resize scales img to exactly width x height with OpenCV bilinear interpolation.
// Aspect ratio is not preserved.
func Resize(img image.Image, width, height int) (image.Image, error) {
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert image to mat: %w", err)
	}
	defer src.Close()

	if src.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)

	return dst.ToImage()
}
