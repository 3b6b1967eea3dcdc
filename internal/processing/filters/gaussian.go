package filters

import (
	"fmt"
	"image"

	"procam-calibration/internal/opencv/safe"

	"gocv.io/x/gocv"
)

type GaussianFilter struct {
	kernelSize int
}

// NewGaussianFilter blurs with a square kernel; sigma is derived from the
// kernel size.
func NewGaussianFilter(kernelSize int) *GaussianFilter {
	return &GaussianFilter{kernelSize: kernelSize}
}

func (g *GaussianFilter) Name() string {
	return "gaussian_blur"
}

func (g *GaussianFilter) Apply(input *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(input, g.Name()); err != nil {
		return nil, err
	}
	if err := safe.ValidateOddKernel(g.kernelSize, g.Name()); err != nil {
		return nil, err
	}

	dst, err := safe.NewMat(input.Rows(), input.Cols(), input.Type())
	if err != nil {
		return nil, fmt.Errorf("failed to create destination Mat: %w", err)
	}

	srcMat := input.GetMat()
	dstMat := dst.GetMat()
	gocv.GaussianBlur(srcMat, &dstMat, image.Point{X: g.kernelSize, Y: g.kernelSize}, 0, 0, gocv.BorderDefault)

	return dst, nil
}
