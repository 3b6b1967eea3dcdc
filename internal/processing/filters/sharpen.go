package filters

import (
	"fmt"
	"image"

	"procam-calibration/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// sharpenKernel is the 3x3 high-boost kernel: centre 9, neighbours -1.
var sharpenKernel = [3][3]float32{
	{-1, -1, -1},
	{-1, 9, -1},
	{-1, -1, -1},
}

type SharpenFilter struct{}

func NewSharpenFilter() *SharpenFilter {
	return &SharpenFilter{}
}

func (s *SharpenFilter) Name() string {
	return "sharpen"
}

func (s *SharpenFilter) Apply(input *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(input, s.Name()); err != nil {
		return nil, err
	}

	kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	defer kernel.Close()
	for row := range sharpenKernel {
		for col, v := range sharpenKernel[row] {
			kernel.SetFloatAt(row, col, v)
		}
	}

	dst, err := safe.NewMat(input.Rows(), input.Cols(), input.Type())
	if err != nil {
		return nil, fmt.Errorf("failed to create destination Mat: %w", err)
	}

	dstMat := dst.GetMat()
	gocv.Filter2D(input.GetMat(), &dstMat, -1, kernel, image.Point{X: -1, Y: -1}, 0, gocv.BorderDefault)

	return dst, nil
}
