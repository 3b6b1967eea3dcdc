package filters

import (
	"fmt"
	"image"

	"procam-calibration/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// CLAHEFilter applies contrast limited adaptive histogram equalization.
type CLAHEFilter struct {
	clipLimit float64
	tileSize  int
}

func NewCLAHEFilter(clipLimit float64, tileSize int) *CLAHEFilter {
	return &CLAHEFilter{clipLimit: clipLimit, tileSize: tileSize}
}

func (c *CLAHEFilter) Name() string {
	return "clahe"
}

func (c *CLAHEFilter) Apply(input *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateGray(input, c.Name()); err != nil {
		return nil, err
	}

	dst, err := safe.NewMat(input.Rows(), input.Cols(), input.Type())
	if err != nil {
		return nil, fmt.Errorf("failed to create destination Mat: %w", err)
	}

	clahe := gocv.NewCLAHEWithParams(c.clipLimit, image.Point{X: c.tileSize, Y: c.tileSize})
	defer clahe.Close()

	srcMat := input.GetMat()
	dstMat := dst.GetMat()
	clahe.Apply(srcMat, &dstMat)

	return dst, nil
}
