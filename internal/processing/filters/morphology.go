package filters

import (
	"fmt"
	"image"

	"procam-calibration/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// MorphologyFilter runs a single morphological operation with a
// rectangular structuring element.
type MorphologyFilter struct {
	op         gocv.MorphType
	kernelSize int
}

func NewOpeningFilter(kernelSize int) *MorphologyFilter {
	return &MorphologyFilter{op: gocv.MorphOpen, kernelSize: kernelSize}
}

func (m *MorphologyFilter) Name() string {
	if m.op == gocv.MorphOpen {
		return "morph_open"
	}
	return fmt.Sprintf("morph_%d", int(m.op))
}

func (m *MorphologyFilter) Apply(input *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(input, m.Name()); err != nil {
		return nil, err
	}

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: m.kernelSize, Y: m.kernelSize})
	defer kernel.Close()

	result, err := safe.NewMat(input.Rows(), input.Cols(), input.Type())
	if err != nil {
		return nil, fmt.Errorf("failed to create result Mat: %w", err)
	}

	resultMat := result.GetMat()
	gocv.MorphologyEx(input.GetMat(), &resultMat, m.op, kernel)

	return result, nil
}
