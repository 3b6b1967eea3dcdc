package filters

import (
	"fmt"

	"procam-calibration/internal/opencv/safe"

	"gocv.io/x/gocv"
)

type EqualizeFilter struct{}

func NewEqualizeFilter() *EqualizeFilter {
	return &EqualizeFilter{}
}

func (e *EqualizeFilter) Name() string {
	return "equalize_hist"
}

func (e *EqualizeFilter) Apply(input *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateGray(input, e.Name()); err != nil {
		return nil, err
	}

	dst, err := safe.NewMat(input.Rows(), input.Cols(), input.Type())
	if err != nil {
		return nil, fmt.Errorf("failed to create destination Mat: %w", err)
	}

	dstMat := dst.GetMat()
	gocv.EqualizeHist(input.GetMat(), &dstMat)

	return dst, nil
}
