package chessboard

import (
	"fmt"
	"image"

	"procam-calibration/internal/config"
	"procam-calibration/internal/opencv/safe"
	"procam-calibration/internal/processing/chain"
	"procam-calibration/internal/processing/filters"

	"github.com/golang/geo/r2"
	"gocv.io/x/gocv"
)

const (
	baseFlags = gocv.CalibCBAdaptiveThresh | gocv.CalibCBNormalizeImage

	// Only the unfiltered pass uses FastCheck.
	directFlags = baseFlags | gocv.CalibCBFastCheck
)

// cornerStrategy preprocesses with a filter chain, runs the OpenCV corner
// finder and refines hits to sub-pixel accuracy on the preprocessed image.
type cornerStrategy struct {
	name     string
	chain    *chain.ProcessingChain
	flags    gocv.CalibCBFlag
	window   image.Point
	criteria gocv.TermCriteria
}

// DefaultStrategies returns the cascade in order of increasing
// aggressiveness: direct, histogram equalization, CLAHE, blur then sharpen,
// morphological opening.
func DefaultStrategies(cfg config.DetectorConfig) []Strategy {
	// cornerSubPix takes the half size of the search window.
	window := image.Pt(cfg.SubPixWindow, cfg.SubPixWindow)
	criteria := gocv.NewTermCriteria(gocv.Count+gocv.EPS, cfg.SubPixIterations, cfg.SubPixEpsilon)

	build := func(name string, flags gocv.CalibCBFlag, steps ...chain.ProcessingStep) Strategy {
		return &cornerStrategy{
			name:     name,
			chain:    chain.NewProcessingChain(steps...),
			flags:    flags,
			window:   window,
			criteria: criteria,
		}
	}

	return []Strategy{
		build("direct", directFlags),
		build("equalize_hist", baseFlags, filters.NewEqualizeFilter()),
		build("clahe", baseFlags, filters.NewCLAHEFilter(cfg.ClaheClipLimit, cfg.ClaheTileSize)),
		build("blur_sharpen", baseFlags, filters.NewGaussianFilter(cfg.BlurKernel), filters.NewSharpenFilter()),
		build("morph_open", baseFlags, filters.NewOpeningFilter(cfg.MorphKernel)),
	}
}

func (s *cornerStrategy) Name() string {
	return s.name
}

func (s *cornerStrategy) Find(img *safe.Mat, size image.Point) ([]r2.Point, bool, error) {
	if err := safe.ValidateGray(img, s.name); err != nil {
		return nil, false, err
	}

	prepared, err := s.chain.Execute(img)
	if err != nil {
		return nil, false, err
	}
	defer prepared.Close()

	src := prepared.GetMat()
	corners := gocv.NewMat()
	defer corners.Close()

	if !gocv.FindChessboardCorners(src, size, &corners, s.flags) {
		return nil, false, nil
	}

	gocv.CornerSubPix(src, &corners, s.window, image.Pt(-1, -1), s.criteria)

	points, err := readCorners(corners)
	if err != nil {
		return nil, false, fmt.Errorf("reading corners: %w", err)
	}
	return points, true, nil
}

// readCorners unpacks an Nx1 CV_32FC2 corner Mat.
func readCorners(corners gocv.Mat) ([]r2.Point, error) {
	data, err := corners.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("odd corner buffer length %d", len(data))
	}

	points := make([]r2.Point, len(data)/2)
	for i := range points {
		points[i] = r2.Point{X: float64(data[2*i]), Y: float64(data[2*i+1])}
	}
	return points, nil
}
