package chessboard

import (
	"errors"
	"fmt"
	"image"

	"procam-calibration/internal/logger"
	"procam-calibration/internal/opencv/conversion"
	"procam-calibration/internal/opencv/safe"

	"github.com/golang/geo/r2"
)

// ErrDetectionFailure is returned when every strategy fails to find the
// full corner grid.
var ErrDetectionFailure = errors.New("chessboard not found")

// Strategy is one preprocessing and detection attempt. Find reports
// found=false when the board is simply not visible; errors are reserved for
// failures of the strategy itself.
type Strategy interface {
	Name() string
	Find(img *safe.Mat, size image.Point) (corners []r2.Point, found bool, err error)
}

type Detection struct {
	Corners  []r2.Point
	Strategy string
	Attempts int
}

// Detector tries its strategies in order and keeps the first success.
type Detector struct {
	size       image.Point
	strategies []Strategy
	logger     logger.Logger
}

// NewDetector looks for a board with size.X corners per row and size.Y rows.
func NewDetector(size image.Point, strategies []Strategy, log logger.Logger) *Detector {
	return &Detector{
		size:       size,
		strategies: strategies,
		logger:     log,
	}
}

func (d *Detector) Size() image.Point {
	return d.size
}

func (d *Detector) StrategyNames() []string {
	names := make([]string, len(d.strategies))
	for i, s := range d.strategies {
		names[i] = s.Name()
	}
	return names
}

func (d *Detector) Detect(img *image.Gray) (Detection, error) {
	mat, err := conversion.GrayToMat(img)
	if err != nil {
		return Detection{}, fmt.Errorf("preparing image: %w", err)
	}
	defer mat.Close()

	return d.DetectMat(mat)
}

func (d *Detector) DetectMat(mat *safe.Mat) (Detection, error) {
	want := d.size.X * d.size.Y

	for i, strategy := range d.strategies {
		corners, found, err := strategy.Find(mat, d.size)
		if err != nil {
			d.logger.Debug("ChessboardDetector", "strategy failed", map[string]interface{}{
				"strategy": strategy.Name(),
				"error":    err.Error(),
			})
			continue
		}
		if !found {
			continue
		}
		if len(corners) != want {
			d.logger.Warning("ChessboardDetector", "strategy returned a partial grid", map[string]interface{}{
				"strategy": strategy.Name(),
				"corners":  len(corners),
				"expected": want,
			})
			continue
		}

		d.logger.Debug("ChessboardDetector", "chessboard found", map[string]interface{}{
			"strategy": strategy.Name(),
			"attempts": i + 1,
		})
		return Detection{Corners: corners, Strategy: strategy.Name(), Attempts: i + 1}, nil
	}

	return Detection{Attempts: len(d.strategies)}, fmt.Errorf("%w after %d strategies (%dx%d corners)",
		ErrDetectionFailure, len(d.strategies), d.size.X, d.size.Y)
}
