package capture

import (
	"fmt"
	"image"
	"path/filepath"

	"procam-calibration/internal/chessboard"
	"procam-calibration/internal/logger"
	"procam-calibration/internal/opencv/conversion"
	"procam-calibration/internal/opencv/memory"
	"procam-calibration/internal/opencv/safe"
)

type BoardDetector interface {
	Detect(img *image.Gray) (chessboard.Detection, error)
}

// CheckResult describes whether a capture directory is likely to calibrate:
// enough white/black contrast and a visible chessboard.
type CheckResult struct {
	Name        string
	White       string
	Black       string
	WhiteMean   float64
	BlackMean   float64
	Contrast    float64
	LowContrast bool
	Found       bool
	Strategy    string
	Corners     int
	Err         error
}

func (r CheckResult) OK() bool {
	return r.Err == nil && r.Found
}

// Checker inspects capture directories without decoding them.
type Checker struct {
	detector    BoardDetector
	minContrast float64
	memory      *memory.Manager
	logger      logger.Logger
}

func NewChecker(detector BoardDetector, minContrast float64, mgr *memory.Manager, log logger.Logger) *Checker {
	return &Checker{detector: detector, minContrast: minContrast, memory: mgr, logger: log}
}

// Check takes the brighter of the last two files as the white reference and
// looks for the board in it.
func (c *Checker) Check(dir Directory) CheckResult {
	res := CheckResult{Name: dir.Name}
	if len(dir.Files) < 2 {
		res.Err = fmt.Errorf("%w: %s needs a white and a black image", ErrMissingInput, dir.Name)
		return res
	}

	a, err := conversion.ReadGray(dir.Files[len(dir.Files)-2], c.memory, dir.Name+"_check")
	if err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrMissingInput, err)
		return res
	}
	defer a.Close()
	b, err := conversion.ReadGray(dir.Files[len(dir.Files)-1], c.memory, dir.Name+"_check")
	if err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrMissingInput, err)
		return res
	}
	defer b.Close()

	white := a
	res.White, res.Black = dir.Files[len(dir.Files)-2], dir.Files[len(dir.Files)-1]
	meanA, meanB := meanOf(a), meanOf(b)
	if meanB > meanA {
		white = b
		res.White, res.Black = res.Black, res.White
		meanA, meanB = meanB, meanA
	}
	res.WhiteMean, res.BlackMean = meanA, meanB
	res.Contrast = meanA - meanB
	res.LowContrast = res.Contrast < c.minContrast

	fields := map[string]interface{}{
		"session":  dir.Name,
		"white":    filepath.Base(res.White),
		"black":    filepath.Base(res.Black),
		"contrast": res.Contrast,
	}
	if res.LowContrast {
		c.logger.Warning("CaptureChecker", "low white/black contrast may hurt corner detection", fields)
	}

	gray, err := conversion.MatToGray(white)
	if err != nil {
		res.Err = err
		return res
	}
	det, err := c.detector.Detect(gray)
	if err != nil {
		fields["attempts"] = det.Attempts
		c.logger.Warning("CaptureChecker", "chessboard not found", fields)
		return res
	}

	res.Found = true
	res.Strategy = det.Strategy
	res.Corners = len(det.Corners)
	fields["strategy"] = det.Strategy
	fields["corners"] = res.Corners
	c.logger.Info("CaptureChecker", "chessboard found", fields)
	return res
}

func meanOf(m *safe.Mat) float64 {
	mat := m.GetMat()
	return mat.Mean().Val1
}
