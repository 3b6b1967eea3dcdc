package pattern

import (
	"fmt"
	"path/filepath"

	"procam-calibration/internal/config"
	"procam-calibration/internal/logger"
	"procam-calibration/internal/opencv/conversion"
	"procam-calibration/internal/opencv/safe"

	"gocv.io/x/gocv"
)

type ImageKind string

const (
	KindWhite   ImageKind = "white"
	KindBlack   ImageKind = "black"
	KindStripes ImageKind = "stripes"
	KindFlat    ImageKind = "flat"
)

// Metrics are the per-image measurements the validator scores.
type Metrics struct {
	Width       int
	Height      int
	Mean        float64
	Std         float64
	NonBinary   int
	EdgeRatio   float64
	GradRatio   float64
	GradMagMean float64
}

type Finding struct {
	Path     string
	Kind     ImageKind
	Metrics  Metrics
	Problems []string
}

type ValidationReport struct {
	Findings []Finding
	Problems []string
}

func (r ValidationReport) OK() bool {
	if len(r.Problems) > 0 {
		return false
	}
	for _, f := range r.Findings {
		if len(f.Problems) > 0 {
			return false
		}
	}
	return true
}

type Validator struct {
	quality config.PatternQuality
	logger  logger.Logger
}

func NewValidator(quality config.PatternQuality, log logger.Logger) *Validator {
	return &Validator{quality: quality, logger: log}
}

// ValidateFiles checks a pattern set on disk. When plan is non-nil the set
// size and resolution must also match it.
func (v *Validator) ValidateFiles(paths []string, plan *Plan) (ValidationReport, error) {
	report := ValidationReport{}
	if len(paths) == 0 {
		return report, fmt.Errorf("no pattern images given")
	}

	var whites, blacks int
	var size [2]int

	for i, path := range paths {
		mat, err := conversion.ReadGray(path, nil, filepath.Base(path))
		if err != nil {
			return report, err
		}
		metrics, err := v.Measure(mat)
		mat.Close()
		if err != nil {
			return report, fmt.Errorf("measuring %s: %w", path, err)
		}

		finding := v.classify(path, metrics)
		switch finding.Kind {
		case KindWhite:
			whites++
		case KindBlack:
			blacks++
		}

		if i == 0 {
			size = [2]int{metrics.Width, metrics.Height}
		} else if size != [2]int{metrics.Width, metrics.Height} {
			finding.Problems = append(finding.Problems,
				fmt.Sprintf("size %dx%d differs from %dx%d", metrics.Width, metrics.Height, size[0], size[1]))
		}
		if plan != nil && (metrics.Width != plan.ProjectorWidth || metrics.Height != plan.ProjectorHeight) {
			finding.Problems = append(finding.Problems,
				fmt.Sprintf("size %dx%d does not match projector %dx%d",
					metrics.Width, metrics.Height, plan.ProjectorWidth, plan.ProjectorHeight))
		}

		v.logger.Debug("PatternValidator", "image measured", map[string]interface{}{
			"path":       path,
			"kind":       finding.Kind,
			"std":        metrics.Std,
			"edge_ratio": metrics.EdgeRatio,
			"grad_ratio": metrics.GradRatio,
		})
		report.Findings = append(report.Findings, finding)
	}

	if whites != 1 {
		report.Problems = append(report.Problems, fmt.Sprintf("expected exactly one white image, found %d", whites))
	}
	if blacks != 1 {
		report.Problems = append(report.Problems, fmt.Sprintf("expected exactly one black image, found %d", blacks))
	}
	if plan != nil && len(paths) != plan.ImageCount() {
		report.Problems = append(report.Problems,
			fmt.Sprintf("expected %d images for %s, found %d", plan.ImageCount(), plan, len(paths)))
	}

	return report, nil
}

// Measure computes intensity, edge and gradient statistics of an 8-bit
// grayscale Mat.
func (v *Validator) Measure(mat *safe.Mat) (Metrics, error) {
	if err := safe.ValidateGray(mat, "pattern measurement"); err != nil {
		return Metrics{}, err
	}
	if err := safe.ValidateOddKernel(v.quality.SobelKernel, "pattern gradient"); err != nil {
		return Metrics{}, err
	}

	src := mat.GetMat()
	total := float64(mat.Rows() * mat.Cols())
	m := Metrics{Width: mat.Cols(), Height: mat.Rows()}

	data, err := mat.Bytes()
	if err != nil {
		return m, err
	}
	for _, px := range data {
		if px != 0 && px != 255 {
			m.NonBinary++
		}
	}

	mean := gocv.NewMat()
	defer mean.Close()
	stddev := gocv.NewMat()
	defer stddev.Close()
	gocv.MeanStdDev(src, &mean, &stddev)
	m.Mean = mean.GetDoubleAt(0, 0)
	m.Std = stddev.GetDoubleAt(0, 0)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(src, &edges, v.quality.CannyLow, v.quality.CannyHigh)
	m.EdgeRatio = float64(gocv.CountNonZero(edges)) / total

	dx := gocv.NewMat()
	defer dx.Close()
	dy := gocv.NewMat()
	defer dy.Close()
	gocv.Sobel(src, &dx, gocv.MatTypeCV32F, 1, 0, v.quality.SobelKernel, 1, 0, gocv.BorderDefault)
	gocv.Sobel(src, &dy, gocv.MatTypeCV32F, 0, 1, v.quality.SobelKernel, 1, 0, gocv.BorderDefault)

	magnitude := gocv.NewMat()
	defer magnitude.Close()
	gocv.Magnitude(dx, dy, &magnitude)
	m.GradMagMean = magnitude.Mean().Val1

	strong := gocv.NewMat()
	defer strong.Close()
	gocv.Threshold(magnitude, &strong, float32(v.quality.GradMagThreshold), 1, gocv.ThresholdBinary)
	m.GradRatio = float64(gocv.CountNonZero(strong)) / total

	return m, nil
}

func (v *Validator) classify(path string, m Metrics) Finding {
	f := Finding{Path: path, Metrics: m}

	if m.NonBinary > 0 {
		f.Problems = append(f.Problems, fmt.Sprintf("%d pixels are neither 0 nor 255", m.NonBinary))
	}

	switch {
	case m.Std <= v.quality.StdThreshold && m.Mean >= 254.5:
		f.Kind = KindWhite
	case m.Std <= v.quality.StdThreshold && m.Mean <= 0.5:
		f.Kind = KindBlack
	case m.Std > v.quality.StdThreshold &&
		(m.EdgeRatio > v.quality.EdgeThreshold || m.GradRatio > v.quality.GradRatioThreshold):
		f.Kind = KindStripes
	default:
		f.Kind = KindFlat
		f.Problems = append(f.Problems, fmt.Sprintf(
			"no stripe structure (std %.2f, edge ratio %.5f, gradient ratio %.5f)",
			m.Std, m.EdgeRatio, m.GradRatio))
	}

	return f
}
