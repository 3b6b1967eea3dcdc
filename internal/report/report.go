package report

import (
	"fmt"
	"io"
	"math"
	"strings"

	"procam-calibration/internal/calib"
	"procam-calibration/internal/store"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
)

// MinRecommendedCaptures is the session count below which a result is
// flagged as under-constrained.
const MinRecommendedCaptures = 3

type Grade int

const (
	GradeExcellent Grade = iota
	GradeGood
	GradeFair
	GradePoor
)

func (g Grade) String() string {
	switch g {
	case GradeExcellent:
		return "excellent"
	case GradeGood:
		return "good"
	case GradeFair:
		return "fair"
	default:
		return "poor"
	}
}

// GradeFor buckets a reprojection RMS in pixels.
func GradeFor(rms float64) Grade {
	switch {
	case rms < 1:
		return GradeExcellent
	case rms < 2:
		return GradeGood
	case rms < 5:
		return GradeFair
	default:
		return GradePoor
	}
}

// Warnings lists conditions worth telling the user about a result.
func Warnings(res *calib.Result) []string {
	var out []string
	if res.Sessions < MinRecommendedCaptures {
		out = append(out, fmt.Sprintf("only %d successful captures, add more board poses (at least %d recommended)",
			res.Sessions, MinRecommendedCaptures))
	}
	if g := GradeFor(res.RMS); g == GradePoor {
		out = append(out, fmt.Sprintf("reprojection RMS %.3f px is %s", res.RMS, g))
	}
	for _, s := range res.Stages {
		if s.Fallback {
			out = append(out, fmt.Sprintf("%s stage fell back to the %s model", s.Stage, s.Model))
		}
	}
	return out
}

// ResidualStats summarises reprojection error magnitudes for one device.
type ResidualStats struct {
	Device string
	Count  int
	Mean   float64
	Median float64
	StdDev float64
	P95    float64
	Max    float64
}

// Residuals groups residuals by device in first-seen order.
func Residuals(residuals []calib.Residual) ([]ResidualStats, error) {
	var order []string
	byDevice := map[string]stats.Float64Data{}
	for _, r := range residuals {
		if _, ok := byDevice[r.Device]; !ok {
			order = append(order, r.Device)
		}
		byDevice[r.Device] = append(byDevice[r.Device], r.Error.Norm())
	}

	out := make([]ResidualStats, 0, len(order))
	for _, device := range order {
		data := byDevice[device]
		s := ResidualStats{Device: device, Count: len(data)}
		var err error
		if s.Mean, err = data.Mean(); err != nil {
			return nil, fmt.Errorf("%s residual mean: %w", device, err)
		}
		if s.Median, err = data.Median(); err != nil {
			return nil, fmt.Errorf("%s residual median: %w", device, err)
		}
		if s.StdDev, err = data.StandardDeviation(); err != nil {
			return nil, fmt.Errorf("%s residual deviation: %w", device, err)
		}
		if s.P95, err = data.Percentile(95); err != nil {
			return nil, fmt.Errorf("%s residual percentile: %w", device, err)
		}
		if s.Max, err = data.Max(); err != nil {
			return nil, fmt.Errorf("%s residual max: %w", device, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func matrixRows(t table.Writer, m calib.Mat3) {
	for r := 0; r < 3; r++ {
		t.AppendRow(table.Row{"", fmt.Sprintf("%12.6f %12.6f %12.6f", m.At(r, 0), m.At(r, 1), m.At(r, 2))})
	}
}

func formatDist(d []float64) string {
	parts := make([]string, len(d))
	for i, v := range d {
		parts[i] = fmt.Sprintf("%.6g", v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func deviceTable(title string, c calib.Camera, size string) string {
	t := table.NewWriter()
	t.SetTitle(title)
	t.AppendRow(table.Row{"Resolution", size})
	t.AppendRow(table.Row{"Focal length", fmt.Sprintf("fx=%.3f fy=%.3f", c.K.Fx, c.K.Fy)})
	t.AppendRow(table.Row{"Principal point", fmt.Sprintf("cx=%.3f cy=%.3f", c.K.Cx, c.K.Cy)})
	t.AppendRow(table.Row{"Distortion", formatDist(c.Dist)})
	return t.Render()
}

func sizeString(w, h int) string {
	if w == 0 || h == 0 {
		return "unknown"
	}
	return fmt.Sprintf("%dx%d", w, h)
}

// Write renders the result as a set of tables followed by warnings.
func Write(w io.Writer, res *calib.Result) error {
	var b strings.Builder

	quality := table.NewWriter()
	quality.SetTitle("Calibration quality")
	quality.AppendRow(table.Row{"RMS reprojection error", fmt.Sprintf("%.4f px (%s)", res.RMS, GradeFor(res.RMS))})
	quality.AppendRow(table.Row{"Successful captures", res.Sessions})
	b.WriteString(quality.Render())
	b.WriteString("\n\n")

	b.WriteString(deviceTable("Camera intrinsics", res.Camera, sizeString(res.CameraSize.X, res.CameraSize.Y)))
	b.WriteString("\n\n")
	b.WriteString(deviceTable("Projector intrinsics", res.Projector, sizeString(res.ProjectorSize.X, res.ProjectorSize.Y)))
	b.WriteString("\n\n")

	e := store.EulerAngles(res.R)
	ext := table.NewWriter()
	ext.SetTitle("Camera to projector (OpenCV frame, mm)")
	ext.AppendRow(table.Row{"Rotation", ""})
	matrixRows(ext, res.R)
	ext.AppendRow(table.Row{"Euler xyz", fmt.Sprintf("x=%.2f y=%.2f z=%.2f deg", e.X, e.Y, e.Z)})
	ext.AppendRow(table.Row{"Translation", fmt.Sprintf("%.2f %.2f %.2f", res.T.X, res.T.Y, res.T.Z)})
	ext.AppendRow(table.Row{"Distance", fmt.Sprintf("%.2f mm (%.3f m)", res.T.Norm(), res.T.Norm()/1000)})
	b.WriteString(ext.Render())
	b.WriteString("\n\n")

	urot, ut := store.ToUnreal(res.R, res.T)
	ue := store.EulerAngles(urot)
	unreal := table.NewWriter()
	unreal.SetTitle("Unreal Engine transform (cm)")
	unreal.AppendRow(table.Row{"Location", fmt.Sprintf("X=%.2f Y=%.2f Z=%.2f", ut.X, ut.Y, ut.Z)})
	unreal.AppendRow(table.Row{"Rotation", fmt.Sprintf("Roll=%.2f Pitch=%.2f Yaw=%.2f", ue.X, ue.Y, ue.Z)})
	unreal.AppendRow(table.Row{"Scale", "X=1.00 Y=1.00 Z=1.00"})
	unreal.AppendRow(table.Row{"Distance", fmt.Sprintf("%.2f cm", ut.Norm())})
	b.WriteString(unreal.Render())
	b.WriteString("\n")

	if len(res.Stages) > 0 {
		stages := table.NewWriter()
		stages.SetTitle("Stages")
		stages.AppendHeader(table.Row{"Stage", "Model", "RMS", "Iterations", "Fallback", "Fixed"})
		for _, s := range res.Stages {
			stages.AppendRow(table.Row{s.Stage, s.Model.String(), fmt.Sprintf("%.4f", s.RMS), s.Iterations, s.Fallback, s.Fixed})
		}
		b.WriteString("\n")
		b.WriteString(stages.Render())
		b.WriteString("\n")
	}

	if len(res.Residuals) > 0 {
		rs, err := Residuals(res.Residuals)
		if err != nil {
			return err
		}
		resid := table.NewWriter()
		resid.SetTitle("Residuals (px)")
		resid.AppendHeader(table.Row{"Device", "N", "Mean", "Median", "StdDev", "P95", "Max"})
		for _, s := range rs {
			resid.AppendRow(table.Row{s.Device, s.Count, round3(s.Mean), round3(s.Median), round3(s.StdDev), round3(s.P95), round3(s.Max)})
		}
		b.WriteString("\n")
		b.WriteString(resid.Render())
		b.WriteString("\n")
	}

	for _, warn := range Warnings(res) {
		b.WriteString("\nWARNING: ")
		b.WriteString(warn)
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
