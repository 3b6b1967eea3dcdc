package report

import (
	"errors"
	"fmt"

	"procam-calibration/internal/calib"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

var ErrNoResiduals = errors.New("no residuals to plot")

// PlotResiduals writes a scatter of reprojection error vectors, one series
// per device. The file extension selects the image format.
func PlotResiduals(residuals []calib.Residual, path string) error {
	if len(residuals) == 0 {
		return ErrNoResiduals
	}

	var order []string
	series := map[string]plotter.XYs{}
	for _, r := range residuals {
		if _, ok := series[r.Device]; !ok {
			order = append(order, r.Device)
		}
		series[r.Device] = append(series[r.Device], plotter.XY{X: r.Error.X, Y: r.Error.Y})
	}

	p := plot.New()
	p.Title.Text = "Reprojection residuals"
	p.X.Label.Text = "dx (px)"
	p.Y.Label.Text = "dy (px)"
	p.Add(plotter.NewGrid())

	for i, device := range order {
		sc, err := plotter.NewScatter(series[device])
		if err != nil {
			return fmt.Errorf("%s residuals: %w", device, err)
		}
		sc.GlyphStyle.Color = plotutil.Color(i)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(sc)
		p.Legend.Add(device, sc)
	}
	p.Legend.Top = true

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("saving residual plot: %w", err)
	}
	return nil
}
