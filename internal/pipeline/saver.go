package pipeline

import (
	"fmt"

	"procam-calibration/internal/calib"
	"procam-calibration/internal/logger"
	"procam-calibration/internal/report"
	"procam-calibration/internal/store"
)

type resultSaver struct {
	logger logger.Logger
	timing TimingTracker
}

// Save writes the result file and, when plotPath is set, the residual plot.
// A failed plot is logged and does not fail the run.
func (s *resultSaver) Save(res *calib.Result, path, plotPath string) error {
	ctx := s.timing.StartTiming("save_result")
	err := store.Save(res, path)
	s.timing.EndTiming(ctx)
	if err != nil {
		return fmt.Errorf("saving result: %w", err)
	}
	s.logger.Info("ResultSaver", "calibration result saved", map[string]interface{}{
		"path": path,
		"rms":  res.RMS,
	})

	if plotPath == "" {
		return nil
	}
	if err := report.PlotResiduals(res.Residuals, plotPath); err != nil {
		s.logger.Warning("ResultSaver", "residual plot not written", map[string]interface{}{
			"path":  plotPath,
			"error": err.Error(),
		})
		return nil
	}
	s.logger.Info("ResultSaver", "residual plot saved", map[string]interface{}{"path": plotPath})
	return nil
}
