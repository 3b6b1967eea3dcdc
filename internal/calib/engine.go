package calib

import (
	"fmt"
	"image"

	"procam-calibration/internal/config"
	"procam-calibration/internal/logger"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Session is one capture's observations: the full detected board for the
// camera stage and the decoded subset for the projector and stereo stages.
type Session struct {
	Name          string
	Object        []r3.Vector
	Corners       []r2.Point
	MatchedObject []r3.Vector
	MatchedCamera []r2.Point
	Projector     []r2.Point
}

type Input struct {
	CameraSize    image.Point
	ProjectorSize image.Point
	Sessions      []Session
	// CameraPrior skips camera calibration; only per-session poses are
	// solved against it.
	CameraPrior *Camera
}

type Engine struct {
	criteria Criteria
	stereo   config.StereoConfig
	logger   logger.Logger
}

func NewEngine(solver config.SolverConfig, stereo config.StereoConfig, log logger.Logger) *Engine {
	return &Engine{
		criteria: Criteria{MaxIterations: solver.MaxIterations, Epsilon: solver.Epsilon},
		stereo:   stereo,
		logger:   log,
	}
}

// Calibrate runs camera, projector and stereo stages in order. Each stage
// tries the extended model first and falls back to the basic one.
func (e *Engine) Calibrate(in Input) (*Result, error) {
	if len(in.Sessions) == 0 {
		return nil, fmt.Errorf("%w: no sessions to calibrate", ErrOptimizationFailure)
	}

	camViews := make([]View, 0, len(in.Sessions))
	projViews := make([]View, 0, len(in.Sessions))
	stereoViews := make([]StereoView, 0, len(in.Sessions))
	for _, s := range in.Sessions {
		camViews = append(camViews, View{Name: s.Name, Object: s.Object, Image: s.Corners})
		projViews = append(projViews, View{Name: s.Name, Object: s.MatchedObject, Image: s.Projector})
		stereoViews = append(stereoViews, StereoView{
			Name:      s.Name,
			Object:    s.MatchedObject,
			Camera:    s.MatchedCamera,
			Projector: s.Projector,
		})
	}

	result := &Result{
		CameraSize:    in.CameraSize,
		ProjectorSize: in.ProjectorSize,
		Sessions:      len(in.Sessions),
	}

	camera, summary, err := e.cameraStage(camViews, in.CameraSize, in.CameraPrior)
	if err != nil {
		return nil, fmt.Errorf("camera calibration: %w", err)
	}
	result.Stages = append(result.Stages, summary)
	for _, r := range camera.Residuals {
		r.Device = "camera"
		result.Residuals = append(result.Residuals, r)
	}

	projector, summary, err := e.singleStage("projector", projViews, in.ProjectorSize)
	if err != nil {
		return nil, fmt.Errorf("projector calibration: %w", err)
	}
	result.Stages = append(result.Stages, summary)
	for _, r := range projector.Residuals {
		r.Device = "projector"
		result.Residuals = append(result.Residuals, r)
	}

	stereo, summary, err := e.stereoStage(stereoViews, camera.Camera, projector.Camera)
	if err != nil {
		return nil, fmt.Errorf("stereo calibration: %w", err)
	}
	result.Stages = append(result.Stages, summary)
	for _, r := range stereo.Residuals {
		r.Device = "stereo_" + r.Device
		result.Residuals = append(result.Residuals, r)
	}

	result.RMS = stereo.RMS
	result.Camera = stereo.Camera
	result.Projector = stereo.Projector
	result.R = stereo.R
	result.T = stereo.T
	return result, nil
}

func (e *Engine) cameraStage(views []View, size image.Point, prior *Camera) (*CalibrationResult, StageSummary, error) {
	if prior == nil {
		return e.singleStage("camera", views, size)
	}
	res, err := PoseViews(*prior, views, e.criteria)
	if err != nil {
		return nil, StageSummary{}, err
	}
	summary := StageSummary{Stage: "camera", Model: res.Model, RMS: res.RMS, Fixed: true}
	e.logger.Info("CalibrationEngine", "camera poses solved with supplied intrinsics", map[string]interface{}{
		"rms":   res.RMS,
		"views": len(views),
	})
	return res, summary, nil
}

func (e *Engine) singleStage(stage string, views []View, size image.Point) (*CalibrationResult, StageSummary, error) {
	res, fellBack, err := WithFallback(
		func() (*CalibrationResult, error) { return CalibrateCamera(views, size, ModelExtended, e.criteria) },
		func() (*CalibrationResult, error) { return CalibrateCamera(views, size, ModelBasic, e.criteria) },
		e.warnFallback(stage),
	)
	if err != nil {
		return nil, StageSummary{}, err
	}
	summary := StageSummary{Stage: stage, Model: res.Model, RMS: res.RMS, Iterations: res.Iterations, Fallback: fellBack}
	e.logStage(summary, res.Camera)
	return res, summary, nil
}

func (e *Engine) stereoStage(views []StereoView, camera, projector Camera) (*StereoResult, StageSummary, error) {
	opts := func(m Model) StereoOptions {
		return StereoOptions{
			Model:                  m,
			FixProjectorIntrinsics: e.stereo.FixProjectorIntrinsics,
			SameFocalLength:        e.stereo.SameFocalLength,
			Criteria:               e.criteria,
		}
	}
	res, fellBack, err := WithFallback(
		func() (*StereoResult, error) { return StereoCalibrate(views, camera, projector, opts(ModelExtended)) },
		func() (*StereoResult, error) { return StereoCalibrate(views, camera, projector, opts(ModelBasic)) },
		e.warnFallback("stereo"),
	)
	if err != nil {
		return nil, StageSummary{}, err
	}
	summary := StageSummary{
		Stage:      "stereo",
		Model:      res.Model,
		RMS:        res.RMS,
		Iterations: res.Iterations,
		Fallback:   fellBack,
		Fixed:      e.stereo.FixProjectorIntrinsics,
	}
	e.logStage(summary, res.Projector)
	return res, summary, nil
}

func (e *Engine) warnFallback(stage string) func(error) {
	return func(err error) {
		e.logger.Warning("CalibrationEngine", "extended model failed, retrying with basic model", map[string]interface{}{
			"stage": stage,
			"error": err.Error(),
		})
	}
}

func (e *Engine) logStage(s StageSummary, c Camera) {
	e.logger.Info("CalibrationEngine", "stage complete", map[string]interface{}{
		"stage":      s.Stage,
		"model":      s.Model.String(),
		"rms":        s.RMS,
		"iterations": s.Iterations,
		"fallback":   s.Fallback,
		"fx":         c.K.Fx,
		"fy":         c.K.Fy,
	})
}
