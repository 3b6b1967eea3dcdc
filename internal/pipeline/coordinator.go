package pipeline

import (
	"errors"
	"fmt"
	"image"

	"procam-calibration/internal/calib"
	"procam-calibration/internal/capture"
	"procam-calibration/internal/chessboard"
	"procam-calibration/internal/config"
	"procam-calibration/internal/correspondence"
	"procam-calibration/internal/graycode"
	"procam-calibration/internal/logger"
	"procam-calibration/internal/opencv/memory"
	"procam-calibration/internal/pattern"
	"procam-calibration/internal/store"

	"go.uber.org/multierr"
)

// ErrNoValidSessions means every capture directory was skipped, so there is
// nothing to calibrate.
var ErrNoValidSessions = errors.New("no valid sessions")

// Outcome is everything a run produced. Failures holds the per-session
// errors that were absorbed along the way.
type Outcome struct {
	Result   *calib.Result
	Plan     pattern.Plan
	Sessions []SessionStatus
	Metrics  RunMetrics
	Failures error
}

type Coordinator struct {
	cfg    *config.Config
	logger logger.Logger
	timing TimingTracker
}

func NewCoordinator(cfg *config.Config, log logger.Logger, timing TimingTracker) *Coordinator {
	if timing == nil {
		timing = nopTracker{}
	}
	return &Coordinator{cfg: cfg, logger: log, timing: timing}
}

// Run validates the configuration, extracts correspondences from every
// capture directory in sorted order, calibrates and saves the result.
func (c *Coordinator) Run() (*Outcome, error) {
	cfg := c.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	plan, err := pattern.Derive(cfg.Projector.Height, cfg.Projector.Width, cfg.GraycodeStep)
	if err != nil {
		return nil, err
	}

	var prior *calib.Camera
	if cfg.CameraParams != "" {
		prior, err = store.LoadCameraPrior(cfg.CameraParams)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfiguration, err)
		}
		c.logger.Info("Pipeline", "camera parameters loaded", map[string]interface{}{
			"path": cfg.CameraParams,
			"fx":   prior.K.Fx,
			"fy":   prior.K.Fy,
		})
	}

	c.logger.Info("Pipeline", "pattern plan", map[string]interface{}{
		"plan":   plan.String(),
		"images": plan.ImageCount(),
	})

	dirs, err := capture.Discover(cfg.Capture.Root, cfg.Capture.DirPattern, cfg.Capture.FilePrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoValidSessions, err)
	}

	mgr := memory.NewManager(cfg.Capture.MemoryLimit, c.logger)
	loader := capture.NewLoader(plan, mgr, c.logger)
	detector := chessboard.NewDetector(
		image.Pt(cfg.Chessboard.Vertical, cfg.Chessboard.Horizontal),
		chessboard.DefaultStrategies(cfg.Detector),
		c.logger,
	)
	builder := correspondence.NewBuilder(detector, graycode.NewDecoder(plan, cfg.Decoder), plan,
		cfg.Chessboard, cfg.Correspondence, c.logger)
	processor := &sessionProcessor{loader: loader, builder: builder, logger: c.logger, timing: c.timing}

	out := &Outcome{Plan: plan}
	var sessions []calib.Session
	for _, dir := range dirs {
		corr, err := processor.Process(dir)
		status := SessionStatus{Name: dir.Name, Err: err}
		if corr != nil {
			status.Stats = corr.Stats
		}
		if err != nil {
			out.Failures = multierr.Append(out.Failures, err)
			c.logger.Warning("Pipeline", "session skipped", map[string]interface{}{
				"session": dir.Name,
				"error":   err.Error(),
			})
			out.Sessions = append(out.Sessions, status)
			continue
		}
		status.Accepted = true
		out.Sessions = append(out.Sessions, status)
		sessions = append(sessions, toCalibSession(corr))
	}
	out.Metrics = collectMetrics(out.Sessions)
	out.Metrics.Log(c.logger)

	if stats := mgr.GetStats(); stats.PeakInUse > 0 {
		c.logger.Debug("Pipeline", "session buffers", map[string]interface{}{
			"peak_bytes": stats.PeakInUse,
		})
	}

	if len(sessions) == 0 {
		if out.Failures != nil {
			return out, fmt.Errorf("%w: %d directories skipped: %w", ErrNoValidSessions, len(dirs), out.Failures)
		}
		return out, ErrNoValidSessions
	}

	engine := calib.NewEngine(cfg.Solver, cfg.Stereo, c.logger)
	ctx := c.timing.StartTiming("calibrate")
	res, err := engine.Calibrate(calib.Input{
		CameraSize:    loader.Shape(),
		ProjectorSize: image.Pt(plan.ProjectorWidth, plan.ProjectorHeight),
		Sessions:      sessions,
		CameraPrior:   prior,
	})
	c.timing.EndTiming(ctx)
	if err != nil {
		return out, err
	}
	out.Result = res

	saver := &resultSaver{logger: c.logger, timing: c.timing}
	if err := saver.Save(res, cfg.OutputPath, cfg.PlotPath); err != nil {
		return out, err
	}
	return out, nil
}

func toCalibSession(corr *correspondence.SessionCorrespondences) calib.Session {
	object, camera, projector := corr.ProjectorPoints()
	return calib.Session{
		Name:          corr.Name,
		Object:        corr.Object,
		Corners:       corr.CameraCorners,
		MatchedObject: object,
		MatchedCamera: camera,
		Projector:     projector,
	}
}
