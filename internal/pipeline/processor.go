package pipeline

import (
	"fmt"

	"procam-calibration/internal/capture"
	"procam-calibration/internal/correspondence"
	"procam-calibration/internal/logger"
)

// sessionProcessor turns one capture directory into correspondences. Frame
// buffers never outlive a call.
type sessionProcessor struct {
	loader  *capture.Loader
	builder *correspondence.Builder
	logger  logger.Logger
	timing  TimingTracker
}

func (p *sessionProcessor) Process(dir capture.Directory) (*correspondence.SessionCorrespondences, error) {
	ctx := p.timing.StartTiming("load_session")
	session, err := p.loader.Load(dir)
	p.timing.EndTiming(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Release()

	p.logger.Debug("SessionProcessor", "session loaded", map[string]interface{}{
		"session": dir.Name,
		"images":  len(session.Files),
	})

	ctx = p.timing.StartTiming("build_correspondences")
	corr, err := p.builder.Build(dir.Name, session.Frames)
	p.timing.EndTiming(ctx)
	if err != nil {
		return corr, fmt.Errorf("building correspondences: %w", err)
	}

	p.logger.Info("SessionProcessor", "session accepted", map[string]interface{}{
		"session":  dir.Name,
		"strategy": corr.Strategy,
		"corners":  corr.Stats.Corners,
		"accepted": corr.Stats.Accepted,
	})
	return corr, nil
}
