package pipeline

import (
	"sort"

	"procam-calibration/internal/correspondence"
	"procam-calibration/internal/graycode"
	"procam-calibration/internal/logger"
)

// SessionStatus is the per-directory outcome reported at the end of a run.
type SessionStatus struct {
	Name     string
	Accepted bool
	Stats    correspondence.Stats
	Err      error
}

// RunMetrics aggregates correspondence statistics over all sessions.
type RunMetrics struct {
	Sessions        int
	Accepted        int
	Corners         int
	Correspondences int
	FewPixels       int
	NoHomography    int
	Degenerate      int
	OutOfBounds     int
	PixelRejections map[graycode.Rejection]int
}

func collectMetrics(statuses []SessionStatus) RunMetrics {
	m := RunMetrics{PixelRejections: map[graycode.Rejection]int{}}
	for _, s := range statuses {
		m.Sessions++
		if s.Accepted {
			m.Accepted++
			m.Correspondences += s.Stats.Accepted
		}
		m.Corners += s.Stats.Corners
		m.FewPixels += s.Stats.FewPixels
		m.NoHomography += s.Stats.NoHomography
		m.Degenerate += s.Stats.Degenerate
		m.OutOfBounds += s.Stats.OutOfBounds
		for r, n := range s.Stats.PixelRejections {
			m.PixelRejections[r] += n
		}
	}
	return m
}

func (m RunMetrics) Log(log logger.Logger) {
	fields := map[string]interface{}{
		"sessions":        m.Sessions,
		"accepted":        m.Accepted,
		"corners":         m.Corners,
		"correspondences": m.Correspondences,
		"few_pixels":      m.FewPixels,
		"no_homography":   m.NoHomography,
		"degenerate":      m.Degenerate,
		"out_of_bounds":   m.OutOfBounds,
	}
	reasons := make([]graycode.Rejection, 0, len(m.PixelRejections))
	for r := range m.PixelRejections {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
	for _, r := range reasons {
		fields["pixels_"+r.String()] = m.PixelRejections[r]
	}
	log.Info("Pipeline", "correspondence summary", fields)
}
