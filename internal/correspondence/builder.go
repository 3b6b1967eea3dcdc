package correspondence

import (
	"errors"
	"fmt"
	"image"
	"math"

	"procam-calibration/internal/chessboard"
	"procam-calibration/internal/config"
	"procam-calibration/internal/graycode"
	"procam-calibration/internal/homography"
	"procam-calibration/internal/logger"
	"procam-calibration/internal/pattern"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// ErrInsufficientCorrespondence marks a session whose accepted corners are
// too few to constrain its pose.
var ErrInsufficientCorrespondence = errors.New("insufficient correspondences")

type CornerDetector interface {
	Detect(img *image.Gray) (chessboard.Detection, error)
}

type PixelDecoder interface {
	Decode(frames graycode.Frames, x, y int) (graycode.ProjectorPixel, graycode.Rejection)
}

// Correspondence ties one chessboard corner to where the camera saw it and
// where the projector addressed it.
type Correspondence struct {
	Object    r3.Vector
	Camera    r2.Point
	Projector r2.Point
}

// Stats counts why corners were dropped. Pixel rejections are summed over
// every patch pixel of the session.
type Stats struct {
	Corners         int
	Accepted        int
	FewPixels       int
	NoHomography    int
	Degenerate      int
	OutOfBounds     int
	PixelRejections map[graycode.Rejection]int
}

type SessionCorrespondences struct {
	Name      string
	ImageSize image.Point
	Strategy  string
	// Object and CameraCorners hold the full detected grid, used for
	// camera-only calibration.
	Object          []r3.Vector
	CameraCorners   []r2.Point
	Correspondences []Correspondence
	Stats           Stats
}

// ProjectorPoints splits the accepted triples into parallel slices.
func (s *SessionCorrespondences) ProjectorPoints() (object []r3.Vector, camera, projector []r2.Point) {
	for _, c := range s.Correspondences {
		object = append(object, c.Object)
		camera = append(camera, c.Camera)
		projector = append(projector, c.Projector)
	}
	return object, camera, projector
}

type Builder struct {
	detector CornerDetector
	decoder  PixelDecoder
	plan     pattern.Plan
	cfg      config.CorrespondenceConfig
	grid     []r3.Vector
	logger   logger.Logger
}

func NewBuilder(detector CornerDetector, decoder PixelDecoder, plan pattern.Plan, board config.ChessboardConfig,
	cfg config.CorrespondenceConfig, log logger.Logger) *Builder {
	return &Builder{
		detector: detector,
		decoder:  decoder,
		plan:     plan,
		cfg:      cfg,
		grid:     ObjectGrid(board),
		logger:   log,
	}
}

// ObjectGrid lays out interior corners row by row with Vertical corners per
// row, matching the detector's corner order.
func ObjectGrid(board config.ChessboardConfig) []r3.Vector {
	grid := make([]r3.Vector, 0, board.Vertical*board.Horizontal)
	for r := 0; r < board.Horizontal; r++ {
		for c := 0; c < board.Vertical; c++ {
			grid = append(grid, r3.Vector{X: float64(c) * board.BlockSize, Y: float64(r) * board.BlockSize})
		}
	}
	return grid
}

// PatchRadius grows with the camera width so patches cover a similar share
// of the board at any resolution.
func (b *Builder) PatchRadius(cameraWidth int) int {
	r := int(math.Ceil(float64(cameraWidth) / float64(b.cfg.PatchRadiusDivisor)))
	return max(b.cfg.PatchRadiusMin, r)
}

func (b *Builder) Build(name string, frames graycode.Frames) (*SessionCorrespondences, error) {
	det, err := b.detector.Detect(frames.White)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", name, err)
	}
	if len(det.Corners) != len(b.grid) {
		return nil, fmt.Errorf("session %s: %w: %d corners for a %d point grid",
			name, chessboard.ErrDetectionFailure, len(det.Corners), len(b.grid))
	}

	bounds := frames.Bounds()
	out := &SessionCorrespondences{
		Name:          name,
		ImageSize:     bounds.Size(),
		Strategy:      det.Strategy,
		Object:        b.grid,
		CameraCorners: det.Corners,
		Stats: Stats{
			Corners:         len(det.Corners),
			PixelRejections: map[graycode.Rejection]int{},
		},
	}

	radius := b.PatchRadius(bounds.Dx())
	minPoints := max(b.cfg.MinPatchPoints, radius)

	for i, corner := range det.Corners {
		projected, ok := b.projectCorner(frames, corner, radius, minPoints, uint64(i+1), &out.Stats)
		if !ok {
			continue
		}
		out.Correspondences = append(out.Correspondences, Correspondence{
			Object:    b.grid[i],
			Camera:    corner,
			Projector: projected,
		})
	}
	out.Stats.Accepted = len(out.Correspondences)

	b.logger.Debug("CorrespondenceBuilder", "session processed", map[string]interface{}{
		"session":       name,
		"strategy":      det.Strategy,
		"corners":       out.Stats.Corners,
		"accepted":      out.Stats.Accepted,
		"few_pixels":    out.Stats.FewPixels,
		"no_homography": out.Stats.NoHomography,
		"degenerate":    out.Stats.Degenerate,
		"out_of_bounds": out.Stats.OutOfBounds,
		"patch_radius":  radius,
	})

	if out.Stats.Accepted < b.cfg.MinCorrespondences {
		return out, fmt.Errorf("session %s: %w: %d of %d corners accepted, need %d",
			name, ErrInsufficientCorrespondence, out.Stats.Accepted, out.Stats.Corners, b.cfg.MinCorrespondences)
	}
	return out, nil
}

func (b *Builder) projectCorner(frames graycode.Frames, corner r2.Point, radius, minPoints int, seed uint64,
	stats *Stats) (r2.Point, bool) {
	bounds := frames.Bounds()
	cx := int(math.Round(corner.X))
	cy := int(math.Round(corner.Y))
	x0, x1 := max(bounds.Min.X, cx-radius), min(bounds.Max.X-1, cx+radius)
	y0, y1 := max(bounds.Min.Y, cy-radius), min(bounds.Max.Y-1, cy+radius)

	var cam, proj []r2.Point
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			pix, rejection := b.decoder.Decode(frames, x, y)
			if rejection != graycode.RejectNone {
				stats.PixelRejections[rejection]++
				continue
			}
			px, py := pix.Scaled(b.plan.Step)
			cam = append(cam, r2.Point{X: float64(x), Y: float64(y)})
			proj = append(proj, r2.Point{X: px, Y: py})
		}
	}

	if len(cam) < minPoints {
		stats.FewPixels++
		return r2.Point{}, false
	}

	est, err := homography.EstimateRansac(cam, proj, homography.RansacOptions{
		Threshold:     b.cfg.RansacThreshold,
		MaxIterations: b.cfg.RansacIterations,
		Confidence:    b.cfg.RansacConfidence,
		Seed:          seed,
	})
	if err != nil {
		stats.NoHomography++
		return r2.Point{}, false
	}

	p, w := est.H.Map(corner)
	if math.Abs(w) < b.cfg.DegenerateEpsilon {
		stats.Degenerate++
		return r2.Point{}, false
	}
	if p.X < 0 || p.X >= float64(b.plan.ProjectorWidth) || p.Y < 0 || p.Y >= float64(b.plan.ProjectorHeight) {
		stats.OutOfBounds++
		return r2.Point{}, false
	}
	return p, true
}
