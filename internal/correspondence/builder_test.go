package correspondence

import (
	"errors"
	"image"
	"math"
	"testing"

	"procam-calibration/internal/chessboard"
	"procam-calibration/internal/config"
	"procam-calibration/internal/graycode"
	"procam-calibration/internal/logger"
	"procam-calibration/internal/pattern"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type fakeDetector struct {
	corners []r2.Point
	err     error
}

func (f fakeDetector) Detect(img *image.Gray) (chessboard.Detection, error) {
	if f.err != nil {
		return chessboard.Detection{Attempts: 5}, f.err
	}
	return chessboard.Detection{Corners: f.corners, Strategy: "direct", Attempts: 1}, nil
}

type decodeFunc func(x, y int) (graycode.ProjectorPixel, graycode.Rejection)

func (f decodeFunc) Decode(frames graycode.Frames, x, y int) (graycode.ProjectorPixel, graycode.Rejection) {
	return f(x, y)
}

var board = config.ChessboardConfig{Vertical: 4, Horizontal: 3, BlockSize: 20}

func boardCorners() []r2.Point {
	var pts []r2.Point
	for r := 0; r < board.Horizontal; r++ {
		for c := 0; c < board.Vertical; c++ {
			pts = append(pts, r2.Point{X: 100.3 + 60*float64(c), Y: 100.7 + 60*float64(r)})
		}
	}
	return pts
}

// cornerAt returns the index of the board corner whose patch holds (x,y).
func cornerAt(x, y int) int {
	c := int(math.Round((float64(x) - 100.3) / 60))
	r := int(math.Round((float64(y) - 100.7) / 60))
	return r*board.Vertical + c
}

func translate(x, y int) (graycode.ProjectorPixel, graycode.Rejection) {
	return graycode.ProjectorPixel{Col: x + 100, Row: y + 50}, graycode.RejectNone
}

func whiteFrames(w, h int) graycode.Frames {
	rect := image.Rect(0, 0, w, h)
	return graycode.Frames{White: image.NewGray(rect), Black: image.NewGray(rect)}
}

func newBuilder(t *testing.T, decoder PixelDecoder, detector CornerDetector) *Builder {
	t.Helper()
	plan, err := pattern.Derive(600, 800, 1)
	require.NoError(t, err)
	return NewBuilder(detector, decoder, plan, board, config.Default().Correspondence, logger.NewNop())
}

// ---------------------------------------------------------------------------
// geometry
// ---------------------------------------------------------------------------

func TestObjectGrid(t *testing.T) {
	t.Parallel()
	grid := ObjectGrid(board)
	require.Len(t, grid, 12)
	assert.Equal(t, r3.Vector{}, grid[0])
	assert.Equal(t, r3.Vector{X: 60}, grid[3])
	assert.Equal(t, r3.Vector{X: 20, Y: 20}, grid[5])
	assert.Equal(t, r3.Vector{X: 60, Y: 40}, grid[11])
}

func TestPatchRadius(t *testing.T) {
	t.Parallel()
	b := newBuilder(t, decodeFunc(translate), fakeDetector{})
	assert.Equal(t, 3, b.PatchRadius(300))
	assert.Equal(t, 4, b.PatchRadius(640))
	assert.Equal(t, 11, b.PatchRadius(1920))
}

// ---------------------------------------------------------------------------
// Build
// ---------------------------------------------------------------------------

func TestBuild_AllCornersAccepted(t *testing.T) {
	t.Parallel()
	corners := boardCorners()
	b := newBuilder(t, decodeFunc(translate), fakeDetector{corners: corners})

	sc, err := b.Build("capture_1", whiteFrames(640, 480))
	require.NoError(t, err)
	assert.Equal(t, "capture_1", sc.Name)
	assert.Equal(t, image.Pt(640, 480), sc.ImageSize)
	assert.Equal(t, 12, sc.Stats.Corners)
	assert.Equal(t, 12, sc.Stats.Accepted)
	require.Len(t, sc.Correspondences, 12)
	assert.Len(t, sc.CameraCorners, 12)

	grid := ObjectGrid(board)
	for i, c := range sc.Correspondences {
		assert.Equal(t, grid[i], c.Object)
		assert.Equal(t, corners[i], c.Camera)
		assert.InDelta(t, corners[i].X+100, c.Projector.X, 1e-6)
		assert.InDelta(t, corners[i].Y+50, c.Projector.Y, 1e-6)
	}

	obj, cam, proj := sc.ProjectorPoints()
	assert.Len(t, obj, 12)
	assert.Len(t, cam, 12)
	assert.Len(t, proj, 12)
}

func TestBuild_OutOfBoundsCornerDropsOne(t *testing.T) {
	t.Parallel()
	corners := boardCorners()

	base, err := newBuilder(t, decodeFunc(translate), fakeDetector{corners: corners}).
		Build("noop", whiteFrames(640, 480))
	require.NoError(t, err)

	shifted := decodeFunc(func(x, y int) (graycode.ProjectorPixel, graycode.Rejection) {
		p, r := translate(x, y)
		if cornerAt(x, y) == 5 {
			p.Col += 1000
		}
		return p, r
	})
	sc, err := newBuilder(t, shifted, fakeDetector{corners: corners}).Build("shifted", whiteFrames(640, 480))
	require.NoError(t, err)

	assert.Equal(t, base.Stats.Accepted-1, sc.Stats.Accepted)
	assert.Equal(t, 1, sc.Stats.OutOfBounds)
	for _, c := range sc.Correspondences {
		assert.NotEqual(t, corners[5], c.Camera)
	}
}

func TestBuild_SessionMinimum(t *testing.T) {
	t.Parallel()
	corners := boardCorners()

	onlyFirst := func(n int) decodeFunc {
		return func(x, y int) (graycode.ProjectorPixel, graycode.Rejection) {
			if cornerAt(x, y) >= n {
				return graycode.ProjectorPixel{}, graycode.RejectShadow
			}
			return translate(x, y)
		}
	}

	sc, err := newBuilder(t, onlyFirst(5), fakeDetector{corners: corners}).Build("five", whiteFrames(640, 480))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientCorrespondence)
	require.NotNil(t, sc)
	assert.Equal(t, 5, sc.Stats.Accepted)
	assert.Equal(t, 7, sc.Stats.FewPixels)
	assert.Positive(t, sc.Stats.PixelRejections[graycode.RejectShadow])

	sc, err = newBuilder(t, onlyFirst(6), fakeDetector{corners: corners}).Build("six", whiteFrames(640, 480))
	require.NoError(t, err)
	assert.Equal(t, 6, sc.Stats.Accepted)
}

func TestBuild_PatchRejections(t *testing.T) {
	t.Parallel()
	corners := boardCorners()

	decoder := decodeFunc(func(x, y int) (graycode.ProjectorPixel, graycode.Rejection) {
		cx, cy := int(math.Round(corners[0].X)), int(math.Round(corners[0].Y))
		switch cornerAt(x, y) {
		case 0:
			// Three decodable pixels are below the patch minimum.
			if y == cy && x >= cx && x < cx+3 {
				return translate(x, y)
			}
			return graycode.ProjectorPixel{}, graycode.RejectAmbiguous
		case 1:
			// A single decodable row cannot fix a homography.
			if y == cy {
				return translate(x, y)
			}
			return graycode.ProjectorPixel{}, graycode.RejectInconsistent
		}
		return translate(x, y)
	})

	sc, err := newBuilder(t, decoder, fakeDetector{corners: corners}).Build("patch", whiteFrames(640, 480))
	require.NoError(t, err)
	assert.Equal(t, 1, sc.Stats.FewPixels)
	assert.Equal(t, 1, sc.Stats.NoHomography)
	assert.Equal(t, 10, sc.Stats.Accepted)
	assert.Positive(t, sc.Stats.PixelRejections[graycode.RejectAmbiguous])
	assert.Positive(t, sc.Stats.PixelRejections[graycode.RejectInconsistent])
}

func TestBuild_DetectionFailures(t *testing.T) {
	t.Parallel()

	_, err := newBuilder(t, decodeFunc(translate), fakeDetector{err: chessboard.ErrDetectionFailure}).
		Build("blind", whiteFrames(640, 480))
	assert.ErrorIs(t, err, chessboard.ErrDetectionFailure)

	_, err = newBuilder(t, decodeFunc(translate), fakeDetector{corners: boardCorners()[:7]}).
		Build("partial", whiteFrames(640, 480))
	assert.ErrorIs(t, err, chessboard.ErrDetectionFailure)
	assert.False(t, errors.Is(err, ErrInsufficientCorrespondence))
}

// ---------------------------------------------------------------------------
// with the Gray-code decoder
// ---------------------------------------------------------------------------

// renderFrames encodes a camera whose pixel (x,y) sees projector position
// (1.5x+20.3, 1.25y+10.6), rounded to the nearest projector pixel.
func renderFrames(plan pattern.Plan, w, h int) graycode.Frames {
	rect := image.Rect(0, 0, w, h)
	frames := graycode.Frames{White: image.NewGray(rect), Black: image.NewGray(rect)}
	for i := 0; i < plan.BitPlanes(); i++ {
		frames.Patterns = append(frames.Patterns, image.NewGray(rect))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			frames.White.Pix[y*w+x] = 220
			frames.Black.Pix[y*w+x] = 20
			col := int(math.Floor(1.5*float64(x) + 20.3 + 0.5))
			row := int(math.Floor(1.25*float64(y) + 10.6 + 0.5))
			for plane, img := range frames.Patterns {
				if plan.Bit(plane, col, row) {
					img.Pix[y*w+x] = 200
				} else {
					img.Pix[y*w+x] = 40
				}
			}
		}
	}
	return frames
}

func TestBuild_WithGraycodeDecoder(t *testing.T) {
	t.Parallel()
	plan, err := pattern.Derive(768, 1024, 1)
	require.NoError(t, err)
	frames := renderFrames(plan, 640, 480)

	decoder := graycode.NewDecoder(plan, config.Default().Decoder)
	require.NoError(t, decoder.Validate(frames))

	corners := boardCorners()
	b := NewBuilder(fakeDetector{corners: corners}, decoder, plan, board, config.Default().Correspondence, logger.NewNop())
	sc, err := b.Build("graycode", frames)
	require.NoError(t, err)
	require.Equal(t, 12, sc.Stats.Accepted)

	for i, c := range sc.Correspondences {
		assert.InDelta(t, 1.5*corners[i].X+20.3, c.Projector.X, 0.3, "corner %d", i)
		assert.InDelta(t, 1.25*corners[i].Y+10.6, c.Projector.Y, 0.3, "corner %d", i)
	}
}
