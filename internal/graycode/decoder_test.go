package graycode

import (
	"image"
	"testing"

	"procam-calibration/internal/config"
	"procam-calibration/internal/pattern"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type cellFunc func(x, y int) (col, row int)

// render builds frames for a w x h camera where pixel (x,y) sees canvas
// cell cell(x,y). Lit bits sit `margin` above the white/black midpoint and
// unlit bits the same distance below it.
func render(plan pattern.Plan, w, h int, cell cellFunc, levels func(x, y int) (black, amp, margin int)) Frames {
	rect := image.Rect(0, 0, w, h)
	frames := Frames{White: image.NewGray(rect), Black: image.NewGray(rect)}
	for i := 0; i < plan.BitPlanes(); i++ {
		frames.Patterns = append(frames.Patterns, image.NewGray(rect))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			black, amp, margin := levels(x, y)
			mid := black + amp/2
			frames.Black.Pix[y*w+x] = uint8(black)
			frames.White.Pix[y*w+x] = uint8(black + amp)

			col, row := cell(x, y)
			for plane, img := range frames.Patterns {
				if plan.Bit(plane, col, row) {
					img.Pix[y*w+x] = uint8(mid + margin)
				} else {
					img.Pix[y*w+x] = uint8(mid - margin)
				}
			}
		}
	}
	return frames
}

func perfect(x, y int) (int, int, int) { return 0, 254, 127 }

func identity(x, y int) (int, int) { return x, y }

func decoderFor(t *testing.T, plan pattern.Plan, black, white int) *Decoder {
	t.Helper()
	cfg := config.Default().Decoder
	cfg.BlackThreshold = black
	cfg.WhiteThreshold = white
	return NewDecoder(plan, cfg)
}

func countAccepted(d *Decoder, frames Frames) int {
	n := 0
	b := frames.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, r := d.Decode(frames, x, y); r == RejectNone {
				n++
			}
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Decode
// ---------------------------------------------------------------------------

func TestDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, step := range []int{1, 3} {
		plan, err := pattern.Derive(30, 50, step)
		require.NoError(t, err)

		// Generated patterns at projector resolution double as a camera
		// that sees the projector one to one.
		images := pattern.Generate(plan)
		frames := Frames{
			Patterns: images[:plan.BitPlanes()],
			White:    images[plan.BitPlanes()],
			Black:    images[plan.BitPlanes()+1],
		}
		d := decoderFor(t, plan, 40, 5)
		require.NoError(t, d.Validate(frames))

		for y := 0; y < plan.ProjectorHeight; y++ {
			for x := 0; x < plan.ProjectorWidth; x++ {
				got, r := d.Decode(frames, x, y)
				require.Equal(t, RejectNone, r, "step %d pixel (%d,%d)", step, x, y)
				want := ProjectorPixel{Col: x / step, Row: y / step}
				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatalf("step %d pixel (%d,%d) mismatch (-want +got):\n%s", step, x, y, diff)
				}
			}
		}
	}
}

func TestDecode_Scaled(t *testing.T) {
	t.Parallel()
	x, y := ProjectorPixel{Col: 7, Row: 3}.Scaled(4)
	assert.Equal(t, 28.0, x)
	assert.Equal(t, 12.0, y)
}

func TestDecode_Shadow(t *testing.T) {
	t.Parallel()
	plan, err := pattern.Derive(16, 16, 1)
	require.NoError(t, err)

	frames := render(plan, 16, 16, identity, func(x, y int) (int, int, int) {
		return 30, 40, 10
	})

	_, r := decoderFor(t, plan, 40, 5).Decode(frames, 5, 5)
	assert.Equal(t, RejectShadow, r, "white-black equal to the threshold is not lit")

	_, r = decoderFor(t, plan, 39, 5).Decode(frames, 5, 5)
	assert.Equal(t, RejectNone, r)
}

func TestDecode_Ambiguous(t *testing.T) {
	t.Parallel()
	plan, err := pattern.Derive(16, 16, 1)
	require.NoError(t, err)

	frames := render(plan, 16, 16, identity, func(x, y int) (int, int, int) {
		return 0, 200, 4
	})

	_, r := decoderFor(t, plan, 40, 5).Decode(frames, 8, 8)
	assert.Equal(t, RejectAmbiguous, r)

	_, r = decoderFor(t, plan, 40, 4).Decode(frames, 8, 8)
	assert.Equal(t, RejectNone, r)
}

func TestDecode_OutOfRange(t *testing.T) {
	t.Parallel()
	plan, err := pattern.Derive(10, 10, 1)
	require.NoError(t, err)

	// 4 column bits address 16 cells; cell 12 is past the 10 cell canvas.
	frames := render(plan, 10, 10, func(x, y int) (int, int) { return 12, y }, perfect)
	_, r := decoderFor(t, plan, 40, 5).Decode(frames, 3, 3)
	assert.Equal(t, RejectOutOfRange, r)
}

// ---------------------------------------------------------------------------
// Neighbourhood consistency
// ---------------------------------------------------------------------------

func TestDecode_NeighborhoodRejection(t *testing.T) {
	t.Parallel()
	plan, err := pattern.Derive(32, 32, 1)
	require.NoError(t, err)

	outlier := func(x, y int) (int, int) {
		if x == 10 && y == 10 {
			return 20, 20
		}
		return 5, 5
	}
	frames := render(plan, 32, 32, outlier, perfect)
	d := decoderFor(t, plan, 40, 5)

	raw, r := d.decodeRaw(frames, 10, 10)
	require.Equal(t, RejectNone, r, "the centre decodes on its own")
	assert.Equal(t, ProjectorPixel{Col: 20, Row: 20}, raw)

	_, r = d.Decode(frames, 10, 10)
	assert.Equal(t, RejectInconsistent, r)

	got, r := d.Decode(frames, 20, 20)
	assert.Equal(t, RejectNone, r)
	assert.Equal(t, ProjectorPixel{Col: 5, Row: 5}, got)
}

func TestDecode_ShadowedNeighborsIgnored(t *testing.T) {
	t.Parallel()
	plan, err := pattern.Derive(32, 32, 1)
	require.NoError(t, err)

	outlier := func(x, y int) (int, int) {
		if x == 10 && y == 10 {
			return 20, 20
		}
		return 5, 5
	}
	// Only the centre is lit.
	levels := func(x, y int) (int, int, int) {
		if x == 10 && y == 10 {
			return 0, 254, 127
		}
		return 10, 0, 0
	}
	frames := render(plan, 32, 32, outlier, levels)

	got, r := decoderFor(t, plan, 40, 5).Decode(frames, 10, 10)
	require.Equal(t, RejectNone, r)
	assert.Equal(t, ProjectorPixel{Col: 20, Row: 20}, got)
}

func TestDecode_ToleranceIsConfigurable(t *testing.T) {
	t.Parallel()
	plan, err := pattern.Derive(32, 32, 1)
	require.NoError(t, err)

	jump := func(x, y int) (int, int) {
		if x >= 10 {
			return x + 3, y
		}
		return x, y
	}
	frames := render(plan, 32, 32, jump, perfect)

	cfg := config.Default().Decoder
	_, r := NewDecoder(plan, cfg).Decode(frames, 10, 5)
	assert.Equal(t, RejectInconsistent, r, "left neighbour is 4 columns away")

	cfg.NeighborTolerance = 4
	_, r = NewDecoder(plan, cfg).Decode(frames, 10, 5)
	assert.Equal(t, RejectNone, r)
}

// ---------------------------------------------------------------------------
// Threshold monotonicity
// ---------------------------------------------------------------------------

func TestDecode_ThresholdMonotonicity(t *testing.T) {
	t.Parallel()
	plan, err := pattern.Derive(40, 48, 1)
	require.NoError(t, err)

	// Contrast and bit margin vary per pixel; the margin never crosses the
	// midpoint and every cell maps to itself, so no neighbour is ever
	// inconsistent. See TestDecode_ShadowedNeighbourIsSkipped for data where
	// a higher black threshold accepts more pixels.
	levels := func(x, y int) (int, int, int) {
		black := 10 + (x+y)%20
		amp := 2 * ((x*7 + y*3) % 100)
		if amp == 0 {
			return black, 0, 0
		}
		margin := 1 + (x+2*y)%(amp/2)
		return black, amp, margin
	}
	frames := render(plan, 48, 40, identity, levels)

	t.Run("black threshold", func(t *testing.T) {
		t.Parallel()
		prev := -1
		for thr := 0; thr <= 200; thr += 10 {
			n := countAccepted(decoderFor(t, plan, thr, 5), frames)
			if prev >= 0 {
				assert.LessOrEqual(t, n, prev, "black threshold %d", thr)
			}
			prev = n
		}
		assert.Zero(t, prev, "nothing has more than 200 levels of contrast")
	})

	t.Run("white threshold", func(t *testing.T) {
		t.Parallel()
		prev := -1
		first := 0
		for thr := 0; thr <= 100; thr += 5 {
			n := countAccepted(decoderFor(t, plan, 40, thr), frames)
			if prev >= 0 {
				assert.LessOrEqual(t, n, prev, "white threshold %d", thr)
			} else {
				first = n
			}
			prev = n
		}
		assert.Less(t, prev, first)
	})
}

// A dim neighbour that decodes to a distant cell rejects the centre until
// the black threshold shadows it; from then on it is not compared.
func TestDecode_ShadowedNeighbourIsSkipped(t *testing.T) {
	t.Parallel()
	plan, err := pattern.Derive(32, 32, 1)
	require.NoError(t, err)

	stray := func(x, y int) (int, int) {
		if x == 11 && y == 10 {
			return x + 5, y
		}
		return x, y
	}
	levels := func(x, y int) (int, int, int) {
		if x == 11 && y == 10 {
			return 10, 60, 30
		}
		return perfect(x, y)
	}
	frames := render(plan, 32, 32, stray, levels)

	_, r := decoderFor(t, plan, 40, 5).Decode(frames, 10, 10)
	assert.Equal(t, RejectInconsistent, r)

	got, r := decoderFor(t, plan, 80, 5).Decode(frames, 10, 10)
	require.Equal(t, RejectNone, r)
	assert.Equal(t, ProjectorPixel{Col: 10, Row: 10}, got)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	plan, err := pattern.Derive(16, 16, 1)
	require.NoError(t, err)
	d := decoderFor(t, plan, 40, 5)

	frames := render(plan, 16, 16, identity, perfect)
	require.NoError(t, d.Validate(frames))

	short := frames
	short.Patterns = frames.Patterns[1:]
	assert.Error(t, d.Validate(short))

	resized := frames
	resized.Black = image.NewGray(image.Rect(0, 0, 8, 8))
	assert.Error(t, d.Validate(resized))
}
