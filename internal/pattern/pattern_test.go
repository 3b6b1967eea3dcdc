package pattern

import (
	"path/filepath"
	"testing"

	"procam-calibration/internal/config"
	"procam-calibration/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Derive
// ---------------------------------------------------------------------------

func TestDerive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                string
		height, width, step int
		canvasW, canvasH    int
		columnBits, rowBits int
	}{
		{"full hd step 1", 1080, 1920, 1, 1920, 1080, 11, 11},
		{"power of two", 768, 1024, 1, 1024, 768, 10, 10},
		{"full hd step 4", 1080, 1920, 4, 480, 270, 9, 9},
		{"step not dividing", 100, 101, 10, 11, 10, 4, 4},
		{"single pixel", 1, 1, 1, 1, 1, 0, 0},
		{"one pixel row", 1, 1920, 1, 1920, 1, 11, 0},
		{"one cell column", 600, 3, 4, 1, 150, 0, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			plan, err := Derive(tt.height, tt.width, tt.step)
			require.NoError(t, err)
			assert.Equal(t, tt.canvasW, plan.Width)
			assert.Equal(t, tt.canvasH, plan.Height)
			assert.Equal(t, tt.columnBits, plan.ColumnBits)
			assert.Equal(t, tt.rowBits, plan.RowBits)
			assert.Equal(t, tt.columnBits+tt.rowBits+2, plan.ImageCount())
		})
	}
}

func TestDerive_Invalid(t *testing.T) {
	t.Parallel()
	for _, args := range [][3]int{{0, 10, 1}, {10, -1, 1}, {10, 10, 0}} {
		_, err := Derive(args[0], args[1], args[2])
		assert.ErrorIs(t, err, config.ErrInvalidConfiguration, "args %v", args)
	}
}

// ---------------------------------------------------------------------------
// Gray code
// ---------------------------------------------------------------------------

func TestGrayCode(t *testing.T) {
	t.Parallel()
	for v := 0; v < 4096; v++ {
		g := Encode(v)
		require.Equal(t, v, Decode(g))
		if v > 0 {
			diff := g ^ Encode(v-1)
			assert.Equal(t, 0, diff&(diff-1), "neighbours %d and %d differ in more than one bit", v-1, v)
		}
	}
}

func TestGenerate_DecodesEveryCell(t *testing.T) {
	t.Parallel()
	plan, err := Derive(40, 60, 3)
	require.NoError(t, err)

	images := Generate(plan)
	require.Len(t, images, plan.ImageCount())

	white := images[plan.BitPlanes()]
	black := images[plan.BitPlanes()+1]
	assert.EqualValues(t, 255, white.GrayAt(59, 39).Y)
	assert.EqualValues(t, 0, black.GrayAt(0, 0).Y)

	for y := 0; y < plan.ProjectorHeight; y++ {
		for x := 0; x < plan.ProjectorWidth; x++ {
			var col, row int
			for plane := 0; plane < plan.ColumnBits; plane++ {
				col = col<<1 | int(images[plane].GrayAt(x, y).Y/255)
			}
			for plane := plan.ColumnBits; plane < plan.BitPlanes(); plane++ {
				row = row<<1 | int(images[plane].GrayAt(x, y).Y/255)
			}
			require.Equal(t, x/plan.Step, Decode(col), "column at (%d,%d)", x, y)
			require.Equal(t, y/plan.Step, Decode(row), "row at (%d,%d)", x, y)
		}
	}
}

// ---------------------------------------------------------------------------
// Validator
// ---------------------------------------------------------------------------

func TestValidator_GeneratedSet(t *testing.T) {
	t.Parallel()
	plan, err := Derive(96, 128, 1)
	require.NoError(t, err)

	paths, err := WriteSet(t.TempDir(), "pattern_", Generate(plan))
	require.NoError(t, err)

	v := NewValidator(config.Default().PatternQuality, logger.NewNop())
	report, err := v.ValidateFiles(paths, &plan)
	require.NoError(t, err)
	assert.True(t, report.OK(), "problems: %v %v", report.Problems, report.Findings)

	kinds := map[ImageKind]int{}
	for _, f := range report.Findings {
		kinds[f.Kind]++
	}
	assert.Equal(t, 1, kinds[KindWhite])
	assert.Equal(t, 1, kinds[KindBlack])
	assert.Equal(t, plan.BitPlanes(), kinds[KindStripes])
}

func TestValidator_MissingBlack(t *testing.T) {
	t.Parallel()
	plan, err := Derive(32, 32, 1)
	require.NoError(t, err)

	images := Generate(plan)
	images = images[:len(images)-1]
	paths, err := WriteSet(filepath.Join(t.TempDir(), "set"), "pattern_", images)
	require.NoError(t, err)

	v := NewValidator(config.Default().PatternQuality, logger.NewNop())
	report, err := v.ValidateFiles(paths, &plan)
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Len(t, report.Problems, 2, "missing black and wrong count")
}
