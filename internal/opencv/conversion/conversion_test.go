package conversion

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*7 + y*13) % 256)})
		}
	}
	return img
}

func TestGrayMatRoundTrip(t *testing.T) {
	t.Parallel()
	src := gradient(37, 21)

	mat, err := GrayToMat(src)
	require.NoError(t, err)
	defer mat.Close()

	assert.Equal(t, 21, mat.Rows())
	assert.Equal(t, 37, mat.Cols())

	back, err := MatToGray(mat)
	require.NoError(t, err)
	assert.Equal(t, src.Pix, back.Pix)
}

func TestGrayToMat_SubImage(t *testing.T) {
	t.Parallel()
	src := gradient(40, 30)
	sub := src.SubImage(image.Rect(5, 6, 25, 16)).(*image.Gray)

	mat, err := GrayToMat(sub)
	require.NoError(t, err)
	defer mat.Close()

	back, err := MatToGray(mat)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 20, 10), back.Bounds())
	assert.Equal(t, src.GrayAt(5, 6), back.GrayAt(0, 0))
	assert.Equal(t, src.GrayAt(24, 15), back.GrayAt(19, 9))
}

func TestWriteReadGray(t *testing.T) {
	t.Parallel()
	src := gradient(64, 48)
	path := filepath.Join(t.TempDir(), "frame.png")

	require.NoError(t, WriteGray(path, src))

	back, err := ReadGrayImage(path, nil, "test")
	require.NoError(t, err)
	assert.Equal(t, src.Pix, back.Pix)
}

func TestReadGray_Missing(t *testing.T) {
	t.Parallel()
	_, err := ReadGray(filepath.Join(t.TempDir(), "nope.png"), nil, "test")
	assert.Error(t, err)
}
