package pattern

import (
	"fmt"
	"math/bits"

	"procam-calibration/internal/config"
)

// Plan is the Gray-code layout derived from a projector resolution and a
// pixel grouping step. Canvas coordinates are in step-sized cells.
type Plan struct {
	ProjectorWidth  int
	ProjectorHeight int
	Step            int
	Width           int
	Height          int
	ColumnBits      int
	RowBits         int
}

func Derive(height, width, step int) (Plan, error) {
	if height <= 0 || width <= 0 {
		return Plan{}, fmt.Errorf("%w: projector resolution %dx%d", config.ErrInvalidConfiguration, width, height)
	}
	if step <= 0 {
		return Plan{}, fmt.Errorf("%w: graycode step %d", config.ErrInvalidConfiguration, step)
	}

	canvasW := (width-1)/step + 1
	canvasH := (height-1)/step + 1

	return Plan{
		ProjectorWidth:  width,
		ProjectorHeight: height,
		Step:            step,
		Width:           canvasW,
		Height:          canvasH,
		ColumnBits:      bitsFor(canvasW),
		RowBits:         bitsFor(canvasH),
	}, nil
}

// bitsFor returns ceil(log2(n)), the number of bits that address n cells.
// A single-cell axis needs no bit-planes.
func bitsFor(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

func (p Plan) BitPlanes() int {
	return p.ColumnBits + p.RowBits
}

// ImageCount includes the white and black reference frames.
func (p Plan) ImageCount() int {
	return p.BitPlanes() + 2
}

func (p Plan) Contains(col, row int) bool {
	return col >= 0 && col < p.Width && row >= 0 && row < p.Height
}

func (p Plan) String() string {
	return fmt.Sprintf("%dx%d step %d (canvas %dx%d, %d+%d bits)",
		p.ProjectorWidth, p.ProjectorHeight, p.Step, p.Width, p.Height, p.ColumnBits, p.RowBits)
}

// Encode converts a binary cell index to its reflected Gray code.
func Encode(v int) int {
	return v ^ (v >> 1)
}

func Decode(g int) int {
	v := g
	for shift := g >> 1; shift != 0; shift >>= 1 {
		v ^= shift
	}
	return v
}
