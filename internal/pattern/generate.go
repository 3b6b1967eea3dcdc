package pattern

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"procam-calibration/internal/opencv/conversion"
)

// Bit reports whether bit-plane `plane` is lit at canvas cell (col,row).
// Planes [0, ColumnBits) carry the column code MSB first, the rest carry
// the row code MSB first.
func (p Plan) Bit(plane, col, row int) bool {
	if plane < p.ColumnBits {
		return (Encode(col)>>(p.ColumnBits-1-plane))&1 == 1
	}
	plane -= p.ColumnBits
	return (Encode(row)>>(p.RowBits-1-plane))&1 == 1
}

// Generate renders the full projection sequence at projector resolution:
// every bit-plane, then white, then black.
func Generate(p Plan) []*image.Gray {
	rect := image.Rect(0, 0, p.ProjectorWidth, p.ProjectorHeight)
	images := make([]*image.Gray, 0, p.ImageCount())

	for plane := 0; plane < p.BitPlanes(); plane++ {
		img := image.NewGray(rect)
		for y := 0; y < p.ProjectorHeight; y++ {
			row := y / p.Step
			for x := 0; x < p.ProjectorWidth; x++ {
				if p.Bit(plane, x/p.Step, row) {
					img.Pix[y*img.Stride+x] = 255
				}
			}
		}
		images = append(images, img)
	}

	white := image.NewGray(rect)
	for i := range white.Pix {
		white.Pix[i] = 255
	}
	images = append(images, white, image.NewGray(rect))

	return images
}

// WriteSet stores images as <prefix>NN.png inside dir and returns the paths.
func WriteSet(dir, prefix string, images []*image.Gray) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating pattern directory: %w", err)
	}

	paths := make([]string, 0, len(images))
	for i, img := range images {
		path := filepath.Join(dir, fmt.Sprintf("%s%02d.png", prefix, i))
		if err := conversion.WriteGray(path, img); err != nil {
			return paths, fmt.Errorf("writing pattern %d: %w", i, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
