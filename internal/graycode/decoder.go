package graycode

import (
	"fmt"
	"image"
	"math"

	"procam-calibration/internal/config"
	"procam-calibration/internal/pattern"
)

// Rejection explains why a camera pixel produced no projector pixel.
// RejectNone means the decode was accepted.
type Rejection int

const (
	RejectNone Rejection = iota
	RejectShadow
	RejectAmbiguous
	RejectOutOfRange
	RejectInconsistent
)

func (r Rejection) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectShadow:
		return "shadow"
	case RejectAmbiguous:
		return "ambiguous"
	case RejectOutOfRange:
		return "out_of_range"
	case RejectInconsistent:
		return "inconsistent"
	default:
		return fmt.Sprintf("rejection(%d)", int(r))
	}
}

// Frames is one capture: bit-plane images in projection order plus the
// white and black references, all the same size.
type Frames struct {
	Patterns []*image.Gray
	White    *image.Gray
	Black    *image.Gray
}

func (f Frames) Bounds() image.Rectangle {
	if f.White == nil {
		return image.Rectangle{}
	}
	return f.White.Bounds()
}

// ProjectorPixel is a decoded canvas cell.
type ProjectorPixel struct {
	Col int
	Row int
}

// Scaled converts canvas cells to projector pixels.
func (p ProjectorPixel) Scaled(step int) (float64, float64) {
	return float64(p.Col * step), float64(p.Row * step)
}

type Decoder struct {
	plan              pattern.Plan
	blackThreshold    int
	whiteThreshold    float64
	neighborTolerance int
}

func NewDecoder(plan pattern.Plan, cfg config.DecoderConfig) *Decoder {
	return &Decoder{
		plan:              plan,
		blackThreshold:    cfg.BlackThreshold,
		whiteThreshold:    float64(cfg.WhiteThreshold),
		neighborTolerance: cfg.NeighborTolerance,
	}
}

func (d *Decoder) Plan() pattern.Plan {
	return d.plan
}

// Validate checks that frames carry the plane count the plan expects and
// that every image shares the reference size.
func (d *Decoder) Validate(frames Frames) error {
	if frames.White == nil || frames.Black == nil {
		return fmt.Errorf("missing white or black reference")
	}
	if len(frames.Patterns) != d.plan.BitPlanes() {
		return fmt.Errorf("expected %d bit-planes, got %d", d.plan.BitPlanes(), len(frames.Patterns))
	}
	bounds := frames.White.Bounds()
	if frames.Black.Bounds() != bounds {
		return fmt.Errorf("black reference is %v, white is %v", frames.Black.Bounds(), bounds)
	}
	for i, img := range frames.Patterns {
		if img == nil || img.Bounds() != bounds {
			return fmt.Errorf("bit-plane %d does not match reference size %v", i, bounds)
		}
	}
	return nil
}

// Decode returns the canvas cell that lit camera pixel (x,y). The pixel is
// accepted only when it is lit, every bit is unambiguous, the code lies on
// the canvas and no lit, decodable 8-neighbour disagrees by more than the
// neighbour tolerance.
func (d *Decoder) Decode(frames Frames, x, y int) (ProjectorPixel, Rejection) {
	center, rejection := d.decodeRaw(frames, x, y)
	if rejection != RejectNone {
		return ProjectorPixel{}, rejection
	}

	bounds := frames.Bounds()
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := x+dx, y+dy
			if !image.Pt(nx, ny).In(bounds) {
				continue
			}
			neighbor, r := d.decodeRaw(frames, nx, ny)
			if r != RejectNone {
				continue
			}
			if abs(neighbor.Col-center.Col) > d.neighborTolerance ||
				abs(neighbor.Row-center.Row) > d.neighborTolerance {
				return ProjectorPixel{}, RejectInconsistent
			}
		}
	}

	return center, RejectNone
}

// Illuminated reports whether the projector reaches (x,y) at all.
func (d *Decoder) Illuminated(frames Frames, x, y int) bool {
	w := int(frames.White.GrayAt(x, y).Y)
	b := int(frames.Black.GrayAt(x, y).Y)
	return w-b > d.blackThreshold
}

func (d *Decoder) decodeRaw(frames Frames, x, y int) (ProjectorPixel, Rejection) {
	w := float64(frames.White.GrayAt(x, y).Y)
	b := float64(frames.Black.GrayAt(x, y).Y)
	if w-b <= float64(d.blackThreshold) {
		return ProjectorPixel{}, RejectShadow
	}

	mid := (w + b) / 2
	var colCode, rowCode int
	for plane, img := range frames.Patterns {
		v := float64(img.GrayAt(x, y).Y)
		if math.Abs(v-mid) < d.whiteThreshold {
			return ProjectorPixel{}, RejectAmbiguous
		}
		bit := 0
		if v > mid {
			bit = 1
		}
		if plane < d.plan.ColumnBits {
			colCode = colCode<<1 | bit
		} else {
			rowCode = rowCode<<1 | bit
		}
	}

	p := ProjectorPixel{Col: pattern.Decode(colCode), Row: pattern.Decode(rowCode)}
	if !d.plan.Contains(p.Col, p.Row) {
		return ProjectorPixel{}, RejectOutOfRange
	}
	return p, RejectNone
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
