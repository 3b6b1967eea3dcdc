package homography

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

var ErrNoHomography = errors.New("no homography")

// H is a 3x3 projective transform stored row major.
type H [9]float64

func Identity() H {
	return H{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Map applies h to p and also returns the homogeneous divisor so callers
// can reject near-singular mappings.
func (h H) Map(p r2.Point) (r2.Point, float64) {
	x := h[0]*p.X + h[1]*p.Y + h[2]
	y := h[3]*p.X + h[4]*p.Y + h[5]
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if w == 0 {
		return r2.Point{X: math.Inf(1), Y: math.Inf(1)}, 0
	}
	return r2.Point{X: x / w, Y: y / w}, w
}

func (h H) Dense() *mat.Dense {
	return mat.NewDense(3, 3, h[:])
}

// Fit solves the normalized DLT least squares problem over all pairs.
func Fit(src, dst []r2.Point) (H, error) {
	if len(src) != len(dst) {
		return H{}, fmt.Errorf("point count mismatch: %d vs %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return H{}, fmt.Errorf("%w: need 4 pairs, have %d", ErrNoHomography, len(src))
	}

	srcN, t1, ok := normalizePoints(src)
	if !ok {
		return H{}, fmt.Errorf("%w: source points coincide", ErrNoHomography)
	}
	dstN, t2, ok := normalizePoints(dst)
	if !ok {
		return H{}, fmt.Errorf("%w: destination points coincide", ErrNoHomography)
	}

	n := len(src)
	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return H{}, fmt.Errorf("%w: SVD failed", ErrNoHomography)
	}
	var vMat mat.Dense
	svd.VTo(&vMat)

	hn := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		hn.Set(i/3, i%3, vMat.At(i, 8))
	}

	// H = T2^-1 * Hn * T1
	var tmp, full mat.Dense
	tmp.Mul(hn, t1)
	full.Mul(inverseSimilarity(t2), &tmp)

	var out H
	for i := 0; i < 9; i++ {
		out[i] = full.At(i/3, i%3)
	}
	return out.normalized()
}

func (h H) normalized() (H, error) {
	scale := h[8]
	if math.Abs(scale) < 1e-12 {
		norm := 0.0
		for _, v := range h {
			norm += v * v
		}
		scale = math.Sqrt(norm)
	}
	if scale == 0 || math.IsNaN(scale) {
		return H{}, fmt.Errorf("%w: degenerate solution", ErrNoHomography)
	}
	for i := range h {
		h[i] /= scale
	}
	return h, nil
}

// normalizePoints moves the centroid to the origin and scales the mean
// distance to sqrt(2).
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, bool) {
	n := float64(len(pts))
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1 / n)

	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / n
	}
	if d < 1e-12 {
		return nil, nil, false
	}

	scale := math.Sqrt2 / d
	t := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		out[i] = pt.Sub(mu).Mul(scale)
	}
	return out, t, true
}

func inverseSimilarity(t *mat.Dense) *mat.Dense {
	s := t.At(0, 0)
	return mat.NewDense(3, 3, []float64{
		1 / s, 0, -t.At(0, 2) / s,
		0, 1 / s, -t.At(1, 2) / s,
		0, 0, 1,
	})
}
