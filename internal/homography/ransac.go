package homography

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/golang/geo/r2"
)

type RansacOptions struct {
	// Threshold is the maximum reprojection distance, in destination
	// units, for a pair to count as an inlier.
	Threshold     float64
	MaxIterations int
	Confidence    float64
	// Seed makes sampling reproducible; the same input always yields the
	// same model.
	Seed uint64
}

type Estimate struct {
	H       H
	Inliers []bool
	Count   int
}

// EstimateRansac fits a homography robust to outliers. The best minimal
// model is refit on its inlier set before returning.
func EstimateRansac(src, dst []r2.Point, opts RansacOptions) (Estimate, error) {
	n := len(src)
	if n != len(dst) {
		return Estimate{}, fmt.Errorf("point count mismatch: %d vs %d", n, len(dst))
	}
	if n < 4 {
		return Estimate{}, fmt.Errorf("%w: need 4 pairs, have %d", ErrNoHomography, n)
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	thresholdSq := opts.Threshold * opts.Threshold

	best := Estimate{}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sampleSrc := make([]r2.Point, 4)
	sampleDst := make([]r2.Point, 4)

	limit := opts.MaxIterations
	for iter := 0; iter < limit; iter++ {
		for k := 0; k < 4; k++ {
			j := k + rng.IntN(n-k)
			idx[k], idx[j] = idx[j], idx[k]
			sampleSrc[k] = src[idx[k]]
			sampleDst[k] = dst[idx[k]]
		}
		if degenerate(sampleSrc) || degenerate(sampleDst) {
			continue
		}

		h, err := Fit(sampleSrc, sampleDst)
		if err != nil {
			continue
		}
		inliers, count := score(h, src, dst, thresholdSq)
		if count > best.Count {
			best = Estimate{H: h, Inliers: inliers, Count: count}
			if adaptive := iterationsFor(float64(count)/float64(n), opts.Confidence); adaptive < limit {
				limit = max(adaptive, iter+1)
			}
		}
	}

	if best.Count < 4 {
		return Estimate{}, fmt.Errorf("%w: best model has %d inliers", ErrNoHomography, best.Count)
	}

	inSrc := make([]r2.Point, 0, best.Count)
	inDst := make([]r2.Point, 0, best.Count)
	for i, ok := range best.Inliers {
		if ok {
			inSrc = append(inSrc, src[i])
			inDst = append(inDst, dst[i])
		}
	}
	refit, err := Fit(inSrc, inDst)
	if err != nil {
		return best, nil
	}
	inliers, count := score(refit, src, dst, thresholdSq)
	if count >= best.Count {
		return Estimate{H: refit, Inliers: inliers, Count: count}, nil
	}
	return best, nil
}

func score(h H, src, dst []r2.Point, thresholdSq float64) ([]bool, int) {
	inliers := make([]bool, len(src))
	count := 0
	for i := range src {
		p, w := h.Map(src[i])
		if w == 0 {
			continue
		}
		d := p.Sub(dst[i])
		if d.X*d.X+d.Y*d.Y <= thresholdSq {
			inliers[i] = true
			count++
		}
	}
	return inliers, count
}

// iterationsFor is the number of draws needed to hit an all-inlier sample
// with the given confidence.
func iterationsFor(inlierRatio, confidence float64) int {
	if inlierRatio >= 1 {
		return 1
	}
	good := math.Pow(inlierRatio, 4)
	if good <= 0 {
		return math.MaxInt32
	}
	n := math.Log(1-confidence) / math.Log(1-good)
	if math.IsNaN(n) || n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Ceil(n))
}

// degenerate reports whether any three of the four points are collinear.
func degenerate(pts []r2.Point) bool {
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			for k := j + 1; k < 4; k++ {
				a := pts[j].Sub(pts[i])
				b := pts[k].Sub(pts[i])
				if math.Abs(a.Cross(b)) <= 1e-9*(a.Norm()*b.Norm()+1e-12) {
					return true
				}
			}
		}
	}
	return false
}
