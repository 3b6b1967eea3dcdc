package calib

import (
	"fmt"
	"image"
	"math"

	"procam-calibration/internal/homography"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// planar reports whether every object point lies on Z = 0.
func planar(views []View) bool {
	for _, v := range views {
		for _, p := range v.Object {
			if math.Abs(p.Z) > 1e-9 {
				return false
			}
		}
	}
	return true
}

func boardHomography(object []r3.Vector, img []r2.Point) (homography.H, error) {
	src := make([]r2.Point, len(object))
	for i, p := range object {
		src[i] = r2.Point{X: p.X, Y: p.Y}
	}
	return homography.Fit(src, img)
}

// initIntrinsics estimates focal lengths from the orthogonality and equal
// norm of each board's rotation columns, with the principal point held at
// the image centre.
func initIntrinsics(views []View, size image.Point) (Intrinsics, error) {
	cx := float64(size.X-1) * 0.5
	cy := float64(size.Y-1) * 0.5

	a := mat.NewDense(2*len(views), 2, nil)
	b := mat.NewVecDense(2*len(views), nil)
	for i, v := range views {
		h, err := boardHomography(v.Object, v.Image)
		if err != nil {
			return Intrinsics{}, fmt.Errorf("%w: view %s: %v", ErrOptimizationFailure, v.Name, err)
		}
		// Move the principal point to the origin.
		for j := 0; j < 3; j++ {
			h[j] -= h[6+j] * cx
			h[3+j] -= h[6+j] * cy
		}

		var c1, c2, d1, d2 r3.Vector
		c1 = r3.Vector{X: h[0], Y: h[3], Z: h[6]}
		c2 = r3.Vector{X: h[1], Y: h[4], Z: h[7]}
		d1 = c1.Add(c2).Mul(0.5)
		d2 = c1.Sub(c2).Mul(0.5)
		c1, c2, d1, d2 = c1.Normalize(), c2.Normalize(), d1.Normalize(), d2.Normalize()

		a.Set(2*i, 0, c1.X*c2.X)
		a.Set(2*i, 1, c1.Y*c2.Y)
		b.SetVec(2*i, -c1.Z*c2.Z)
		a.Set(2*i+1, 0, d1.X*d2.X)
		a.Set(2*i+1, 1, d1.Y*d2.Y)
		b.SetVec(2*i+1, -d1.Z*d2.Z)
	}

	var f mat.VecDense
	if err := f.SolveVec(a, b); err != nil {
		return Intrinsics{}, fmt.Errorf("%w: focal initialisation: %v", ErrOptimizationFailure, err)
	}
	k := Intrinsics{
		Fx: math.Sqrt(math.Abs(1 / f.AtVec(0))),
		Fy: math.Sqrt(math.Abs(1 / f.AtVec(1))),
		Cx: cx,
		Cy: cy,
	}
	if !finite(k.Fx) || !finite(k.Fy) || k.Fx == 0 || k.Fy == 0 {
		return Intrinsics{}, fmt.Errorf("%w: degenerate focal estimate %.3g, %.3g", ErrOptimizationFailure, k.Fx, k.Fy)
	}
	return k, nil
}

// poseFromHomography recovers a board pose from the homography between the
// board plane and ideal normalized image coordinates.
func poseFromHomography(h homography.H) (Pose, error) {
	c1 := r3.Vector{X: h[0], Y: h[3], Z: h[6]}
	c2 := r3.Vector{X: h[1], Y: h[4], Z: h[7]}
	c3 := r3.Vector{X: h[2], Y: h[5], Z: h[8]}

	n := math.Sqrt(c1.Norm() * c2.Norm())
	if n == 0 || !finite(n) {
		return Pose{}, fmt.Errorf("%w: degenerate board homography", ErrOptimizationFailure)
	}
	lambda := 1 / n
	if c3.Z < 0 {
		lambda = -lambda
	}
	r1 := c1.Mul(lambda)
	r2v := c2.Mul(lambda)
	r3v := r1.Cross(r2v)
	t := c3.Mul(lambda)

	rot := Orthonormalize(Mat3{
		r1.X, r2v.X, r3v.X,
		r1.Y, r2v.Y, r3v.Y,
		r1.Z, r2v.Z, r3v.Z,
	})
	return Pose{R: RodriguesVector(rot), T: t}, nil
}

// initialPose estimates a board pose for a device with known model.
func initialPose(cam Camera, v View) (Pose, error) {
	ideal := cam.Undistort(v.Image)
	h, err := boardHomography(v.Object, ideal)
	if err != nil {
		return Pose{}, fmt.Errorf("%w: view %s: %v", ErrOptimizationFailure, v.Name, err)
	}
	return poseFromHomography(h)
}
