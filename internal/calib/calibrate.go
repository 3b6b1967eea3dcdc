package calib

import (
	"fmt"
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

const (
	poseParams      = 6
	intrinsicParams = 4
)

func countObservations(views []View) int {
	n := 0
	for _, v := range views {
		n += len(v.Object)
	}
	return n
}

func checkViews(views []View) error {
	if len(views) == 0 {
		return fmt.Errorf("%w: no views", ErrOptimizationFailure)
	}
	for _, v := range views {
		if len(v.Object) != len(v.Image) {
			return fmt.Errorf("%w: view %s has %d object and %d image points",
				ErrOptimizationFailure, v.Name, len(v.Object), len(v.Image))
		}
		if len(v.Object) < 4 {
			return fmt.Errorf("%w: view %s has %d points", ErrOptimizationFailure, v.Name, len(v.Object))
		}
	}
	return nil
}

func putPose(params []float64, at int, p Pose) {
	copy(params[at:], []float64{p.R.X, p.R.Y, p.R.Z, p.T.X, p.T.Y, p.T.Z})
}

func getPose(params []float64, at int) Pose {
	return Pose{
		R: r3.Vector{X: params[at], Y: params[at+1], Z: params[at+2]},
		T: r3.Vector{X: params[at+3], Y: params[at+4], Z: params[at+5]},
	}
}

func putCamera(params []float64, at int, c Camera, coeffs int) {
	params[at] = c.K.Fx
	params[at+1] = c.K.Fy
	params[at+2] = c.K.Cx
	params[at+3] = c.K.Cy
	d := c.coeffs()
	copy(params[at+intrinsicParams:at+intrinsicParams+coeffs], d[:coeffs])
}

func getCamera(params []float64, at, coeffs int) Camera {
	return Camera{
		K:    Intrinsics{Fx: params[at], Fy: params[at+1], Cx: params[at+2], Cy: params[at+3]},
		Dist: append([]float64(nil), params[at+intrinsicParams:at+intrinsicParams+coeffs]...),
	}
}

// residualsInto writes the reprojection error of every object point seen by
// cam through rot and t, and returns the next free slot.
func residualsInto(out []float64, at int, cam Camera, rot Mat3, t r3.Vector, object []r3.Vector, img []r2.Point) int {
	d := cam.coeffs()
	for i, x := range object {
		p := cam.project(rot.MulVec(x).Add(t), &d)
		out[at] = p.X - img[i].X
		out[at+1] = p.Y - img[i].Y
		at += 2
	}
	return at
}

func r2Point(flat []float64, at int) r2.Point {
	return r2.Point{X: flat[at], Y: flat[at+1]}
}

func rms(residuals []float64, observations int) float64 {
	if observations == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range residuals {
		sum += v * v
	}
	return math.Sqrt(sum / float64(observations))
}

func collectResiduals(device string, names []string, counts []int, flat []float64) []Residual {
	out := make([]Residual, 0, len(flat)/2)
	at := 0
	for i, n := range counts {
		for j := 0; j < n; j++ {
			out = append(out, Residual{Device: device, View: names[i], Error: r2Point(flat, at)})
			at += 2
		}
	}
	return out
}

// CalibrateCamera estimates intrinsics, distortion and one pose per view
// from planar board observations.
func CalibrateCamera(views []View, size image.Point, model Model, crit Criteria) (*CalibrationResult, error) {
	if err := checkViews(views); err != nil {
		return nil, err
	}
	if !planar(views) {
		return nil, fmt.Errorf("%w: object points are not planar", ErrOptimizationFailure)
	}
	coeffs := model.Coefficients()
	global := intrinsicParams + coeffs
	nParams := global + poseParams*len(views)
	nResiduals := 2 * countObservations(views)
	if nResiduals < nParams {
		return nil, fmt.Errorf("%w: %d residuals for %d parameters with the %s model",
			ErrOptimizationFailure, nResiduals, nParams, model)
	}

	k, err := initIntrinsics(views, size)
	if err != nil {
		return nil, err
	}
	initCam := Camera{K: k}

	params := make([]float64, nParams)
	putCamera(params, 0, initCam, coeffs)
	for i, v := range views {
		pose, err := initialPose(initCam, v)
		if err != nil {
			return nil, err
		}
		putPose(params, global+poseParams*i, pose)
	}

	free := make([]int, nParams)
	for i := range free {
		free[i] = i
	}

	sol, err := solve(problem{
		params:    params,
		free:      free,
		residuals: nResiduals,
		eval: func(p, out []float64) {
			cam := getCamera(p, 0, coeffs)
			at := 0
			for i, v := range views {
				pose := getPose(p, global+poseParams*i)
				at = residualsInto(out, at, cam, Rodrigues(pose.R), pose.T, v.Object, v.Image)
			}
		},
	}, crit)
	if err != nil {
		return nil, err
	}
	if err := sol.requireConverged(); err != nil {
		return nil, fmt.Errorf("%s model: %w", model, err)
	}

	cam := getCamera(sol.params, 0, coeffs)
	if !cam.finite() || cam.K.Fx <= 0 || cam.K.Fy <= 0 {
		return nil, fmt.Errorf("%w: invalid intrinsics after refinement", ErrOptimizationFailure)
	}

	res := &CalibrationResult{
		Camera:     cam,
		RMS:        rms(sol.residuals, countObservations(views)),
		Model:      model,
		Iterations: sol.iterations,
	}
	names := make([]string, len(views))
	counts := make([]int, len(views))
	for i, v := range views {
		res.Poses = append(res.Poses, getPose(sol.params, global+poseParams*i))
		names[i] = v.Name
		counts[i] = len(v.Object)
	}
	res.Residuals = collectResiduals("", names, counts, sol.residuals)
	return res, nil
}

// SolvePnP estimates the pose of one planar view for a device with fixed
// intrinsics and distortion.
func SolvePnP(cam Camera, v View, crit Criteria) (Pose, float64, error) {
	if err := checkViews([]View{v}); err != nil {
		return Pose{}, 0, err
	}
	if !planar([]View{v}) {
		return Pose{}, 0, fmt.Errorf("%w: object points are not planar", ErrOptimizationFailure)
	}
	pose, err := initialPose(cam, v)
	if err != nil {
		return Pose{}, 0, err
	}

	params := make([]float64, poseParams)
	putPose(params, 0, pose)
	sol, err := solve(problem{
		params:    params,
		free:      []int{0, 1, 2, 3, 4, 5},
		residuals: 2 * len(v.Object),
		eval: func(p, out []float64) {
			pose := getPose(p, 0)
			residualsInto(out, 0, cam, Rodrigues(pose.R), pose.T, v.Object, v.Image)
		},
	}, crit)
	if err != nil {
		return Pose{}, 0, err
	}
	return getPose(sol.params, 0), rms(sol.residuals, len(v.Object)), nil
}

// PoseViews solves PnP for each view with a fixed device model and reports
// the combined RMS.
func PoseViews(cam Camera, views []View, crit Criteria) (*CalibrationResult, error) {
	if err := checkViews(views); err != nil {
		return nil, err
	}
	res := &CalibrationResult{Camera: cam, Model: ModelBasic}
	sum := 0.0
	for _, v := range views {
		pose, _, err := SolvePnP(cam, v, crit)
		if err != nil {
			return nil, fmt.Errorf("view %s: %w", v.Name, err)
		}
		res.Poses = append(res.Poses, pose)
		for i, p := range cam.Project(pose, v.Object) {
			e := p.Sub(v.Image[i])
			sum += e.X*e.X + e.Y*e.Y
			res.Residuals = append(res.Residuals, Residual{View: v.Name, Error: e})
		}
	}
	res.RMS = math.Sqrt(sum / float64(countObservations(views)))
	return res, nil
}
