package calib

import (
	"fmt"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat"
)

// StereoOptions selects what the joint refinement may move. The camera
// model is always held fixed.
type StereoOptions struct {
	Model                  Model
	FixProjectorIntrinsics bool
	// SameFocalLength pins the projector focal lengths to the camera's when
	// projector intrinsics are free.
	SameFocalLength bool
	Criteria        Criteria
}

// StereoCalibrate refines the camera-to-projector transform, and optionally
// the projector model, from views seen by both devices. R and T map points
// in the camera frame to the projector frame.
func StereoCalibrate(views []StereoView, camera, projector Camera, opts StereoOptions) (*StereoResult, error) {
	if len(views) == 0 {
		return nil, fmt.Errorf("%w: no stereo views", ErrOptimizationFailure)
	}
	camViews := make([]View, len(views))
	projViews := make([]View, len(views))
	for i, v := range views {
		camViews[i] = View{Name: v.Name, Object: v.Object, Image: v.Camera}
		projViews[i] = View{Name: v.Name, Object: v.Object, Image: v.Projector}
	}
	if err := checkViews(camViews); err != nil {
		return nil, err
	}
	if err := checkViews(projViews); err != nil {
		return nil, err
	}

	coeffs := opts.Model.Coefficients()
	if opts.FixProjectorIntrinsics {
		coeffs = min(len(projector.Dist), 14)
	}
	// Layout: projector model, camera-to-projector R T, then one camera
	// frame pose per view.
	extrinsicAt := intrinsicParams + coeffs
	global := extrinsicAt + poseParams
	nParams := global + poseParams*len(views)
	observations := countObservations(camViews)
	nResiduals := 4 * observations

	params := make([]float64, nParams)
	putCamera(params, 0, projector, coeffs)

	var rs, ts []r3.Vector
	for i := range views {
		camPose, _, err := SolvePnP(camera, camViews[i], opts.Criteria)
		if err != nil {
			return nil, fmt.Errorf("camera view %s: %w", views[i].Name, err)
		}
		projPose, _, err := SolvePnP(projector, projViews[i], opts.Criteria)
		if err != nil {
			return nil, fmt.Errorf("projector view %s: %w", views[i].Name, err)
		}
		putPose(params, global+poseParams*i, camPose)

		rc := Rodrigues(camPose.R)
		rp := Rodrigues(projPose.R)
		rel := rp.Mul(rc.T())
		rs = append(rs, RodriguesVector(rel))
		ts = append(ts, projPose.T.Sub(rel.MulVec(camPose.T)))
	}
	putPose(params, extrinsicAt, Pose{R: medianVector(rs), T: medianVector(ts)})

	var free []int
	if !opts.FixProjectorIntrinsics {
		start := 0
		if opts.SameFocalLength {
			params[0], params[1] = camera.K.Fx, camera.K.Fy
			start = 2
		}
		for i := start; i < extrinsicAt; i++ {
			free = append(free, i)
		}
	}
	for i := extrinsicAt; i < nParams; i++ {
		free = append(free, i)
	}
	if nResiduals < len(free) {
		return nil, fmt.Errorf("%w: %d residuals for %d parameters", ErrOptimizationFailure, nResiduals, len(free))
	}

	sol, err := solve(problem{
		params:    params,
		free:      free,
		residuals: nResiduals,
		eval: func(p, out []float64) {
			proj := getCamera(p, 0, coeffs)
			ext := getPose(p, extrinsicAt)
			extR := Rodrigues(ext.R)
			at := 0
			for i, v := range views {
				camPose := getPose(p, global+poseParams*i)
				rc := Rodrigues(camPose.R)
				at = residualsInto(out, at, camera, rc, camPose.T, v.Object, v.Camera)
				// Board to camera, then camera to projector.
				at = residualsInto(out, at, proj, extR.Mul(rc), extR.MulVec(camPose.T).Add(ext.T), v.Object, v.Projector)
			}
		},
	}, opts.Criteria)
	if err != nil {
		return nil, err
	}
	if err := sol.requireConverged(); err != nil {
		return nil, fmt.Errorf("%s model: %w", opts.Model, err)
	}

	proj := getCamera(sol.params, 0, coeffs)
	if !proj.finite() {
		return nil, fmt.Errorf("%w: invalid projector model after refinement", ErrOptimizationFailure)
	}
	ext := getPose(sol.params, extrinsicAt)
	res := &StereoResult{
		Camera:     camera,
		Projector:  proj,
		R:          Rodrigues(ext.R),
		T:          ext.T,
		RMS:        rms(sol.residuals, 2*observations),
		Model:      opts.Model,
		Iterations: sol.iterations,
	}
	at := 0
	for i, v := range views {
		res.Poses = append(res.Poses, getPose(sol.params, global+poseParams*i))
		for range v.Object {
			res.Residuals = append(res.Residuals, Residual{Device: "camera", View: v.Name,
				Error: r2Point(sol.residuals, at)})
			at += 2
		}
		for range v.Object {
			res.Residuals = append(res.Residuals, Residual{Device: "projector", View: v.Name,
				Error: r2Point(sol.residuals, at)})
			at += 2
		}
	}
	return res, nil
}

func medianVector(vs []r3.Vector) r3.Vector {
	comp := func(get func(r3.Vector) float64) float64 {
		xs := make([]float64, len(vs))
		for i, v := range vs {
			xs[i] = get(v)
		}
		sort.Float64s(xs)
		return stat.Quantile(0.5, stat.Empirical, xs, nil)
	}
	return r3.Vector{
		X: comp(func(v r3.Vector) float64 { return v.X }),
		Y: comp(func(v r3.Vector) float64 { return v.Y }),
		Z: comp(func(v r3.Vector) float64 { return v.Z }),
	}
}
