package calib

import (
	"errors"
	"fmt"
	"image"
	"math"
	"math/rand/v2"
	"testing"

	"procam-calibration/internal/config"
	"procam-calibration/internal/logger"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

var (
	trueCamera    = Camera{K: Intrinsics{Fx: 1000, Fy: 1000, Cx: 640, Cy: 480}}
	cameraSize    = image.Pt(1280, 960)
	trueProjector = Camera{K: Intrinsics{Fx: 1500, Fy: 1500, Cx: 512, Cy: 384}}
	projectorSize = image.Pt(1024, 768)

	// camera frame to projector frame
	trueR = Rodrigues(r3.Vector{Y: 0.2})
	trueT = r3.Vector{X: -150, Z: 20}

	truePoses = []Pose{
		{R: r3.Vector{X: 0.3, Y: -0.2, Z: 0.05}, T: r3.Vector{X: -120, Y: -80, Z: 800}},
		{R: r3.Vector{X: -0.25, Y: 0.3, Z: -0.1}, T: r3.Vector{X: -100, Y: -60, Z: 750}},
		{R: r3.Vector{X: 0.15, Y: 0.35, Z: 0.2}, T: r3.Vector{X: -130, Y: -70, Z: 900}},
	}
)

func board(cols, rows int, block float64) []r3.Vector {
	var pts []r3.Vector
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			pts = append(pts, r3.Vector{X: float64(c) * block, Y: float64(r) * block})
		}
	}
	return pts
}

// projectorPose composes a camera-frame board pose with the camera to
// projector transform.
func projectorPose(p Pose) Pose {
	rc := Rodrigues(p.R)
	return Pose{R: RodriguesVector(trueR.Mul(rc)), T: trueR.MulVec(p.T).Add(trueT)}
}

func cameraViews(object []r3.Vector, poses []Pose) []View {
	views := make([]View, len(poses))
	for i, p := range poses {
		views[i] = View{Name: fmt.Sprintf("capture_%d", i+1), Object: object, Image: trueCamera.Project(p, object)}
	}
	return views
}

func sessions(object []r3.Vector) []Session {
	var out []Session
	for i, p := range truePoses {
		cam := trueCamera.Project(p, object)
		out = append(out, Session{
			Name:          fmt.Sprintf("capture_%d", i+1),
			Object:        object,
			Corners:       cam,
			MatchedObject: object,
			MatchedCamera: cam,
			Projector:     trueProjector.Project(projectorPose(p), object),
		})
	}
	return out
}

// noisySessions perturbs every image point with Gaussian noise of the given
// standard deviation in pixels.
func noisySessions(object []r3.Vector, sigma float64) []Session {
	rng := rand.New(rand.NewPCG(7, 11))
	jitter := func(pts []r2.Point) []r2.Point {
		out := make([]r2.Point, len(pts))
		for i, p := range pts {
			out[i] = r2.Point{X: p.X + sigma*rng.NormFloat64(), Y: p.Y + sigma*rng.NormFloat64()}
		}
		return out
	}
	out := sessions(object)
	for i := range out {
		out[i].Corners = jitter(out[i].Corners)
		out[i].MatchedCamera = out[i].Corners
		out[i].Projector = jitter(out[i].Projector)
	}
	return out
}

func criteria() Criteria {
	return Criteria{MaxIterations: 100, Epsilon: 1e-6}
}

func relErr(want, got float64) float64 {
	return math.Abs(got-want) / math.Abs(want)
}

// ---------------------------------------------------------------------------
// geometry helpers
// ---------------------------------------------------------------------------

func TestRodrigues_RoundTrip(t *testing.T) {
	t.Parallel()
	for _, v := range []r3.Vector{
		{},
		{X: 0.3, Y: -0.2, Z: 0.05},
		{Z: math.Pi / 2},
		{X: math.Pi},
		{Y: -math.Pi, Z: 0.0},
		{X: 1, Y: 1, Z: 1},
	} {
		m := Rodrigues(v)
		back := RodriguesVector(m)
		again := Rodrigues(back)
		for i := range m {
			assert.InDelta(t, m[i], again[i], 1e-9, "vector %v element %d", v, i)
		}
		assert.InDelta(t, 1, mat3Det(m), 1e-12)
	}
}

func mat3Det(m Mat3) float64 {
	return m[0]*(m[4]*m[8]-m[5]*m[7]) - m[1]*(m[3]*m[8]-m[5]*m[6]) + m[2]*(m[3]*m[7]-m[4]*m[6])
}

func TestUndistort_InvertsProjection(t *testing.T) {
	t.Parallel()
	cam := Camera{
		K:    trueCamera.K,
		Dist: []float64{-0.12, 0.05, 0.001, -0.0008, -0.01, 0.002, 0, 0, 0.0005, 0, -0.0003, 0, 0.01, -0.005},
	}
	var pixels []r2.Point
	var ideal []r2.Point
	for _, x := range []float64{-0.3, -0.1, 0, 0.2, 0.35} {
		for _, y := range []float64{-0.25, 0, 0.15} {
			ideal = append(ideal, r2.Point{X: x, Y: y})
			pixels = append(pixels, cam.ProjectPoint(r3.Vector{X: x, Y: y, Z: 1}))
		}
	}
	got := cam.Undistort(pixels)
	for i := range ideal {
		assert.InDelta(t, ideal[i].X, got[i].X, 1e-6)
		assert.InDelta(t, ideal[i].Y, got[i].Y, 1e-6)
	}
}

func TestProjectPoint_ZeroDistortion(t *testing.T) {
	t.Parallel()
	p := trueCamera.ProjectPoint(r3.Vector{X: 100, Y: -50, Z: 1000})
	assert.InDelta(t, 740, p.X, 1e-12)
	assert.InDelta(t, 430, p.Y, 1e-12)
}

// ---------------------------------------------------------------------------
// single device
// ---------------------------------------------------------------------------

func TestCalibrateCamera_RecoversIntrinsics(t *testing.T) {
	t.Parallel()
	views := cameraViews(board(9, 6, 30), truePoses)

	for _, model := range []Model{ModelExtended, ModelBasic} {
		res, err := CalibrateCamera(views, cameraSize, model, criteria())
		require.NoError(t, err, model.String())

		k := res.Camera.K
		assert.Less(t, relErr(1000, k.Fx), 0.01, "%s fx %.3f", model, k.Fx)
		assert.Less(t, relErr(1000, k.Fy), 0.01, "%s fy %.3f", model, k.Fy)
		assert.Less(t, relErr(640, k.Cx), 0.01, "%s cx %.3f", model, k.Cx)
		assert.Less(t, relErr(480, k.Cy), 0.01, "%s cy %.3f", model, k.Cy)
		assert.Less(t, res.RMS, 0.5)
		assert.Len(t, res.Camera.Dist, model.Coefficients())
		assert.Len(t, res.Poses, 3)
		assert.Len(t, res.Residuals, 3*54)

		for i, p := range res.Poses {
			assert.InDelta(t, truePoses[i].T.Z, p.T.Z, 8, "view %d depth", i)
		}
	}
}

func TestCalibrateCamera_Failures(t *testing.T) {
	t.Parallel()
	grid := board(9, 6, 30)

	_, err := CalibrateCamera(nil, cameraSize, ModelBasic, criteria())
	assert.ErrorIs(t, err, ErrOptimizationFailure)

	lifted := append([]r3.Vector(nil), grid...)
	lifted[3].Z = 5
	views := cameraViews(grid, truePoses)
	views[1].Object = lifted
	_, err = CalibrateCamera(views, cameraSize, ModelBasic, criteria())
	assert.ErrorIs(t, err, ErrOptimizationFailure, "non-planar board")

	views = cameraViews(grid, truePoses)
	views[0].Image = views[0].Image[:10]
	_, err = CalibrateCamera(views, cameraSize, ModelBasic, criteria())
	assert.ErrorIs(t, err, ErrOptimizationFailure, "mismatched point counts")
}

// Two views of six points give 24 residuals: too few for the 30 parameters
// of the extended model, enough for the 21 of the basic one.
func TestCalibrateCamera_FallsBackToBasic(t *testing.T) {
	t.Parallel()
	views := cameraViews(board(3, 2, 60), truePoses[:2])

	_, err := CalibrateCamera(views, cameraSize, ModelExtended, criteria())
	require.ErrorIs(t, err, ErrOptimizationFailure)

	var warned error
	res, fellBack, err := WithFallback(
		func() (*CalibrationResult, error) { return CalibrateCamera(views, cameraSize, ModelExtended, criteria()) },
		func() (*CalibrationResult, error) { return CalibrateCamera(views, cameraSize, ModelBasic, criteria()) },
		func(err error) { warned = err },
	)
	require.NoError(t, err)
	assert.True(t, fellBack)
	assert.ErrorIs(t, warned, ErrOptimizationFailure)
	assert.Equal(t, ModelBasic, res.Model)
}

func TestCalibrateCamera_IterationBudget(t *testing.T) {
	t.Parallel()
	views := cameraViews(board(9, 6, 30), truePoses)

	_, err := CalibrateCamera(views, cameraSize, ModelBasic, Criteria{MaxIterations: 1, Epsilon: 1e-6})
	require.ErrorIs(t, err, ErrOptimizationFailure)
	assert.Contains(t, err.Error(), "no convergence")
}

// Rosenbrock in least-squares form: minimum at (1, 1).
func rosenbrock() problem {
	return problem{
		params:    []float64{-1.2, 1},
		free:      []int{0, 1},
		residuals: 2,
		eval: func(p, out []float64) {
			out[0] = 10 * (p[1] - p[0]*p[0])
			out[1] = 1 - p[0]
		},
	}
}

func TestSolve_Convergence(t *testing.T) {
	t.Parallel()

	sol, err := solve(rosenbrock(), Criteria{MaxIterations: 1, Epsilon: 1e-9})
	require.NoError(t, err)
	assert.False(t, sol.converged)
	assert.Equal(t, 1, sol.iterations)
	assert.ErrorIs(t, sol.requireConverged(), ErrOptimizationFailure)

	sol, err = solve(rosenbrock(), Criteria{MaxIterations: 500, Epsilon: 1e-9})
	require.NoError(t, err)
	assert.True(t, sol.converged)
	assert.NoError(t, sol.requireConverged())
	assert.Less(t, sol.iterations, 500)
	assert.InDelta(t, 1, sol.params[0], 1e-4)
	assert.InDelta(t, 1, sol.params[1], 1e-4)
}

func TestSolvePnP(t *testing.T) {
	t.Parallel()
	grid := board(9, 6, 30)
	cam := Camera{K: trueCamera.K, Dist: []float64{-0.1, 0.02, 0, 0, 0}}
	pose := truePoses[2]
	view := View{Name: "pnp", Object: grid, Image: cam.Project(pose, grid)}

	got, rmsErr, err := SolvePnP(cam, view, criteria())
	require.NoError(t, err)
	assert.Less(t, rmsErr, 1e-6)
	assert.InDelta(t, pose.R.X, got.R.X, 1e-6)
	assert.InDelta(t, pose.R.Y, got.R.Y, 1e-6)
	assert.InDelta(t, pose.R.Z, got.R.Z, 1e-6)
	assert.InDelta(t, pose.T.X, got.T.X, 1e-4)
	assert.InDelta(t, pose.T.Y, got.T.Y, 1e-4)
	assert.InDelta(t, pose.T.Z, got.T.Z, 1e-4)
}

// ---------------------------------------------------------------------------
// stereo
// ---------------------------------------------------------------------------

func stereoViews(object []r3.Vector) []StereoView {
	var out []StereoView
	for _, s := range sessions(object) {
		out = append(out, StereoView{Name: s.Name, Object: s.MatchedObject, Camera: s.MatchedCamera, Projector: s.Projector})
	}
	return out
}

func TestStereoCalibrate_RecoversExtrinsics(t *testing.T) {
	t.Parallel()
	views := stereoViews(board(9, 6, 30))

	for _, fixed := range []bool{true, false} {
		res, err := StereoCalibrate(views, trueCamera, trueProjector, StereoOptions{
			Model:                  ModelBasic,
			FixProjectorIntrinsics: fixed,
			Criteria:               criteria(),
		})
		require.NoError(t, err)
		assert.Less(t, res.RMS, 1e-3)
		for i := range trueR {
			assert.InDelta(t, trueR[i], res.R[i], 1e-6, "fixed=%v R[%d]", fixed, i)
		}
		assert.InDelta(t, trueT.X, res.T.X, 1e-3)
		assert.InDelta(t, trueT.Y, res.T.Y, 1e-3)
		assert.InDelta(t, trueT.Z, res.T.Z, 1e-3)
		assert.Len(t, res.Residuals, 2*3*54)
		assert.Equal(t, trueCamera, res.Camera)
	}
}

func TestStereoCalibrate_SameFocalLength(t *testing.T) {
	t.Parallel()
	views := stereoViews(board(9, 6, 30))

	res, err := StereoCalibrate(views, trueCamera, trueProjector, StereoOptions{
		Model:           ModelBasic,
		SameFocalLength: true,
		Criteria:        criteria(),
	})
	require.NoError(t, err)
	assert.Equal(t, trueCamera.K.Fx, res.Projector.K.Fx)
	assert.Equal(t, trueCamera.K.Fy, res.Projector.K.Fy)
}

// ---------------------------------------------------------------------------
// fallback combinator
// ---------------------------------------------------------------------------

func TestWithFallback(t *testing.T) {
	t.Parallel()
	errA := errors.New("extended diverged")
	errB := errors.New("basic diverged")
	ok := func(v int) func() (int, error) { return func() (int, error) { return v, nil } }
	fail := func(err error) func() (int, error) { return func() (int, error) { return 0, err } }

	v, fellBack, err := WithFallback(ok(1), ok(2), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.False(t, fellBack)

	calls := 0
	v, fellBack, err = WithFallback(fail(errA), ok(2), func(error) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.True(t, fellBack)
	assert.Equal(t, 1, calls)

	_, _, err = WithFallback(fail(errA), fail(errB), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOptimizationFailure)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

// ---------------------------------------------------------------------------
// engine
// ---------------------------------------------------------------------------

func newEngine() *Engine {
	cfg := config.Default()
	return NewEngine(cfg.Solver, cfg.Stereo, logger.NewNop())
}

func TestEngine_Calibrate(t *testing.T) {
	t.Parallel()
	res, err := newEngine().Calibrate(Input{
		CameraSize:    cameraSize,
		ProjectorSize: projectorSize,
		Sessions:      sessions(board(9, 6, 30)),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Sessions)
	assert.Less(t, relErr(1000, res.Camera.K.Fx), 0.01)
	assert.Less(t, relErr(1000, res.Camera.K.Fy), 0.01)
	assert.Less(t, relErr(1500, res.Projector.K.Fx), 0.01)
	assert.Less(t, res.RMS, 0.5)
	assert.InDelta(t, trueT.X, res.T.X, 2)
	assert.InDelta(t, trueT.Z, res.T.Z, 5)

	require.Len(t, res.Stages, 3)
	assert.Equal(t, []string{"camera", "projector", "stereo"},
		[]string{res.Stages[0].Stage, res.Stages[1].Stage, res.Stages[2].Stage})
	assert.Equal(t, ModelExtended, res.Stages[0].Model)
	assert.False(t, res.Stages[0].Fallback)
	assert.NotEmpty(t, res.Residuals)
}

// With pixel noise the extended model's thin-prism and tilt terms are
// barely observable and the fit does not settle within the iteration
// budget; the basic model does.
func TestEngine_FallsBackWhenExtendedDoesNotConverge(t *testing.T) {
	t.Parallel()
	res, err := newEngine().Calibrate(Input{
		CameraSize:    cameraSize,
		ProjectorSize: projectorSize,
		Sessions:      noisySessions(board(9, 6, 30), 0.3),
	})
	require.NoError(t, err)

	require.Len(t, res.Stages, 3)
	camera := res.Stages[0]
	assert.Equal(t, "camera", camera.Stage)
	assert.True(t, camera.Fallback)
	assert.Equal(t, ModelBasic, camera.Model)
	assert.Less(t, camera.Iterations, 100)
	assert.Len(t, res.Camera.Dist, ModelBasic.Coefficients())
	assert.Less(t, relErr(1000, res.Camera.K.Fx), 0.03)
	assert.Less(t, relErr(1000, res.Camera.K.Fy), 0.03)
}

func TestEngine_CameraPrior(t *testing.T) {
	t.Parallel()
	prior := trueCamera
	res, err := newEngine().Calibrate(Input{
		CameraSize:    cameraSize,
		ProjectorSize: projectorSize,
		Sessions:      sessions(board(9, 6, 30)),
		CameraPrior:   &prior,
	})
	require.NoError(t, err)
	assert.True(t, res.Stages[0].Fixed)
	assert.Equal(t, trueCamera.K, res.Camera.K)
	assert.Less(t, res.Stages[0].RMS, 1e-6)
}

func TestEngine_NoSessions(t *testing.T) {
	t.Parallel()
	_, err := newEngine().Calibrate(Input{CameraSize: cameraSize, ProjectorSize: projectorSize})
	assert.ErrorIs(t, err, ErrOptimizationFailure)
}
