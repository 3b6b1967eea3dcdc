package calib

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// ErrOptimizationFailure marks a least-squares problem that cannot be set up
// or diverged: too few residuals, a degenerate start or non-finite values.
var ErrOptimizationFailure = errors.New("optimization failure")

// Model selects the distortion coefficients a calibration may move.
type Model int

const (
	// ModelExtended is the rational, thin prism and tilted sensor model.
	ModelExtended Model = iota
	// ModelBasic is k1 k2 p1 p2 k3.
	ModelBasic
)

func (m Model) String() string {
	switch m {
	case ModelExtended:
		return "extended"
	case ModelBasic:
		return "basic"
	default:
		return fmt.Sprintf("model(%d)", int(m))
	}
}

func (m Model) Coefficients() int {
	if m == ModelExtended {
		return 14
	}
	return 5
}

// Intrinsics is a pinhole camera matrix without skew.
type Intrinsics struct {
	Fx, Fy float64
	Cx, Cy float64
}

// Matrix returns K row major.
func (k Intrinsics) Matrix() Mat3 {
	return Mat3{k.Fx, 0, k.Cx, 0, k.Fy, k.Cy, 0, 0, 1}
}

// IntrinsicsFromMatrix reads fx, fy, cx, cy from a row-major K.
func IntrinsicsFromMatrix(k Mat3) Intrinsics {
	return Intrinsics{Fx: k[0], Fy: k[4], Cx: k[2], Cy: k[5]}
}

// Camera is a device model: intrinsics plus distortion coefficients in
// OpenCV order k1 k2 p1 p2 k3 k4 k5 k6 s1 s2 s3 s4 tx ty. Any prefix of
// length 4, 5, 8, 12 or 14 is accepted.
type Camera struct {
	K    Intrinsics
	Dist []float64
}

func (c Camera) coeffs() [14]float64 {
	var d [14]float64
	copy(d[:], c.Dist)
	return d
}

func (c Camera) finite() bool {
	vals := append([]float64{c.K.Fx, c.K.Fy, c.K.Cx, c.K.Cy}, c.Dist...)
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Pose maps board coordinates into a device frame: X' = R X + T, with R
// stored as a Rodrigues vector.
type Pose struct {
	R r3.Vector
	T r3.Vector
}

func (p Pose) Apply(x r3.Vector) r3.Vector {
	return Rodrigues(p.R).MulVec(x).Add(p.T)
}

// View is one board placement seen by one device.
type View struct {
	Name   string
	Object []r3.Vector
	Image  []r2.Point
}

// StereoView pairs camera and projector observations of the same object
// points.
type StereoView struct {
	Name      string
	Object    []r3.Vector
	Camera    []r2.Point
	Projector []r2.Point
}

// Residual is one observation's reprojection error in pixels.
type Residual struct {
	Device string
	View   string
	Error  r2.Point
}

// Criteria bounds the Levenberg-Marquardt loop: at most MaxIterations steps,
// stopping early when the relative parameter change drops below Epsilon.
// Calibration fits that use up the budget fail with ErrOptimizationFailure;
// pose-only solves keep their last estimate.
type Criteria struct {
	MaxIterations int
	Epsilon       float64
}

// CalibrationResult is what a single-device calibration returns.
type CalibrationResult struct {
	Camera     Camera
	Poses      []Pose
	RMS        float64
	Model      Model
	Iterations int
	Residuals  []Residual
}

// StereoResult holds the camera-to-device transform and the refined models.
type StereoResult struct {
	Camera     Camera
	Projector  Camera
	R          Mat3
	T          r3.Vector
	Poses      []Pose
	RMS        float64
	Model      Model
	Iterations int
	Residuals  []Residual
}

// Result is the outcome of a full run.
type Result struct {
	CameraSize    image.Point
	ProjectorSize image.Point
	RMS           float64
	Camera        Camera
	Projector     Camera
	R             Mat3
	T             r3.Vector
	Sessions      int
	Stages        []StageSummary
	Residuals     []Residual
}

// StageSummary records how one stage finished.
type StageSummary struct {
	Stage      string
	Model      Model
	RMS        float64
	Iterations int
	Fallback   bool
	Fixed      bool
}
