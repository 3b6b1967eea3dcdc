package store

import (
	"math"

	"procam-calibration/internal/calib"

	"github.com/golang/geo/r3"
)

// Euler holds rotation angles in degrees about the fixed x, y and z axes,
// composed as R = Rz * Ry * Rx.
type Euler struct {
	X, Y, Z float64
}

func EulerAngles(rot calib.Mat3) Euler {
	sy := math.Hypot(rot.At(0, 0), rot.At(1, 0))
	var x, y, z float64
	if sy >= 1e-6 {
		x = math.Atan2(rot.At(2, 1), rot.At(2, 2))
		y = math.Atan2(-rot.At(2, 0), sy)
		z = math.Atan2(rot.At(1, 0), rot.At(0, 0))
	} else {
		x = math.Atan2(-rot.At(1, 2), rot.At(1, 1))
		y = math.Atan2(-rot.At(2, 0), sy)
	}
	deg := 180 / math.Pi
	return Euler{X: x * deg, Y: y * deg, Z: z * deg}
}

// unrealAxes maps OpenCV (x right, y down, z forward) onto Unreal
// (x forward, y right, z up).
var unrealAxes = calib.Mat3{
	0, 0, 1,
	1, 0, 0,
	0, -1, 0,
}

// ToUnreal re-expresses a transform in Unreal axes and converts millimetres
// to centimetres.
func ToUnreal(rot calib.Mat3, t r3.Vector) (calib.Mat3, r3.Vector) {
	r := unrealAxes.Mul(rot).Mul(unrealAxes.T())
	return r, unrealAxes.MulVec(t).Mul(0.1)
}
