package calib

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Mat3 is a 3x3 matrix stored row major.
type Mat3 [9]float64

func Identity3() Mat3 {
	return Mat3{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

func (m Mat3) At(r, c int) float64 {
	return m[r*3+c]
}

func (m Mat3) MulVec(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		Y: m[3]*v.X + m[4]*v.Y + m[5]*v.Z,
		Z: m[6]*v.X + m[7]*v.Y + m[8]*v.Z,
	}
}

func (m Mat3) Mul(o Mat3) Mat3 {
	var out Mat3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = m[r*3]*o[c] + m[r*3+1]*o[3+c] + m[r*3+2]*o[6+c]
		}
	}
	return out
}

func (m Mat3) T() Mat3 {
	return Mat3{m[0], m[3], m[6], m[1], m[4], m[7], m[2], m[5], m[8]}
}

func (m Mat3) Dense() *mat.Dense {
	return mat.NewDense(3, 3, append([]float64(nil), m[:]...))
}

func mat3FromDense(d mat.Matrix) Mat3 {
	var m Mat3
	for i := 0; i < 9; i++ {
		m[i] = d.At(i/3, i%3)
	}
	return m
}

// Rodrigues converts an axis-angle vector to a rotation matrix.
func Rodrigues(r r3.Vector) Mat3 {
	theta := r.Norm()
	if theta < 1e-12 {
		return Identity3()
	}
	k := r.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	v := 1 - c
	return Mat3{
		c + v*k.X*k.X, v*k.X*k.Y - s*k.Z, v*k.X*k.Z + s*k.Y,
		v*k.Y*k.X + s*k.Z, c + v*k.Y*k.Y, v*k.Y*k.Z - s*k.X,
		v*k.Z*k.X - s*k.Y, v*k.Z*k.Y + s*k.X, c + v*k.Z*k.Z,
	}
}

// RodriguesVector converts a rotation matrix to axis-angle form. The matrix
// is projected onto the nearest rotation first.
func RodriguesVector(m Mat3) r3.Vector {
	m = Orthonormalize(m)

	rx := m[7] - m[5]
	ry := m[2] - m[6]
	rz := m[3] - m[1]
	s := math.Sqrt((rx*rx + ry*ry + rz*rz) * 0.25)
	c := (m[0] + m[4] + m[8] - 1) * 0.5
	c = math.Max(-1, math.Min(1, c))
	theta := math.Acos(c)

	if s >= 1e-5 {
		f := theta / (2 * s)
		return r3.Vector{X: rx * f, Y: ry * f, Z: rz * f}
	}
	if c > 0 {
		return r3.Vector{}
	}

	// Rotation by pi: recover the axis from the diagonal.
	rx = math.Sqrt(math.Max((m[0]+1)*0.5, 0))
	ry = math.Sqrt(math.Max((m[4]+1)*0.5, 0))
	rz = math.Sqrt(math.Max((m[8]+1)*0.5, 0))
	if m[1] < 0 {
		ry = -ry
	}
	if m[2] < 0 {
		rz = -rz
	}
	if math.Abs(rx) < math.Abs(ry) && math.Abs(rx) < math.Abs(rz) && (m[5] > 0) != (ry*rz > 0) {
		rz = -rz
	}
	axis := r3.Vector{X: rx, Y: ry, Z: rz}
	return axis.Mul(theta / axis.Norm())
}

// Orthonormalize returns U*V^T from the SVD of m, the closest rotation in
// the Frobenius sense. A reflection is flipped into a rotation.
func Orthonormalize(m Mat3) Mat3 {
	var svd mat.SVD
	if !svd.Factorize(m.Dense(), mat.SVDFull) {
		return m
	}
	var u, v, r mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}
	return mat3FromDense(&r)
}
