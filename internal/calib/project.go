package calib

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// tiltMatrix is the projection of the tilted sensor plane for angles tx, ty.
func tiltMatrix(tx, ty float64) Mat3 {
	ctx, stx := math.Cos(tx), math.Sin(tx)
	cty, sty := math.Cos(ty), math.Sin(ty)
	rotX := Mat3{1, 0, 0, 0, ctx, stx, 0, -stx, ctx}
	rotY := Mat3{cty, 0, -sty, 0, 1, 0, sty, 0, cty}
	rotXY := rotY.Mul(rotX)
	projZ := Mat3{rotXY[8], 0, -rotXY[2], 0, rotXY[8], -rotXY[5], 0, 0, 1}
	return projZ.Mul(rotXY)
}

// distort applies the lens model to normalized coordinates.
func distort(x, y float64, d *[14]float64) (float64, float64) {
	k1, k2, p1, p2, k3 := d[0], d[1], d[2], d[3], d[4]
	k4, k5, k6 := d[5], d[6], d[7]
	s1, s2, s3, s4 := d[8], d[9], d[10], d[11]

	rr := x*x + y*y
	r4 := rr * rr
	r6 := r4 * rr
	radial := (1 + k1*rr + k2*r4 + k3*r6) / (1 + k4*rr + k5*r4 + k6*r6)
	a1 := 2 * x * y
	a2 := rr + 2*x*x
	a3 := rr + 2*y*y

	xd := x*radial + p1*a1 + p2*a2 + s1*rr + s2*r4
	yd := y*radial + p1*a3 + p2*a1 + s3*rr + s4*r4

	if d[12] != 0 || d[13] != 0 {
		t := tiltMatrix(d[12], d[13])
		v := t.MulVec(r3.Vector{X: xd, Y: yd, Z: 1})
		inv := 1.0
		if v.Z != 0 {
			inv = 1 / v.Z
		}
		xd, yd = v.X*inv, v.Y*inv
	}
	return xd, yd
}

// ProjectPoint maps a point in the device frame to pixels.
func (c Camera) ProjectPoint(p r3.Vector) r2.Point {
	d := c.coeffs()
	return c.project(p, &d)
}

func (c Camera) project(p r3.Vector, d *[14]float64) r2.Point {
	z := p.Z
	if z == 0 {
		z = 1
	}
	xd, yd := distort(p.X/z, p.Y/z, d)
	return r2.Point{X: c.K.Fx*xd + c.K.Cx, Y: c.K.Fy*yd + c.K.Cy}
}

// Project maps board points through pose into pixels.
func (c Camera) Project(pose Pose, object []r3.Vector) []r2.Point {
	d := c.coeffs()
	rot := Rodrigues(pose.R)
	out := make([]r2.Point, len(object))
	for i, x := range object {
		out[i] = c.project(rot.MulVec(x).Add(pose.T), &d)
	}
	return out
}

// Undistort maps pixels to ideal normalized coordinates by fixed-point
// iteration on the lens model.
func (c Camera) Undistort(pts []r2.Point) []r2.Point {
	d := c.coeffs()
	k1, k2, p1, p2, k3 := d[0], d[1], d[2], d[3], d[4]
	k4, k5, k6 := d[5], d[6], d[7]
	s1, s2, s3, s4 := d[8], d[9], d[10], d[11]

	var invTilt Mat3
	tilted := d[12] != 0 || d[13] != 0
	if tilted {
		invTilt = invert3(tiltMatrix(d[12], d[13]))
	}

	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		x := (p.X - c.K.Cx) / c.K.Fx
		y := (p.Y - c.K.Cy) / c.K.Fy
		if tilted {
			v := invTilt.MulVec(r3.Vector{X: x, Y: y, Z: 1})
			x, y = v.X/v.Z, v.Y/v.Z
		}
		x0, y0 := x, y
		for it := 0; it < 20; it++ {
			rr := x*x + y*y
			icdist := (1 + ((k6*rr+k5)*rr+k4)*rr) / (1 + ((k3*rr+k2)*rr+k1)*rr)
			if icdist < 0 {
				x, y = x0, y0
				break
			}
			dx := 2*p1*x*y + p2*(rr+2*x*x) + s1*rr + s2*rr*rr
			dy := p1*(rr+2*y*y) + 2*p2*x*y + s3*rr + s4*rr*rr
			x = (x0 - dx) * icdist
			y = (y0 - dy) * icdist
		}
		out[i] = r2.Point{X: x, Y: y}
	}
	return out
}

func invert3(m Mat3) Mat3 {
	det := m[0]*(m[4]*m[8]-m[5]*m[7]) - m[1]*(m[3]*m[8]-m[5]*m[6]) + m[2]*(m[3]*m[7]-m[4]*m[6])
	if det == 0 {
		return Identity3()
	}
	inv := 1 / det
	return Mat3{
		(m[4]*m[8] - m[5]*m[7]) * inv, (m[2]*m[7] - m[1]*m[8]) * inv, (m[1]*m[5] - m[2]*m[4]) * inv,
		(m[5]*m[6] - m[3]*m[8]) * inv, (m[0]*m[8] - m[2]*m[6]) * inv, (m[2]*m[3] - m[0]*m[5]) * inv,
		(m[3]*m[7] - m[4]*m[6]) * inv, (m[1]*m[6] - m[0]*m[7]) * inv, (m[0]*m[4] - m[1]*m[3]) * inv,
	}
}
