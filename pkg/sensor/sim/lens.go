package sim

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/teslashibe/go-stereomark/pkg/sensor"
)

// Lens is a pinhole camera with Brown-Conrady distortion.
type Lens struct {
	Fx, Fy   float64 `validate:"gt=0"` // Focal lengths in pixels
	Ppx, Ppy float64 // Principal point

	// Distortion coefficients: k1, k2, k3 radial; p1, p2 tangential.
	K1, K2, K3 float64
	P1, P2     float64
}

// CameraMatrix returns the 3x3 intrinsic matrix
//
//	[[fx 0  ppx],
//	 [0  fy ppy],
//	 [0  0  1]]
func (l Lens) CameraMatrix() *mat.Dense {
	k := mat.NewDense(3, 3, nil)
	k.Set(0, 0, l.Fx)
	k.Set(1, 1, l.Fy)
	k.Set(0, 2, l.Ppx)
	k.Set(1, 2, l.Ppy)
	k.Set(2, 2, 1)
	return k
}

// unprojector precomputes K⁻¹ for repeated pixel mapping.
type unprojector struct {
	lens Lens
	kInv *mat.Dense
}

func newUnprojector(l Lens) (*unprojector, error) {
	if l.Fx == 0 || l.Fy == 0 {
		return nil, errors.New("lens focal length must be non-zero")
	}
	var kInv mat.Dense
	if err := kInv.Inverse(l.CameraMatrix()); err != nil {
		return nil, err
	}
	return &unprojector{lens: l, kInv: &kInv}, nil
}

// Map takes a distorted pixel to the undistorted z=1 plane.
func (u *unprojector) Map(uv sensor.Point) sensor.Point {
	var n mat.VecDense
	n.MulVec(u.kInv, mat.NewVecDense(3, []float64{uv.X, uv.Y, 1}))
	x, y := u.lens.undistort(n.AtVec(0), n.AtVec(1))
	return sensor.Point{X: x, Y: y}
}

func (l Lens) distort(xu, yu float64) (float64, float64) {
	r2 := xu*xu + yu*yu
	r4 := r2 * r2
	r6 := r4 * r2
	radial := 1 + l.K1*r2 + l.K2*r4 + l.K3*r6
	xd := xu*radial + 2*l.P1*xu*yu + l.P2*(r2+2*xu*xu)
	yd := yu*radial + 2*l.P2*xu*yu + l.P1*(r2+2*yu*yu)
	return xd, yd
}

// undistort inverts distort with Newton-Raphson.
func (l Lens) undistort(xd, yd float64) (float64, float64) {
	const (
		maxIterations = 20
		tolerance     = 1e-10
	)

	xu, yu := xd, yd
	for i := 0; i < maxIterations; i++ {
		r2 := xu*xu + yu*yu
		r4 := r2 * r2
		radial := 1 + l.K1*r2 + l.K2*r4 + l.K3*r4*r2

		ex, ey := l.distort(xu, yu)
		ex -= xd
		ey -= yd
		if math.Hypot(ex, ey) < tolerance {
			break
		}

		dRadial := l.K1 + 2*l.K2*r2 + 3*l.K3*r4
		dxdx := radial + 2*xu*xu*dRadial + 2*l.P1*yu + 6*l.P2*xu
		dxdy := 2*xu*yu*dRadial + 2*l.P1*xu + 2*l.P2*yu
		dydx := 2*xu*yu*dRadial + 2*l.P2*yu + 2*l.P1*xu
		dydy := radial + 2*yu*yu*dRadial + 2*l.P2*xu + 6*l.P1*yu

		det := dxdx*dydy - dxdy*dydx
		if det == 0 {
			break
		}
		xu -= (dydy*ex - dxdy*ey) / det
		yu -= (-dydx*ex + dxdx*ey) / det
	}
	return xu, yu
}
