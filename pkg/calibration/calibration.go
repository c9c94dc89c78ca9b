// Package calibration turns detected marker pixels into world positions using
// a camera's fixed extrinsics and the per-tick head pose.
package calibration

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// ErrSingularExtrinsics is returned when an extrinsic matrix cannot be inverted.
var ErrSingularExtrinsics = errors.New("extrinsic matrix is singular")

const singularEpsilon = 1e-12

// Calibration is a camera's fixed extrinsic state, computed once at sensor
// initialization. All matrices use column-vector convention.
type Calibration struct {
	// Extrinsics maps rig coordinates into the camera frame.
	Extrinsics mgl64.Mat4
	// Inverse maps camera coordinates into the rig frame.
	Inverse mgl64.Mat4
	// Rotation is Extrinsics with its translation removed.
	Rotation mgl64.Mat4
	// RotationDet is the determinant of Rotation; ±1 for a rigid transform.
	RotationDet float64
}

// New precomputes the inverse and rotation part of ext.
func New(ext mgl64.Mat4) (*Calibration, error) {
	det := ext.Det()
	if math.Abs(det) < singularEpsilon || math.IsNaN(det) {
		return nil, ErrSingularExtrinsics
	}

	rot := ext
	rot.SetCol(3, mgl64.Vec4{0, 0, 0, 1})

	return &Calibration{
		Extrinsics:  ext,
		Inverse:     ext.Inv(),
		Rotation:    rot,
		RotationDet: rot.Det(),
	}, nil
}
