package calibration

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

// Pose is the head pose supplied by the host once per render tick.
type Pose struct {
	Position    r3.Vector  `json:"position"`
	Orientation mgl64.Quat `json:"orientation"`
}

// IdentityPose is the head at the origin with no rotation.
func IdentityPose() Pose {
	return Pose{Orientation: mgl64.QuatIdent()}
}

// Matrix returns T(Position)·R(Orientation).
func (p Pose) Matrix() mgl64.Mat4 {
	q := p.Orientation
	if q.Len() == 0 {
		q = mgl64.QuatIdent()
	}
	t := mgl64.Translate3D(p.Position.X, p.Position.Y, p.Position.Z)
	return t.Mul4(q.Normalize().Mat4())
}
