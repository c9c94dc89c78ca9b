package calibration

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"

	"github.com/teslashibe/go-stereomark/pkg/sensor"
)

// UnitPlaneMapper maps an image pixel to the camera's unit focal plane.
// sensor.Sensor satisfies it.
type UnitPlaneMapper interface {
	MapImagePointToCameraUnitPlane(uv sensor.Point) (sensor.Point, error)
}

// markerDepth places the unprojected point one unit along the camera's
// viewing direction.
const markerDepth = -1.0

// CameraPoint builds the homogeneous camera-space point for a unit-plane
// coordinate. The VLC cameras are mounted a quarter turn from the rig, so the
// plane's axes are swapped.
func CameraPoint(xy sensor.Point) mgl64.Vec4 {
	return mgl64.Vec4{xy.Y * markerDepth, xy.X * markerDepth, markerDepth, 1}
}

// Transform returns the combined camera-to-world transform
// Inverse · T(pose) · R(pose).
func (c *Calibration) Transform(pose Pose) mgl64.Mat4 {
	return c.Inverse.Mul4(pose.Matrix())
}

// Project unprojects pixel through m and moves it into world space.
func Project(c *Calibration, m UnitPlaneMapper, pixel sensor.Point, pose Pose) (r3.Vector, error) {
	xy, err := m.MapImagePointToCameraUnitPlane(pixel)
	if err != nil {
		return r3.Vector{}, fmt.Errorf("map image point: %w", err)
	}

	w := c.Transform(pose).Mul4x1(CameraPoint(xy))
	if w[3] != 0 && w[3] != 1 {
		w = w.Mul(1 / w[3])
	}
	return r3.Vector{X: w[0], Y: w[1], Z: w[2]}, nil
}

// Smooth blends a new measurement into the previous position:
// alpha·measured + (1-alpha)·previous.
func Smooth(previous, measured r3.Vector, alpha float64) r3.Vector {
	return measured.Mul(alpha).Add(previous.Mul(1 - alpha))
}
