// Package sensor defines the boundary to the headset's research-mode camera
// driver: device access, per-camera streams, frames and calibration queries.
package sensor

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/teslashibe/go-stereomark/pkg/consent"
)

// ErrSensorNotFound is returned when the device has no camera of the requested kind.
var ErrSensorNotFound = errors.New("sensor not found")

// ErrStreamClosed is returned by NextFrame once the stream has been closed.
var ErrStreamClosed = errors.New("stream closed")

// Kind identifies a physical camera on the headset.
type Kind int

const (
	LeftFront Kind = iota
	RightFront
)

func (k Kind) String() string {
	switch k {
	case LeftFront:
		return "left_front"
	case RightFront:
		return "right_front"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseKind maps a name back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "left_front", "left":
		return LeftFront, nil
	case "right_front", "right":
		return RightFront, nil
	}
	return 0, fmt.Errorf("unknown camera %q", s)
}

// Kinds lists the stereo pair in primary-first order.
func Kinds() []Kind {
	return []Kind{LeftFront, RightFront}
}

// Resolution is an image size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Pixels returns Width*Height.
func (r Resolution) Pixels() int {
	return r.Width * r.Height
}

// Point is a 2D image or unit-plane coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sensor is one camera stream. A Sensor is owned by exactly one reader.
type Sensor interface {
	Kind() Kind
	OpenStream() error
	CloseStream() error
	// NextFrame blocks until the driver delivers a frame. The caller owns one
	// reference to the returned frame and must Release it.
	NextFrame() (*Frame, error)
	Resolution() Resolution
	// Extrinsics returns the fixed matrix taking rig coordinates into the
	// camera frame, in column-vector convention.
	Extrinsics() (mgl64.Mat4, error)
	// MapImagePointToCameraUnitPlane maps a pixel to the camera's z=1 plane.
	MapImagePointToCameraUnitPlane(uv Point) (Point, error)
	// Close releases the handle. The stream must already be closed.
	Close() error
}

// Device is the headset's sensor provider.
type Device interface {
	// RequestAccess asks for camera consent. cb is invoked exactly once,
	// asynchronously, with the answer.
	RequestAccess(cb func(consent.Result)) error
	// Sensor returns a new handle for the given camera.
	Sensor(kind Kind) (Sensor, error)
	Close() error
}
