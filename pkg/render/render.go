// Package render defines the boundary to the 3D renderer and the models the
// pipeline places in the scene.
package render

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

// Color is an RGB color with components in [0, 1].
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// Standard axis colors.
var (
	Red   = Color{R: 1}
	Green = Color{G: 1}
	Blue  = Color{B: 1}
	White = Color{R: 1, G: 1, B: 1}
)

// Renderer draws primitives. Implementations are supplied by the host.
type Renderer interface {
	// DrawAxis draws a unit segment along the +X axis of transform.
	DrawAxis(transform mgl64.Mat4, color Color)
}

// Model is something placed in the scene. Lifecycle hooks are called from
// the render loop only.
type Model interface {
	Update(dt time.Duration)
	Render(r Renderer)
	// OnDeviceLost releases renderer-side resources; Render is a no-op until
	// OnDeviceRestored.
	OnDeviceLost()
	OnDeviceRestored()
	Position() r3.Vector
}
