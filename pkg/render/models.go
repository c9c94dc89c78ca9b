package render

import (
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

// base carries position and device state shared by all models.
type base struct {
	mu       sync.RWMutex
	position r3.Vector
	lost     bool
}

func (b *base) Update(time.Duration) {}

func (b *base) OnDeviceLost() {
	b.mu.Lock()
	b.lost = true
	b.mu.Unlock()
}

func (b *base) OnDeviceRestored() {
	b.mu.Lock()
	b.lost = false
	b.mu.Unlock()
}

// Position returns the model's world position.
func (b *base) Position() r3.Vector {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.position
}

// SetPosition moves the model.
func (b *base) SetPosition(p r3.Vector) {
	b.mu.Lock()
	b.position = p
	b.mu.Unlock()
}

func (b *base) snapshot() (r3.Vector, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.position, !b.lost
}

// VectorModel draws a single scaled segment from its position toward Direction.
type VectorModel struct {
	base
	Direction r3.Vector
	Length    float64
	Color     Color
}

// NewVector creates a vector model at origin.
func NewVector(origin, direction r3.Vector, length float64, c Color) *VectorModel {
	m := &VectorModel{Direction: direction, Length: length, Color: c}
	m.position = origin
	return m
}

// Render implements Model.
func (m *VectorModel) Render(r Renderer) {
	pos, ok := m.snapshot()
	if !ok {
		return
	}
	r.DrawAxis(segmentTransform(pos, m.Direction, m.Length), m.Color)
}

// AxisModel draws red, green and blue segments along X, Y and Z.
type AxisModel struct {
	base
	Length float64
}

// NewAxis creates an axis triad at position.
func NewAxis(position r3.Vector, length float64) *AxisModel {
	m := &AxisModel{Length: length}
	m.position = position
	return m
}

// Render implements Model.
func (m *AxisModel) Render(r Renderer) {
	pos, ok := m.snapshot()
	if !ok {
		return
	}
	r.DrawAxis(segmentTransform(pos, r3.Vector{X: 1}, m.Length), Red)
	r.DrawAxis(segmentTransform(pos, r3.Vector{Y: 1}, m.Length), Green)
	r.DrawAxis(segmentTransform(pos, r3.Vector{Z: 1}, m.Length), Blue)
}

// MarkerModel is the indicator placed at the tracked marker's position.
type MarkerModel struct {
	AxisModel
	stale bool
}

// NewMarker creates a marker indicator at the origin.
func NewMarker(length float64) *MarkerModel {
	return &MarkerModel{AxisModel: AxisModel{Length: length}}
}

// SetStale flags the position as not refreshed recently. The indicator is
// drawn in white while stale.
func (m *MarkerModel) SetStale(stale bool) {
	m.mu.Lock()
	m.stale = stale
	m.mu.Unlock()
}

// Stale reports the flag set by SetStale.
func (m *MarkerModel) Stale() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stale
}

// Render implements Model.
func (m *MarkerModel) Render(r Renderer) {
	if !m.Stale() {
		m.AxisModel.Render(r)
		return
	}
	pos, ok := m.snapshot()
	if !ok {
		return
	}
	for _, dir := range []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}} {
		r.DrawAxis(segmentTransform(pos, dir, m.Length), White)
	}
}

// segmentTransform maps the unit +X segment onto a segment of the given
// length starting at origin and pointing along dir.
func segmentTransform(origin, dir r3.Vector, length float64) mgl64.Mat4 {
	t := mgl64.Translate3D(origin.X, origin.Y, origin.Z)
	if dir.Norm() == 0 || length == 0 {
		return t.Mul4(mgl64.Scale3D(0, 0, 0))
	}

	d := dir.Normalize()
	x := mgl64.Vec3{1, 0, 0}
	v := mgl64.Vec3{d.X, d.Y, d.Z}

	var rot mgl64.Mat4
	switch cos := x.Dot(v); {
	case cos > 1-1e-12:
		rot = mgl64.Ident4()
	case cos < -1+1e-12:
		rot = mgl64.HomogRotate3DZ(math.Pi)
	default:
		rot = mgl64.HomogRotate3D(math.Acos(cos), x.Cross(v).Normalize())
	}
	return t.Mul4(rot).Mul4(mgl64.Scale3D(length, length, length))
}
