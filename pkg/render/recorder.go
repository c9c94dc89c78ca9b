package render

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// DrawCall is one recorded primitive.
type DrawCall struct {
	Transform mgl64.Mat4 `json:"transform"`
	Color     Color      `json:"color"`
}

// Start returns the segment origin in world space.
func (d DrawCall) Start() mgl64.Vec3 {
	return d.Transform.Mul4x1(mgl64.Vec4{0, 0, 0, 1}).Vec3()
}

// End returns the segment tip in world space.
func (d DrawCall) End() mgl64.Vec3 {
	return d.Transform.Mul4x1(mgl64.Vec4{1, 0, 0, 1}).Vec3()
}

// Recorder is a headless Renderer that keeps the draw calls of the last
// completed frame.
type Recorder struct {
	mu      sync.Mutex
	pending []DrawCall
	frame   []DrawCall
	frames  uint64
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// DrawAxis implements Renderer.
func (r *Recorder) DrawAxis(transform mgl64.Mat4, color Color) {
	r.mu.Lock()
	r.pending = append(r.pending, DrawCall{Transform: transform, Color: color})
	r.mu.Unlock()
}

// EndFrame publishes the calls drawn since the previous EndFrame.
func (r *Recorder) EndFrame() {
	r.mu.Lock()
	r.frame = r.pending
	r.pending = nil
	r.frames++
	r.mu.Unlock()
}

// Frame returns a copy of the last completed frame's draw calls.
func (r *Recorder) Frame() []DrawCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DrawCall, len(r.frame))
	copy(out, r.frame)
	return out
}

// Frames returns the number of completed frames.
func (r *Recorder) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}
