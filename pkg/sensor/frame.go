package sensor

import (
	"sync"
	"sync/atomic"
	"time"
)

// Frame is a reference-counted driver buffer holding one 8-bit grayscale
// image in row-major order.
//
// The driver hands out frames with a single reference. Every Retain must be
// paired with a Release; the buffer goes back to the driver when the last
// reference is released. Pixels must not be modified or read after that.
type Frame struct {
	Pixels     []byte
	Resolution Resolution
	Timestamp  time.Time
	Seq        uint64

	refs    atomic.Int32
	once    sync.Once
	release func()
}

// NewFrame wraps a driver buffer. release (optional) runs once when the last
// reference is dropped.
func NewFrame(pixels []byte, res Resolution, ts time.Time, seq uint64, release func()) *Frame {
	f := &Frame{
		Pixels:     pixels,
		Resolution: res,
		Timestamp:  ts,
		Seq:        seq,
		release:    release,
	}
	f.refs.Store(1)
	return f
}

// Retain adds a reference and returns f for chaining.
func (f *Frame) Retain() *Frame {
	if f.refs.Add(1) <= 1 {
		panic("sensor: Retain on released frame")
	}
	return f
}

// Release drops a reference. Safe to call on a nil frame.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	n := f.refs.Add(-1)
	switch {
	case n == 0:
		f.once.Do(func() {
			if f.release != nil {
				f.release()
			}
		})
	case n < 0:
		panic("sensor: frame released more times than retained")
	}
}

// Refs reports the current reference count.
func (f *Frame) Refs() int32 {
	return f.refs.Load()
}

// Valid reports whether the pixel buffer matches the resolution.
func (f *Frame) Valid() bool {
	return f != nil && f.Resolution.Pixels() > 0 && len(f.Pixels) >= f.Resolution.Pixels()
}
