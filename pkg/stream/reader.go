// Package stream implements the per-camera acquisition loop.
//
// A Reader owns one sensor handle. Its goroutine waits for the consent signal,
// opens the stream and then pulls frames, handing each one to the registered
// callback on the acquisition goroutine. The reader keeps the most recent
// frame until the next one arrives.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-stereomark/internal/log"
	"github.com/teslashibe/go-stereomark/pkg/consent"
	"github.com/teslashibe/go-stereomark/pkg/debug"
	"github.com/teslashibe/go-stereomark/pkg/health"
	"github.com/teslashibe/go-stereomark/pkg/sensor"
)

// FrameCallback receives each frame on the acquisition goroutine. The reader
// keeps its own reference; callbacks that hold on to the frame must Retain it.
// Callbacks must return quickly.
type FrameCallback func(f *sensor.Frame)

// Stats is a snapshot of reader counters.
type Stats struct {
	Frames    uint64    `json:"frames"`
	LastFrame time.Time `json:"last_frame"`
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger used by the reader.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) {
		r.log = l
	}
}

// Reader is the acquisition loop for one camera.
type Reader struct {
	sensor  sensor.Sensor
	consent *consent.Signal
	log     *slog.Logger
	health  *health.Tracker

	cbMu     sync.RWMutex
	callback FrameCallback

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
	opened   atomic.Bool
	done     chan struct{}
	closeErr error
	once     sync.Once

	frames atomic.Uint64
	lastTS atomic.Int64
}

// New takes ownership of s and starts the acquisition goroutine.
func New(s sensor.Sensor, signal *consent.Signal, opts ...Option) *Reader {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reader{
		sensor:  s,
		consent: signal,
		health:  health.NewTracker(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = log.Component("stream", "camera", s.Kind())
	}

	go r.run()
	return r
}

// SetFrameCallback installs or replaces the frame callback. Safe to call at
// any time, including before consent arrives.
func (r *Reader) SetFrameCallback(cb FrameCallback) {
	r.cbMu.Lock()
	r.callback = cb
	r.cbMu.Unlock()
}

// Kind returns the camera this reader streams.
func (r *Reader) Kind() sensor.Kind {
	return r.sensor.Kind()
}

// Status returns the reader's health.
func (r *Reader) Status() health.Status {
	return r.health.Status()
}

// Stats returns a snapshot of the reader counters.
func (r *Reader) Stats() Stats {
	st := Stats{Frames: r.frames.Load()}
	if ts := r.lastTS.Load(); ts != 0 {
		st.LastFrame = time.Unix(0, ts)
	}
	return st
}

// Done is closed when the acquisition goroutine has exited.
func (r *Reader) Done() <-chan struct{} {
	return r.done
}

// Close stops the goroutine, waits for it, then closes the stream and the
// sensor handle. A NextFrame call that never returns stalls Close.
func (r *Reader) Close() error {
	r.once.Do(func() {
		r.stopping.Store(true)
		r.cancel()
		<-r.done

		var errs []error
		if r.opened.Load() {
			if err := r.sensor.CloseStream(); err != nil {
				errs = append(errs, fmt.Errorf("close stream: %w", err))
			}
		}
		if err := r.sensor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sensor: %w", err))
		}
		r.health.Set(health.Stopped, "")
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}

func (r *Reader) run() {
	defer close(r.done)

	r.health.Set(health.WaitingForConsent, "")
	result, err := r.consent.Wait(r.ctx)
	if err != nil {
		return
	}
	if !result.Allowed() {
		r.log.Warn("camera access denied", "result", result, "reason", result.Message())
		r.health.Set(health.Denied, result.Message())
		return
	}
	if r.stopping.Load() {
		return
	}

	if err := r.sensor.OpenStream(); err != nil {
		r.fail("open stream", err)
		return
	}
	r.opened.Store(true)
	r.health.Set(health.Running, "")
	r.log.Info("stream opened", "resolution", r.sensor.Resolution())

	var held *sensor.Frame
	defer func() {
		held.Release()
	}()

	for !r.stopping.Load() {
		f, err := r.sensor.NextFrame()
		if err != nil {
			if r.stopping.Load() && errors.Is(err, sensor.ErrStreamClosed) {
				return
			}
			r.fail("next frame", err)
			return
		}

		r.frames.Add(1)
		r.lastTS.Store(f.Timestamp.UnixNano())
		debug.Log(r.log, "frame", "seq", f.Seq, "ts", f.Timestamp)

		r.cbMu.RLock()
		cb := r.callback
		r.cbMu.RUnlock()
		if cb != nil {
			cb(f)
		}

		held.Release()
		held = f
	}
}

func (r *Reader) fail(op string, err error) {
	err = fmt.Errorf("%s: %w", op, err)
	r.log.Error("stream stopped", "error", err)
	r.health.Fail(err)
}
