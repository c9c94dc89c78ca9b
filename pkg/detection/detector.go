package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-stereomark/internal/log"
	"github.com/teslashibe/go-stereomark/pkg/debug"
	"github.com/teslashibe/go-stereomark/pkg/health"
	"github.com/teslashibe/go-stereomark/pkg/mailbox"
	"github.com/teslashibe/go-stereomark/pkg/sensor"
)

// Stats is a snapshot of detector counters.
type Stats struct {
	Processed    uint64        `json:"processed"`
	Dropped      uint64        `json:"dropped"` // Frames overwritten before detection
	Errors       uint64        `json:"errors"`
	LastDuration time.Duration `json:"last_duration"`
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger used by the detector.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		d.log = l
	}
}

// Detector runs an Algorithm on the newest frame delivered by OnFrameReady.
type Detector struct {
	alg    Algorithm
	log    *slog.Logger
	health *health.Tracker
	inbox  *mailbox.Mailbox[*sensor.Frame]

	resultMu sync.Mutex
	result   *Result

	processed atomic.Uint64
	failures  atomic.Uint64
	lastDur   atomic.Int64

	done     chan struct{}
	once     sync.Once
	closeErr error
}

// New starts a detector goroutine. The detector takes ownership of alg.
func New(alg Algorithm, opts ...Option) *Detector {
	d := &Detector{
		alg:    alg,
		health: health.NewTracker(),
		inbox:  mailbox.New[*sensor.Frame](),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = log.Component("detection")
	}

	d.health.Set(health.Running, "")
	go d.run()
	return d
}

// OnFrameReady stages f for detection and returns immediately. A frame staged
// earlier and not yet picked up is released and replaced.
func (d *Detector) OnFrameReady(f *sensor.Frame) {
	if f == nil {
		return
	}
	if old, dropped := d.inbox.Put(f.Retain()); dropped {
		old.Release()
	}
}

// GetFirstCenter returns the center of the first marker in the latest
// result. ok is false when no marker has been detected.
func (d *Detector) GetFirstCenter() (x, y float64, ts time.Time, ok bool) {
	d.resultMu.Lock()
	defer d.resultMu.Unlock()

	m, found := d.result.First()
	if !found {
		return 0, 0, time.Time{}, false
	}
	return m.Center.X, m.Center.Y, d.result.Timestamp, true
}

// Result returns a copy of the latest published result, or nil.
func (d *Detector) Result() *Result {
	d.resultMu.Lock()
	defer d.resultMu.Unlock()
	return d.result.clone()
}

// Stats returns a snapshot of the detector counters.
func (d *Detector) Stats() Stats {
	return Stats{
		Processed:    d.processed.Load(),
		Dropped:      d.inbox.Stats().Drops,
		Errors:       d.failures.Load(),
		LastDuration: time.Duration(d.lastDur.Load()),
	}
}

// Status returns the detector's health.
func (d *Detector) Status() health.Status {
	return d.health.Status()
}

// Close stops the goroutine after any in-flight detection, releases a
// staged frame and closes the algorithm.
func (d *Detector) Close() error {
	d.once.Do(func() {
		if staged, ok := d.inbox.Close(); ok {
			staged.Release()
		}
		<-d.done
		d.health.Set(health.Stopped, "")
		if err := d.alg.Close(); err != nil {
			d.closeErr = fmt.Errorf("close algorithm: %w", err)
		}
	})
	return d.closeErr
}

func (d *Detector) run() {
	defer close(d.done)

	for {
		f, err := d.inbox.Take(context.Background())
		if errors.Is(err, mailbox.ErrClosed) {
			return
		}
		d.process(f)
	}
}

func (d *Detector) process(f *sensor.Frame) {
	defer f.Release()

	start := time.Now()
	markers, err := d.alg.Detect(f)
	d.lastDur.Store(int64(time.Since(start)))
	if err != nil {
		d.failures.Add(1)
		d.log.Warn("detection failed", "seq", f.Seq, "error", err)
		return
	}

	res := newResult(markers, f)
	d.resultMu.Lock()
	d.result = res
	d.resultMu.Unlock()

	d.processed.Add(1)
	if len(res.Markers) > 0 {
		debug.Log(d.log, "markers detected", "seq", f.Seq, "count", len(res.Markers), "first", res.Markers[0].ID,
			"took", time.Duration(d.lastDur.Load()))
	}
}
