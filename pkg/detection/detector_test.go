package detection

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-stereomark/internal/log"
	"github.com/teslashibe/go-stereomark/pkg/debug"
	"github.com/teslashibe/go-stereomark/pkg/health"
	"github.com/teslashibe/go-stereomark/pkg/sensor"
)

// fakeAlgorithm reports one square marker per frame, positioned by the
// frame's sequence number, and records which frames it saw.
type fakeAlgorithm struct {
	mu     sync.Mutex
	seen   []uint64
	gate   chan struct{} // When non-nil, Detect blocks until it receives
	busy   chan uint64   // Receives the seq of each frame as detection starts
	fail   map[uint64]bool
	closed atomic.Bool
}

func squareAt(seq uint64) []sensor.Point {
	x := float64(seq) * 10
	return []sensor.Point{{X: x, Y: x}, {X: x + 4, Y: x}, {X: x + 4, Y: x + 4}, {X: x, Y: x + 4}}
}

func (a *fakeAlgorithm) Detect(f *sensor.Frame) ([]Marker, error) {
	if f.Refs() < 1 {
		panic("detecting released frame")
	}
	if a.busy != nil {
		a.busy <- f.Seq
	}
	if a.gate != nil {
		<-a.gate
	}
	a.mu.Lock()
	a.seen = append(a.seen, f.Seq)
	a.mu.Unlock()

	if a.fail[f.Seq] {
		return nil, errors.New("bad frame")
	}
	if f.Seq == 0 {
		return nil, nil
	}
	return []Marker{{ID: int(f.Seq), Corners: squareAt(f.Seq)}}, nil
}

func (a *fakeAlgorithm) Close() error {
	a.closed.Store(true)
	return nil
}

func (a *fakeAlgorithm) detected() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.seen...)
}

// trackedFrame returns a frame and a counter of how often its buffer was
// returned to the driver.
func trackedFrame(seq uint64) (*sensor.Frame, *atomic.Int32) {
	var released atomic.Int32
	f := sensor.NewFrame(make([]byte, 4), sensor.Resolution{Width: 2, Height: 2},
		time.Unix(int64(seq), 0), seq, func() { released.Add(1) })
	return f, &released
}

func TestDetector_NoFramesNoCenter(t *testing.T) {
	d := New(&fakeAlgorithm{}, WithLogger(log.Discard()))
	defer d.Close()

	for i := 0; i < 3; i++ {
		if _, _, _, ok := d.GetFirstCenter(); ok {
			t.Fatal("GetFirstCenter succeeded with no frames delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Nil(t, d.Result())
}

func TestDetector_LastWriteWins(t *testing.T) {
	alg := &fakeAlgorithm{gate: make(chan struct{}), busy: make(chan uint64, 4)}
	d := New(alg, WithLogger(log.Discard()))
	defer d.Close()

	// F0 occupies the detection goroutine.
	f0, rel0 := trackedFrame(100)
	d.OnFrameReady(f0)
	f0.Release()
	require.Equal(t, uint64(100), <-alg.busy)

	// F1 then F2 arrive while F0 is being detected.
	f1, rel1 := trackedFrame(1)
	f2, rel2 := trackedFrame(2)
	d.OnFrameReady(f1)
	d.OnFrameReady(f2)
	f1.Release()
	f2.Release()

	assert.Equal(t, int32(1), rel1.Load(), "overwritten frame must be released immediately")
	assert.Zero(t, rel2.Load(), "staged frame must be retained")

	alg.gate <- struct{}{} // finish F0
	require.Equal(t, uint64(2), <-alg.busy)
	alg.gate <- struct{}{} // finish F2

	require.Eventually(t, func() bool {
		return d.Stats().Processed == 2 && rel2.Load() == 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, []uint64{100, 2}, alg.detected(), "F1 must never be detected")
	assert.Equal(t, uint64(1), d.Stats().Dropped)
	assert.Equal(t, int32(1), rel0.Load())

	x, y, ts, ok := d.GetFirstCenter()
	require.True(t, ok)
	assert.Equal(t, Centroid(squareAt(2)), sensor.Point{X: x, Y: y})
	assert.True(t, ts.Equal(time.Unix(2, 0)))
}

func TestDetector_NeverMixesFrames(t *testing.T) {
	alg := &fakeAlgorithm{}
	d := New(alg, WithLogger(log.Discard()))
	defer d.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for seq := uint64(1); seq <= 500; seq++ {
			f, _ := trackedFrame(seq)
			d.OnFrameReady(f)
			f.Release()
		}
		close(stop)
	}()

	check := func() {
		x, y, ts, ok := d.GetFirstCenter()
		if !ok {
			return
		}
		seq := uint64(ts.Unix())
		if want := Centroid(squareAt(seq)); want != (sensor.Point{X: x, Y: y}) {
			t.Fatalf("center (%v,%v) does not belong to frame %d (want %+v)", x, y, seq, want)
		}
	}
	for done := false; !done; {
		select {
		case <-stop:
			done = true
		default:
			check()
		}
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		_, _, ts, ok := d.GetFirstCenter()
		return ok && ts.Unix() == 500
	}, time.Second, time.Millisecond, "last delivered frame should be the one published")
	check()
}

func TestDetector_ErrorKeepsPreviousResult(t *testing.T) {
	alg := &fakeAlgorithm{fail: map[uint64]bool{2: true}}
	d := New(alg, WithLogger(log.Discard()))
	defer d.Close()

	f1, _ := trackedFrame(1)
	d.OnFrameReady(f1)
	f1.Release()
	require.Eventually(t, func() bool { return d.Stats().Processed == 1 }, time.Second, time.Millisecond)

	f2, rel2 := trackedFrame(2)
	d.OnFrameReady(f2)
	f2.Release()
	require.Eventually(t, func() bool {
		return d.Stats().Errors == 1 && rel2.Load() == 1
	}, time.Second, time.Millisecond)

	res := d.Result()
	require.NotNil(t, res)
	assert.Equal(t, uint64(1), res.Seq)
	assert.Equal(t, health.Running, d.Status().State)
}

func TestDetector_EmptyDetectionClearsResult(t *testing.T) {
	d := New(&fakeAlgorithm{}, WithLogger(log.Discard()))
	defer d.Close()

	f1, _ := trackedFrame(1)
	d.OnFrameReady(f1)
	f1.Release()
	require.Eventually(t, func() bool { return d.Stats().Processed == 1 }, time.Second, time.Millisecond)

	// Seq 0 yields no markers.
	f0, _ := trackedFrame(0)
	d.OnFrameReady(f0)
	f0.Release()
	require.Eventually(t, func() bool { return d.Stats().Processed == 2 }, time.Second, time.Millisecond)

	_, _, _, ok := d.GetFirstCenter()
	assert.False(t, ok, "a pass with no markers replaces the previous result")
}

func TestDetector_CloseReleasesStagedFrame(t *testing.T) {
	alg := &fakeAlgorithm{gate: make(chan struct{}), busy: make(chan uint64, 2)}
	d := New(alg, WithLogger(log.Discard()))

	busy, relBusy := trackedFrame(1)
	d.OnFrameReady(busy)
	busy.Release()
	<-alg.busy

	staged, relStaged := trackedFrame(2)
	d.OnFrameReady(staged)
	staged.Release()

	closed := make(chan error, 1)
	go func() { closed <- d.Close() }()

	require.Eventually(t, func() bool { return relStaged.Load() == 1 }, time.Second, time.Millisecond)
	alg.gate <- struct{}{}
	require.NoError(t, <-closed)

	assert.Equal(t, int32(1), relBusy.Load())
	assert.True(t, alg.closed.Load())
	assert.Equal(t, health.Stopped, d.Status().State)

	late, relLate := trackedFrame(3)
	d.OnFrameReady(late)
	late.Release()
	assert.Equal(t, int32(1), relLate.Load(), "frames delivered after Close are released")
}

func TestDetector_DebugTrace(t *testing.T) {
	var buf bytes.Buffer
	var bufMu sync.Mutex
	logger := slog.New(slog.NewTextHandler(&lockedWriter{w: &buf, mu: &bufMu}, nil))

	debug.SetEnabled(true)
	t.Cleanup(func() { debug.SetEnabled(false) })

	d := New(&fakeAlgorithm{}, WithLogger(logger))
	f, _ := trackedFrame(3)
	d.OnFrameReady(f)
	f.Release()
	require.Eventually(t, func() bool { return d.Stats().Processed == 1 }, time.Second, time.Millisecond)
	require.NoError(t, d.Close())

	bufMu.Lock()
	defer bufMu.Unlock()
	assert.Contains(t, buf.String(), "msg=\"markers detected\" seq=3 count=1 first=3")
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
