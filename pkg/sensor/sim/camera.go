package sim

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/teslashibe/go-stereomark/pkg/sensor"
)

// Camera is a simulated VLC camera. Frames are paced by FrameInterval and
// recycled through a buffer pool when released.
type Camera struct {
	kind       sensor.Kind
	res        sensor.Resolution
	interval   time.Duration
	source     FrameSource
	lens       *unprojector
	extrinsics mgl64.Mat4

	mu     sync.Mutex
	open   bool
	ticker *time.Ticker
	stop   chan struct{}

	seq         atomic.Uint64
	opens       atomic.Int32
	outstanding atomic.Int32
	pool        sync.Pool
}

func newCamera(kind sensor.Kind, mount Mount, cfg Config) (*Camera, error) {
	lens, err := newUnprojector(cfg.Lens)
	if err != nil {
		return nil, err
	}

	// Mount places the camera in the rig; the driver reports the inverse,
	// taking rig coordinates into the camera frame.
	pose := mgl64.Translate3D(mount.Offset[0], mount.Offset[1], mount.Offset[2]).
		Mul4(mgl64.HomogRotate3DY(mount.Yaw))

	res := sensor.Resolution{Width: cfg.Width, Height: cfg.Height}
	c := &Camera{
		kind:       kind,
		res:        res,
		interval:   cfg.FrameInterval,
		source:     cfg.Source,
		lens:       lens,
		extrinsics: pose.Inv(),
	}
	c.pool.New = func() any {
		buf := make([]byte, res.Pixels())
		return &buf
	}
	return c, nil
}

// Kind implements sensor.Sensor.
func (c *Camera) Kind() sensor.Kind { return c.kind }

// Resolution implements sensor.Sensor.
func (c *Camera) Resolution() sensor.Resolution { return c.res }

// Extrinsics implements sensor.Sensor.
func (c *Camera) Extrinsics() (mgl64.Mat4, error) { return c.extrinsics, nil }

// MapImagePointToCameraUnitPlane implements sensor.Sensor.
func (c *Camera) MapImagePointToCameraUnitPlane(uv sensor.Point) (sensor.Point, error) {
	return c.lens.Map(uv), nil
}

// OpenStream starts frame pacing.
func (c *Camera) OpenStream() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return errors.New("stream already open")
	}
	c.opens.Add(1)
	c.open = true
	c.stop = make(chan struct{})
	c.ticker = time.NewTicker(c.interval)
	return nil
}

// CloseStream stops the stream and unblocks a pending NextFrame.
func (c *Camera) CloseStream() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false
	c.ticker.Stop()
	close(c.stop)
	return nil
}

// NextFrame blocks until the next frame interval elapses.
func (c *Camera) NextFrame() (*sensor.Frame, error) {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil, sensor.ErrStreamClosed
	}
	ticker, stop := c.ticker, c.stop
	c.mu.Unlock()

	select {
	case <-stop:
		return nil, sensor.ErrStreamClosed
	case <-ticker.C:
	}

	bufp := c.pool.Get().(*[]byte)
	seq := c.seq.Add(1)
	if err := c.source.Fill(c.kind, seq-1, c.res, *bufp); err != nil {
		c.pool.Put(bufp)
		return nil, err
	}

	c.outstanding.Add(1)
	return sensor.NewFrame(*bufp, c.res, time.Now(), seq, func() {
		c.outstanding.Add(-1)
		c.pool.Put(bufp)
	}), nil
}

// Close implements sensor.Sensor.
func (c *Camera) Close() error {
	return c.CloseStream()
}

// OpenCount reports how many times OpenStream succeeded.
func (c *Camera) OpenCount() int { return int(c.opens.Load()) }

// Outstanding reports frames handed out and not yet released.
func (c *Camera) Outstanding() int { return int(c.outstanding.Load()) }
