package sim

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-stereomark/internal/log"
	"github.com/teslashibe/go-stereomark/pkg/consent"
	"github.com/teslashibe/go-stereomark/pkg/sensor"
)

// Device is a simulated headset sensor provider.
type Device struct {
	cfg Config

	mu      sync.Mutex
	cameras []*Camera
	closed  bool
}

// New creates a simulated device.
func New(cfg Config) (*Device, error) {
	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid sim config: %s", strings.Join(problems, "; "))
	}
	if cfg.Source == nil {
		cfg.Source = FlatSource{Level: 128}
	}
	return &Device{cfg: cfg}, nil
}

// RequestAccess answers the consent prompt asynchronously after PromptDelay.
func (d *Device) RequestAccess(cb func(consent.Result)) error {
	if cb == nil {
		return errors.New("consent callback is nil")
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return errors.New("device closed")
	}

	go func() {
		time.Sleep(d.cfg.PromptDelay)
		log.Debug("sim consent answered", "result", d.cfg.Consent)
		cb(d.cfg.Consent)
	}()
	return nil
}

// Sensor implements sensor.Device.
func (d *Device) Sensor(kind sensor.Kind) (sensor.Sensor, error) {
	return d.Camera(kind)
}

// Camera returns a new simulated camera handle.
func (d *Device) Camera(kind sensor.Kind) (*Camera, error) {
	mount, ok := d.cfg.Mounts[kind]
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, sensor.ErrSensorNotFound)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("device closed")
	}

	cam, err := newCamera(kind, mount, d.cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	d.cameras = append(d.cameras, cam)
	return cam, nil
}

// Close shuts down every camera handed out.
func (d *Device) Close() error {
	d.mu.Lock()
	cameras := d.cameras
	d.cameras = nil
	d.closed = true
	d.mu.Unlock()

	var errs []error
	for _, c := range cameras {
		if err := c.CloseStream(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
