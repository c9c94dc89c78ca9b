// Package scenario wires the stereo pipeline together for a host render loop.
//
// The host calls InitializeSensors and InitializeDetectionPipeline once, then
// UpdateModels and RenderModels on every render tick. Only the primary camera
// drives the marker position; the other camera's detections are logged.
package scenario

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"

	"github.com/teslashibe/go-stereomark/internal/log"
	"github.com/teslashibe/go-stereomark/pkg/calibration"
	"github.com/teslashibe/go-stereomark/pkg/consent"
	"github.com/teslashibe/go-stereomark/pkg/debug"
	"github.com/teslashibe/go-stereomark/pkg/detection"
	"github.com/teslashibe/go-stereomark/pkg/health"
	"github.com/teslashibe/go-stereomark/pkg/render"
	"github.com/teslashibe/go-stereomark/pkg/sensor"
	"github.com/teslashibe/go-stereomark/pkg/stream"
)

// ErrNotInitialized is returned when an operation runs before its
// initialization step.
var ErrNotInitialized = errors.New("scenario not initialized")

// AlgorithmFactory creates the detection backend for one camera.
type AlgorithmFactory func(kind sensor.Kind) (detection.Algorithm, error)

// Config holds scenario parameters.
type Config struct {
	Primary    sensor.Kind
	Alpha      float64 // Smoothing weight of a new measurement
	StaleAfter int     // Ticks without detection before the marker is flagged stale; 0 disables
	MarkerSize float64 // Indicator axis length in meters
}

// DefaultConfig returns the left camera as primary with α = 0.5.
func DefaultConfig() Config {
	return Config{
		Primary:    sensor.LeftFront,
		Alpha:      calibration.DefaultAlpha,
		StaleAfter: 90,
		MarkerSize: 0.01,
	}
}

// Tick is the outcome of one UpdateModels call.
type Tick struct {
	Seq      uint64    `json:"seq"`
	Position r3.Vector `json:"position"`
	Moved    bool      `json:"moved"`
	Stale    bool      `json:"stale"`
	Detected time.Time `json:"detected,omitempty"` // Capture time of the frame used
}

type camera struct {
	kind     sensor.Kind
	sensor   sensor.Sensor
	cal      *calibration.Calibration
	reader   *stream.Reader
	detector *detection.Detector
}

// Scenario owns the device, both camera pipelines and the scene models.
type Scenario struct {
	cfg          Config
	device       sensor.Device
	newAlgorithm AlgorithmFactory
	base         *slog.Logger
	log          *slog.Logger
	session      string
	consent      *consent.Signal

	mu        sync.RWMutex
	cameras   map[sensor.Kind]*camera
	order     []sensor.Kind
	pipelines bool
	closed    bool

	projector *calibration.Projector
	marker    *render.MarkerModel
	models    []render.Model

	tickMu   sync.Mutex
	lastTick time.Time
	ticks    uint64
	last     Tick
}

// Option configures a Scenario.
type Option func(*Scenario)

// WithLogger sets the base logger. Component loggers for the scenario and
// every camera pipeline are derived from it.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scenario) {
		s.base = l
	}
}

// New creates a scenario over device. newAlgorithm is called once per camera
// by InitializeDetectionPipeline.
func New(cfg Config, device sensor.Device, newAlgorithm AlgorithmFactory, opts ...Option) *Scenario {
	s := &Scenario{
		cfg:          cfg,
		device:       device,
		newAlgorithm: newAlgorithm,
		session:      uuid.NewString(),
		consent:      consent.NewSignal(),
		cameras:      make(map[sensor.Kind]*camera),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.base == nil {
		s.base = log.L()
	}
	s.log = s.component("scenario")
	return s
}

// component returns a logger tagged with name and this run's session.
func (s *Scenario) component(name string, args ...any) *slog.Logger {
	return s.base.With(append([]any{"component", name, "session", s.session}, args...)...)
}

// Session returns the unique ID of this run.
func (s *Scenario) Session() string {
	return s.session
}

// InitializeSensors requests camera access, opens a handle for each camera
// the device has and loads its calibration.
func (s *Scenario) InitializeSensors() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cameras) > 0 {
		return errors.New("sensors already initialized")
	}

	if err := s.device.RequestAccess(s.onConsent); err != nil {
		return fmt.Errorf("request camera access: %w", err)
	}

	for _, kind := range sensor.Kinds() {
		sn, err := s.device.Sensor(kind)
		if errors.Is(err, sensor.ErrSensorNotFound) {
			s.log.Warn("camera not present", "camera", kind)
			continue
		}
		if err != nil {
			s.closeSensorsLocked()
			return fmt.Errorf("open %s: %w", kind, err)
		}

		ext, err := sn.Extrinsics()
		if err != nil {
			sn.Close()
			s.closeSensorsLocked()
			return fmt.Errorf("%s extrinsics: %w", kind, err)
		}
		cal, err := calibration.New(ext)
		if err != nil {
			sn.Close()
			s.closeSensorsLocked()
			return fmt.Errorf("%s calibration: %w", kind, err)
		}

		s.cameras[kind] = &camera{kind: kind, sensor: sn, cal: cal}
		s.order = append(s.order, kind)
		s.log.Info("camera initialized", "camera", kind, "resolution", sn.Resolution(), "rotation_det", cal.RotationDet)
	}

	primary, ok := s.cameras[s.cfg.Primary]
	if !ok {
		s.closeSensorsLocked()
		return fmt.Errorf("primary camera %s: %w", s.cfg.Primary, sensor.ErrSensorNotFound)
	}

	s.projector = calibration.NewProjector(primary.cal, primary.sensor, s.cfg.Alpha)
	s.initModels()
	return nil
}

func (s *Scenario) onConsent(r consent.Result) {
	if r.Allowed() {
		s.log.Info("camera access granted")
	} else {
		s.log.Warn("camera access denied", "result", r, "reason", r.Message())
	}
	s.consent.Resolve(r)
}

// initModels places origin vectors, a reference axis at (1,1,1) and the
// marker indicator.
func (s *Scenario) initModels() {
	s.marker = render.NewMarker(s.cfg.MarkerSize)
	s.models = []render.Model{
		render.NewVector(r3.Vector{}, r3.Vector{X: 1}, 0.01, render.Red),
		render.NewVector(r3.Vector{}, r3.Vector{Y: 1}, 0.01, render.Green),
		render.NewVector(r3.Vector{}, r3.Vector{Z: 1}, 0.01, render.Blue),
		render.NewAxis(r3.Vector{X: 1, Y: 1, Z: 1}, 1),
		s.marker,
	}
}

// InitializeDetectionPipeline starts a stream reader and a marker detector
// for every initialized camera. If a detection backend cannot be created all
// handles are released and InitializeSensors has to run again.
func (s *Scenario) InitializeDetectionPipeline() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cameras) == 0 {
		return ErrNotInitialized
	}
	if s.pipelines {
		return errors.New("detection pipeline already running")
	}

	for _, kind := range s.order {
		alg, err := s.newAlgorithm(kind)
		if err != nil {
			s.releaseLocked()
			return fmt.Errorf("%s detection backend: %w", kind, err)
		}

		cam := s.cameras[kind]
		cam.detector = detection.New(alg, detection.WithLogger(s.component("detection", "camera", kind)))
		cam.reader = stream.New(cam.sensor, s.consent, stream.WithLogger(s.component("stream", "camera", kind)))
		cam.reader.SetFrameCallback(cam.detector.OnFrameReady)
	}
	s.pipelines = true
	s.log.Info("detection pipeline started", "cameras", len(s.order))
	return nil
}

// UpdateModels advances the scene by one render tick using the current head
// pose. It never blocks on the pipeline goroutines.
func (s *Scenario) UpdateModels(pose calibration.Pose) (Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.pipelines {
		return Tick{}, ErrNotInitialized
	}

	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	now := time.Now()
	var dt time.Duration
	if !s.lastTick.IsZero() {
		dt = now.Sub(s.lastTick)
	}
	s.lastTick = now
	s.ticks++

	tick := Tick{Seq: s.ticks}
	primary := s.cameras[s.cfg.Primary]
	x, y, ts, ok := primary.detector.GetFirstCenter()
	tick.Position, tick.Moved = s.projector.Update(sensor.Point{X: x, Y: y}, ok, pose)
	if tick.Moved {
		tick.Detected = ts
		s.marker.SetPosition(tick.Position)
	}
	tick.Stale = s.projector.Stale(s.cfg.StaleAfter)
	s.marker.SetStale(tick.Stale)

	for _, kind := range s.order {
		if kind != s.cfg.Primary {
			s.logSecondary(s.cameras[kind])
		}
	}

	for _, m := range s.models {
		m.Update(dt)
	}
	s.last = tick
	debug.TickLog(s.log, "tick", "seq", tick.Seq, "detected", ok, "moved", tick.Moved,
		"stale", tick.Stale, "position", tick.Position, "measured", s.projector.Measured())
	return tick, nil
}

// logSecondary reports a non-primary camera's detection without using it.
func (s *Scenario) logSecondary(cam *camera) {
	x, y, _, ok := cam.detector.GetFirstCenter()
	if !ok {
		return
	}
	uv := sensor.Point{X: x, Y: y}
	xy, err := cam.sensor.MapImagePointToCameraUnitPlane(uv)
	if err != nil {
		s.log.Debug("marker mapping failed", "camera", cam.kind, "error", err)
		return
	}
	debug.TickLog(s.log, "marker seen", "camera", cam.kind, "pixel", uv, "mapped", xy)
}

// RenderModels draws every model.
func (s *Scenario) RenderModels(r render.Renderer) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.models {
		m.Render(r)
	}
}

// OnDeviceLost forwards to every model.
func (s *Scenario) OnDeviceLost() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.models {
		m.OnDeviceLost()
	}
}

// OnDeviceRestored forwards to every model.
func (s *Scenario) OnDeviceRestored() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.models {
		m.OnDeviceRestored()
	}
}

// Position returns the smoothed marker position.
func (s *Scenario) Position() (r3.Vector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.projector == nil {
		return r3.Vector{}, ErrNotInitialized
	}
	return s.projector.Position(), nil
}

// LastTick returns the result of the most recent UpdateModels call.
func (s *Scenario) LastTick() Tick {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.last
}

// Detections returns the latest detection result for a camera, or nil.
func (s *Scenario) Detections(kind sensor.Kind) (*detection.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cam, ok := s.cameras[kind]
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, sensor.ErrSensorNotFound)
	}
	if cam.detector == nil {
		return nil, ErrNotInitialized
	}
	return cam.detector.Result(), nil
}

// CameraHealth is the observable state of one camera pipeline.
type CameraHealth struct {
	Camera    sensor.Kind     `json:"camera"`
	Primary   bool            `json:"primary"`
	Reader    health.Status   `json:"reader"`
	Detector  health.Status   `json:"detector"`
	Stream    stream.Stats    `json:"stream"`
	Detection detection.Stats `json:"detection"`
}

// Health is a snapshot of the whole pipeline.
type Health struct {
	Session string         `json:"session"`
	Consent consent.Result `json:"consent"`
	Cameras []CameraHealth `json:"cameras"`
}

// Healthy reports whether every camera pipeline is running.
func (h Health) Healthy() bool {
	if len(h.Cameras) == 0 {
		return false
	}
	for _, c := range h.Cameras {
		if c.Reader.State != health.Running || c.Detector.State != health.Running {
			return false
		}
	}
	return true
}

// Health returns the state of every camera pipeline.
func (s *Scenario) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := Health{Session: s.session, Consent: s.consent.Result()}
	for _, kind := range s.order {
		cam := s.cameras[kind]
		ch := CameraHealth{Camera: kind, Primary: kind == s.cfg.Primary}
		if cam.reader != nil {
			ch.Reader = cam.reader.Status()
			ch.Stream = cam.reader.Stats()
		}
		if cam.detector != nil {
			ch.Detector = cam.detector.Status()
			ch.Detection = cam.detector.Stats()
		}
		h.Cameras = append(h.Cameras, ch)
	}
	return h
}

// Close stops readers, then detectors, then releases the device.
func (s *Scenario) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	errs = append(errs, s.closePipelinesLocked())
	errs = append(errs, s.closeSensorsLocked())
	if err := s.device.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close device: %w", err))
	}
	s.log.Info("scenario closed")
	return errors.Join(errs...)
}

func (s *Scenario) closePipelinesLocked() error {
	var errs []error
	for _, kind := range s.order {
		cam := s.cameras[kind]
		if cam.reader != nil {
			if err := cam.reader.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s reader: %w", kind, err))
			}
		}
	}
	for _, kind := range s.order {
		cam := s.cameras[kind]
		if cam.detector != nil {
			if err := cam.detector.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s detector: %w", kind, err))
			}
		}
	}
	s.pipelines = false
	return errors.Join(errs...)
}

// releaseLocked tears down a partially started pipeline. Readers release
// their own handles, so every camera is dropped and InitializeSensors must
// run again to acquire fresh ones.
func (s *Scenario) releaseLocked() {
	if err := errors.Join(s.closePipelinesLocked(), s.closeSensorsLocked()); err != nil {
		s.log.Warn("release after failed pipeline start", "error", err)
	}
	s.projector = nil
	s.marker = nil
	s.models = nil
}

// closeSensorsLocked releases handles not owned by a reader.
func (s *Scenario) closeSensorsLocked() error {
	var errs []error
	for _, kind := range s.order {
		cam := s.cameras[kind]
		if cam.reader == nil {
			if err := cam.sensor.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s sensor: %w", kind, err))
			}
		}
	}
	if !s.closed {
		s.cameras = make(map[sensor.Kind]*camera)
		s.order = nil
	}
	return errors.Join(errs...)
}
