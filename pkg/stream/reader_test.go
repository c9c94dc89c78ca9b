package stream

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-stereomark/internal/log"
	"github.com/teslashibe/go-stereomark/pkg/consent"
	"github.com/teslashibe/go-stereomark/pkg/health"
	"github.com/teslashibe/go-stereomark/pkg/sensor"
)

// mockSensor records driver calls and produces frames on demand.
type mockSensor struct {
	mu         sync.Mutex
	openCalls  int
	closeCalls int
	sensorShut bool
	openErr    error
	frameErr   error // returned once maxFrames is reached

	maxFrames int
	seq       uint64
	released  atomic.Int32
	interval  time.Duration
}

func (m *mockSensor) Kind() sensor.Kind { return sensor.LeftFront }

func (m *mockSensor) OpenStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openCalls++
	return m.openErr
}

func (m *mockSensor) CloseStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return nil
}

func (m *mockSensor) NextFrame() (*sensor.Frame, error) {
	time.Sleep(m.interval)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxFrames > 0 && int(m.seq) >= m.maxFrames {
		return nil, m.frameErr
	}
	m.seq++
	res := sensor.Resolution{Width: 2, Height: 2}
	return sensor.NewFrame(make([]byte, 4), res, time.Now(), m.seq, func() {
		m.released.Add(1)
	}), nil
}

func (m *mockSensor) Resolution() sensor.Resolution { return sensor.Resolution{Width: 2, Height: 2} }

func (m *mockSensor) Extrinsics() (mgl64.Mat4, error) { return mgl64.Ident4(), nil }

func (m *mockSensor) MapImagePointToCameraUnitPlane(uv sensor.Point) (sensor.Point, error) {
	return uv, nil
}

func (m *mockSensor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sensorShut = true
	return nil
}

func (m *mockSensor) calls() (open, closeStream int, shut bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCalls, m.closeCalls, m.sensorShut
}

func (m *mockSensor) produced() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

func TestReader_DeniedNeverOpens(t *testing.T) {
	denials := []consent.Result{
		consent.DeniedByUser,
		consent.DeniedBySystem,
		consent.NotDeclaredByApp,
		consent.UserPromptRequired,
	}
	for _, result := range denials {
		t.Run(result.String(), func(t *testing.T) {
			ms := &mockSensor{}
			sig := consent.NewSignal()
			r := New(ms, sig, WithLogger(log.Discard()))

			sig.Resolve(result)
			select {
			case <-r.Done():
			case <-time.After(time.Second):
				t.Fatal("reader did not exit after denial")
			}

			st := r.Status()
			assert.Equal(t, health.Denied, st.State)
			assert.Equal(t, result.Message(), st.Reason)

			require.NoError(t, r.Close())
			open, closeStream, shut := ms.calls()
			assert.Zero(t, open, "OpenStream must not be called")
			assert.Zero(t, closeStream, "CloseStream must not be called")
			assert.True(t, shut, "sensor handle should be released")
			assert.Equal(t, health.Denied, r.Status().State)
		})
	}
}

func TestReader_WaitsForConsent(t *testing.T) {
	ms := &mockSensor{interval: time.Millisecond}
	sig := consent.NewSignal()
	r := New(ms, sig, WithLogger(log.Discard()))
	defer r.Close()

	require.Eventually(t, func() bool {
		return r.Status().State == health.WaitingForConsent
	}, time.Second, time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	open, _, _ := ms.calls()
	assert.Zero(t, open, "stream opened before consent")

	sig.Resolve(consent.Granted)
	require.Eventually(t, func() bool {
		return r.Stats().Frames > 0
	}, time.Second, time.Millisecond)
	assert.Equal(t, health.Running, r.Status().State)
}

func TestReader_DeliversFramesAndHoldsOne(t *testing.T) {
	ms := &mockSensor{interval: time.Millisecond}
	sig := consent.NewSignal()
	sig.Resolve(consent.Granted)

	var mu sync.Mutex
	var seen []uint64
	r := New(ms, sig, WithLogger(log.Discard()))
	r.SetFrameCallback(func(f *sensor.Frame) {
		mu.Lock()
		seen = append(seen, f.Seq)
		mu.Unlock()
		// The reader holds exactly one reference during the callback.
		if f.Refs() != 1 {
			t.Errorf("frame %d refs = %d during callback, want 1", f.Seq, f.Refs())
		}
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 5
	}, time.Second, time.Millisecond)

	// Every produced frame except the one currently held has been released.
	produced := ms.produced()
	released := uint64(ms.released.Load())
	assert.LessOrEqual(t, produced-released, uint64(2))

	require.NoError(t, r.Close())
	assert.Equal(t, ms.produced(), uint64(ms.released.Load()), "all frames released after Close")

	_, closeStream, shut := ms.calls()
	assert.Equal(t, 1, closeStream)
	assert.True(t, shut)
	assert.Equal(t, health.Stopped, r.Status().State)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("frames out of order: %v", seen)
		}
	}
}

func TestReader_HardwareFailure(t *testing.T) {
	tests := []struct {
		name    string
		sensor  *mockSensor
		wantMsg string
	}{
		{
			name:    "open",
			sensor:  &mockSensor{openErr: errors.New("device busy")},
			wantMsg: "open stream: device busy",
		},
		{
			name:    "next frame",
			sensor:  &mockSensor{maxFrames: 3, frameErr: errors.New("buffer timeout")},
			wantMsg: "next frame: buffer timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := consent.NewSignal()
			sig.Resolve(consent.Granted)
			r := New(tt.sensor, sig, WithLogger(log.Discard()))

			select {
			case <-r.Done():
			case <-time.After(time.Second):
				t.Fatal("reader did not exit after hardware failure")
			}

			st := r.Status()
			assert.Equal(t, health.Failed, st.State)
			assert.Equal(t, tt.wantMsg, st.Reason)

			// No retry.
			open, _, _ := tt.sensor.calls()
			assert.Equal(t, 1, open)

			require.NoError(t, r.Close())
			assert.Equal(t, health.Failed, r.Status().State, "failure survives Close")
			assert.Equal(t, tt.sensor.produced(), uint64(tt.sensor.released.Load()))
		})
	}
}

func TestReader_CloseBeforeConsent(t *testing.T) {
	ms := &mockSensor{}
	r := New(ms, consent.NewSignal(), WithLogger(log.Discard()))

	done := make(chan error, 1)
	go func() { done <- r.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close blocked waiting for consent")
	}

	open, _, shut := ms.calls()
	assert.Zero(t, open)
	assert.True(t, shut)
	assert.Equal(t, health.Stopped, r.Status().State)
}
