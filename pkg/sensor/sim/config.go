// Package sim provides a simulated research-mode sensor device for running the
// stereo pipeline without headset hardware.
package sim

import (
	"time"

	"github.com/teslashibe/go-stereomark/internal/config"
	"github.com/teslashibe/go-stereomark/pkg/consent"
	"github.com/teslashibe/go-stereomark/pkg/sensor"
)

// Mount is a camera's fixed position and heading on the rig.
type Mount struct {
	Offset [3]float64 // Camera origin in rig coordinates (meters)
	Yaw    float64    // Rotation about the rig's up axis (radians)
}

// Config holds all simulated device parameters.
type Config struct {
	Width         int           `validate:"min=16,max=4096"`
	Height        int           `validate:"min=16,max=4096"`
	FrameInterval time.Duration `validate:"gt=0"`

	Lens   Lens
	Mounts map[sensor.Kind]Mount `validate:"min=1"`

	// Consent is the answer given to RequestAccess after PromptDelay.
	// It must not be Pending.
	Consent     consent.Result `validate:"ne=0"`
	PromptDelay time.Duration  `validate:"gte=0"`

	// Source produces pixel data. Nil means a flat gray image.
	Source FrameSource `validate:"-"`
}

// VLC camera capabilities
const (
	VLCWidth  = 640
	VLCHeight = 480
)

// DefaultConfig returns a pair of 640x480 grayscale cameras 10cm apart,
// streaming at ~30fps with consent granted.
func DefaultConfig() Config {
	return Config{
		Width:         VLCWidth,
		Height:        VLCHeight,
		FrameInterval: 33 * time.Millisecond,
		Lens: Lens{
			Fx: 450, Fy: 450,
			Ppx: VLCWidth / 2, Ppy: VLCHeight / 2,
		},
		Mounts: map[sensor.Kind]Mount{
			sensor.LeftFront:  {Offset: [3]float64{-0.05, 0, 0}},
			sensor.RightFront: {Offset: [3]float64{0.05, 0, 0}},
		},
		Consent:     consent.Granted,
		PromptDelay: 50 * time.Millisecond,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	return config.ValidateStruct(c)
}
