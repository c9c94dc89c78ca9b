package calibration

import (
	"sync"

	"github.com/golang/geo/r3"

	"github.com/teslashibe/go-stereomark/internal/log"
	"github.com/teslashibe/go-stereomark/pkg/sensor"
)

// DefaultAlpha weights a new measurement equally with the previous position.
const DefaultAlpha = 0.5

// Projector keeps the smoothed world position of the tracked marker for one
// camera. Update is called from the render loop; the read accessors are safe
// for concurrent use.
type Projector struct {
	cal    *Calibration
	mapper UnitPlaneMapper
	alpha  float64

	mu       sync.RWMutex
	position r3.Vector
	measured r3.Vector
	updates  uint64
	misses   int
}

// NewProjector creates a projector starting at the origin. alpha outside
// (0, 1] falls back to DefaultAlpha.
func NewProjector(cal *Calibration, mapper UnitPlaneMapper, alpha float64) *Projector {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &Projector{cal: cal, mapper: mapper, alpha: alpha}
}

// Update advances one tick. When ok is false, or the pixel cannot be mapped,
// the position is left untouched. It returns the current position and
// whether it moved.
func (p *Projector) Update(center sensor.Point, ok bool, pose Pose) (r3.Vector, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !ok {
		p.misses++
		return p.position, false
	}

	measured, err := Project(p.cal, p.mapper, center, pose)
	if err != nil {
		log.Debug("projection skipped", "error", err)
		p.misses++
		return p.position, false
	}

	p.measured = measured
	p.position = Smooth(p.position, measured, p.alpha)
	p.updates++
	p.misses = 0
	return p.position, true
}

// Position returns the smoothed world position.
func (p *Projector) Position() r3.Vector {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.position
}

// Measured returns the last unsmoothed projection.
func (p *Projector) Measured() r3.Vector {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.measured
}

// Misses returns the number of consecutive ticks without a projection.
func (p *Projector) Misses() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.misses
}

// Stale reports whether the position has not been refreshed for at least
// maxMisses ticks, or was never measured. It does not affect Position.
func (p *Projector) Stale(maxMisses int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.updates == 0 {
		return true
	}
	return maxMisses > 0 && p.misses >= maxMisses
}
