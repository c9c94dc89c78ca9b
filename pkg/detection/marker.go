// Package detection runs fiducial marker detection on camera frames.
//
// A Detector receives frames from a stream reader through a single-slot
// mailbox and runs the detection Algorithm on its own goroutine, so the
// reader is never blocked by detection. Only the newest undetected frame is
// kept; the latest completed result is published atomically.
package detection

import (
	"cmp"
	"slices"
	"time"

	"github.com/teslashibe/go-stereomark/pkg/sensor"
)

// Marker is one detected fiducial.
type Marker struct {
	ID      int            `json:"id"`
	Corners []sensor.Point `json:"corners"` // Polygon in detection order
	Center  sensor.Point   `json:"center"`  // Arithmetic mean of Corners
}

// Algorithm is a black-box image to markers function. Implementations fill
// ID and Corners; the detector computes centers.
type Algorithm interface {
	Detect(f *sensor.Frame) ([]Marker, error)
	Close() error
}

// Result is the output of one completed detection pass.
type Result struct {
	Markers   []Marker  `json:"markers"` // Ascending by ID
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// First returns the marker with the lowest ID.
func (r *Result) First() (Marker, bool) {
	if r == nil || len(r.Markers) == 0 {
		return Marker{}, false
	}
	return r.Markers[0], true
}

func (r *Result) clone() *Result {
	if r == nil {
		return nil
	}
	out := &Result{Timestamp: r.Timestamp, Seq: r.Seq, Markers: make([]Marker, len(r.Markers))}
	for i, m := range r.Markers {
		m.Corners = slices.Clone(m.Corners)
		out.Markers[i] = m
	}
	return out
}

// Centroid returns the arithmetic mean of the points.
func Centroid(pts []sensor.Point) sensor.Point {
	if len(pts) == 0 {
		return sensor.Point{}
	}
	var sx, sy float64
	for _, p := range pts {
		sx += p.X
		sy += p.Y
	}
	n := float64(len(pts))
	return sensor.Point{X: sx / n, Y: sy / n}
}

// newResult fills centers and orders markers by ID.
func newResult(markers []Marker, f *sensor.Frame) *Result {
	for i := range markers {
		markers[i].Center = Centroid(markers[i].Corners)
	}
	slices.SortStableFunc(markers, func(a, b Marker) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return &Result{Markers: markers, Timestamp: f.Timestamp, Seq: f.Seq}
}
