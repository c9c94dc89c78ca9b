package sim

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-stereomark/pkg/sensor"
)

// FrameSource fills a grayscale buffer for the next frame of a camera.
type FrameSource interface {
	Fill(kind sensor.Kind, seq uint64, res sensor.Resolution, dst []byte) error
}

// FlatSource produces a uniform image.
type FlatSource struct {
	Level byte
}

// Fill implements FrameSource.
func (s FlatSource) Fill(_ sensor.Kind, _ uint64, _ sensor.Resolution, dst []byte) error {
	for i := range dst {
		dst[i] = s.Level
	}
	return nil
}

// ReplaySource cycles through recorded grayscale frames loaded from disk.
// A directory may contain per-camera subdirectories named after the camera
// kind (left_front, right_front); otherwise all cameras share the top level.
type ReplaySource struct {
	frames map[sensor.Kind][][]byte
	shared [][]byte
}

var replayExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".pgm": true, ".bmp": true}

// NewReplaySource decodes every image under dir, resized to res.
func NewReplaySource(dir string, res sensor.Resolution) (*ReplaySource, error) {
	s := &ReplaySource{frames: make(map[sensor.Kind][][]byte)}

	for _, kind := range sensor.Kinds() {
		sub := filepath.Join(dir, kind.String())
		if info, err := os.Stat(sub); err == nil && info.IsDir() {
			frames, err := loadFrames(sub, res)
			if err != nil {
				return nil, err
			}
			s.frames[kind] = frames
		}
	}

	shared, err := loadFrames(dir, res)
	if err != nil {
		return nil, err
	}
	s.shared = shared

	if len(s.shared) == 0 && len(s.frames) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	return s, nil
}

// Fill implements FrameSource.
func (s *ReplaySource) Fill(kind sensor.Kind, seq uint64, _ sensor.Resolution, dst []byte) error {
	frames := s.frames[kind]
	if len(frames) == 0 {
		frames = s.shared
	}
	if len(frames) == 0 {
		return fmt.Errorf("no replay frames for %s", kind)
	}
	copy(dst, frames[seq%uint64(len(frames))])
	return nil
}

// Len returns the number of frames available to kind.
func (s *ReplaySource) Len(kind sensor.Kind) int {
	if n := len(s.frames[kind]); n > 0 {
		return n
	}
	return len(s.shared)
}

func loadFrames(dir string, res sensor.Resolution) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read replay dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !replayExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	frames := make([][]byte, 0, len(names))
	for _, name := range names {
		buf, err := loadGray(filepath.Join(dir, name), res)
		if err != nil {
			return nil, err
		}
		frames = append(frames, buf)
	}
	return frames, nil
}

func loadGray(path string, res sensor.Resolution) ([]byte, error) {
	img := gocv.IMRead(path, gocv.IMReadGrayScale)
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("decode %s: empty image", path)
	}

	if img.Cols() != res.Width || img.Rows() != res.Height {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(img, &resized, image.Pt(res.Width, res.Height), 0, 0, gocv.InterpolationLinear)
		return resized.ToBytes(), nil
	}
	return img.ToBytes(), nil
}
