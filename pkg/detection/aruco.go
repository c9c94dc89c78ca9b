package detection

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-stereomark/pkg/sensor"
)

// DefaultDictionary is the marker family printed for the calibration target.
const DefaultDictionary = "6x6_250"

var dictionaries = map[string]gocv.ArucoDictionaryCode{
	"4x4_50":   gocv.ArucoDict4x4_50,
	"4x4_100":  gocv.ArucoDict4x4_100,
	"4x4_250":  gocv.ArucoDict4x4_250,
	"4x4_1000": gocv.ArucoDict4x4_1000,
	"5x5_50":   gocv.ArucoDict5x5_50,
	"5x5_100":  gocv.ArucoDict5x5_100,
	"5x5_250":  gocv.ArucoDict5x5_250,
	"5x5_1000": gocv.ArucoDict5x5_1000,
	"6x6_50":   gocv.ArucoDict6x6_50,
	"6x6_100":  gocv.ArucoDict6x6_100,
	"6x6_250":  gocv.ArucoDict6x6_250,
	"6x6_1000": gocv.ArucoDict6x6_1000,
	"7x7_50":   gocv.ArucoDict7x7_50,
	"7x7_100":  gocv.ArucoDict7x7_100,
	"7x7_250":  gocv.ArucoDict7x7_250,
	"7x7_1000": gocv.ArucoDict7x7_1000,
}

// Dictionaries lists the supported dictionary names.
func Dictionaries() []string {
	names := make([]string, 0, len(dictionaries))
	for name := range dictionaries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseDictionary maps a name such as "6x6_250" to a predefined dictionary.
func ParseDictionary(name string) (gocv.ArucoDictionaryCode, error) {
	code, ok := dictionaries[strings.ToLower(strings.TrimPrefix(name, "DICT_"))]
	if !ok {
		return 0, fmt.Errorf("unknown aruco dictionary %q", name)
	}
	return code, nil
}

// ArucoAlgorithm detects ArUco markers with OpenCV.
type ArucoAlgorithm struct {
	detector gocv.ArucoDetector
	mu       sync.Mutex // Protects detector
}

// NewAruco creates an ArUco detector for the named predefined dictionary.
func NewAruco(dictionary string) (*ArucoAlgorithm, error) {
	code, err := ParseDictionary(dictionary)
	if err != nil {
		return nil, err
	}

	dict := gocv.GetPredefinedDictionary(code)
	params := gocv.NewArucoDetectorParameters()
	return &ArucoAlgorithm{
		detector: gocv.NewArucoDetectorWithParams(dict, params),
	}, nil
}

// Detect implements Algorithm. The frame's pixels are wrapped, not copied,
// so the caller must hold a reference for the duration of the call.
func (a *ArucoAlgorithm) Detect(f *sensor.Frame) ([]Marker, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("frame %d: pixel buffer does not match %dx%d", f.Seq, f.Resolution.Width, f.Resolution.Height)
	}

	res := f.Resolution
	img, err := gocv.NewMatFromBytes(res.Height, res.Width, gocv.MatTypeCV8U, f.Pixels[:res.Pixels()])
	if err != nil {
		return nil, fmt.Errorf("wrap frame: %w", err)
	}
	defer img.Close()

	a.mu.Lock()
	corners, ids, _ := a.detector.DetectMarkers(img)
	a.mu.Unlock()

	markers := make([]Marker, 0, len(ids))
	for i, id := range ids {
		pts := make([]sensor.Point, len(corners[i]))
		for j, c := range corners[i] {
			pts[j] = sensor.Point{X: float64(c.X), Y: float64(c.Y)}
		}
		markers = append(markers, Marker{ID: id, Corners: pts})
	}
	return markers, nil
}

// Close releases OpenCV resources.
func (a *ArucoAlgorithm) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detector.Close()
	return nil
}
