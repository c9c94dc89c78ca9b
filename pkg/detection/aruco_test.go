package detection

import (
	"testing"
	"time"

	"github.com/teslashibe/go-stereomark/pkg/sensor"
)

func TestParseDictionary(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"6x6_250", false},
		{"DICT_6X6_250", false},
		{"4x4_50", false},
		{"9x9_10", true},
		{"", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDictionary(tc.name)
			if (err != nil) != tc.wantErr {
				t.Errorf("ParseDictionary(%q) error = %v, wantErr %v", tc.name, err, tc.wantErr)
			}
		})
	}
}

func TestArucoAlgorithm_BlankFrame(t *testing.T) {
	alg, err := NewAruco(DefaultDictionary)
	if err != nil {
		t.Fatal(err)
	}
	defer alg.Close()

	res := sensor.Resolution{Width: 64, Height: 48}
	pixels := make([]byte, res.Pixels())
	for i := range pixels {
		pixels[i] = 200
	}
	f := sensor.NewFrame(pixels, res, time.Now(), 1, nil)
	defer f.Release()

	markers, err := alg.Detect(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(markers) != 0 {
		t.Errorf("blank frame produced %d markers", len(markers))
	}
}

func TestArucoAlgorithm_ShortBuffer(t *testing.T) {
	alg, err := NewAruco(DefaultDictionary)
	if err != nil {
		t.Fatal(err)
	}
	defer alg.Close()

	f := sensor.NewFrame(make([]byte, 10), sensor.Resolution{Width: 64, Height: 48}, time.Now(), 1, nil)
	defer f.Release()
	if _, err := alg.Detect(f); err == nil {
		t.Error("expected error for short pixel buffer")
	}
}
