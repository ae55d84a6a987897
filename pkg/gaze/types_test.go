package gaze

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSessionIDFormat(t *testing.T) {
	id := NewSessionID()

	assert.True(t, strings.HasPrefix(id, "gaze-session-"))
	parts := strings.Split(id, "-")
	// gaze-session-<millis>-<8 hex chars>
	assert.Len(t, parts, 4)
	assert.Len(t, parts[3], 8)

	assert.NotEqual(t, id, NewSessionID())
}

func TestConfigNormalizeDefaults(t *testing.T) {
	defaults := ConfigDefaults{SampleRate: 60, CalibrationPoints: 9, SmoothingFactor: 0.7}

	cfg := EyeTrackerConfig{}
	assert.NoError(t, cfg.Normalize(defaults))
	assert.Equal(t, 60, cfg.SampleRate)
	assert.Equal(t, 9, cfg.CalibrationPoints)
	assert.Equal(t, 0.7, cfg.SmoothingFactor)
	assert.Equal(t, "screen", cfg.TrackingMode)
}

func TestConfigNormalizeBounds(t *testing.T) {
	defaults := ConfigDefaults{SampleRate: 60, CalibrationPoints: 9, SmoothingFactor: 0.7}

	cases := []struct {
		name string
		cfg  EyeTrackerConfig
	}{
		{"sample rate too high", EyeTrackerConfig{SampleRate: 1000}},
		{"sample rate too low", EyeTrackerConfig{SampleRate: 10}},
		{"too few calibration points", EyeTrackerConfig{CalibrationPoints: 2}},
		{"smoothing above one", EyeTrackerConfig{SmoothingFactor: 1.5}},
		{"unknown tracking mode", EyeTrackerConfig{TrackingMode: "orbit"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.cfg.Normalize(defaults))
		})
	}
}

func TestAOIValidation(t *testing.T) {
	valid := AreaOfInterest{ID: "a", Shape: AOIRectangle, Width: 10, Height: 10}
	assert.NoError(t, valid.Validate())

	cases := []AreaOfInterest{
		{Shape: AOIRectangle, Width: 10, Height: 10}, // missing id
		{ID: "a", Shape: AOIRectangle},               // zero dimensions
		{ID: "b", Shape: AOICircle},                  // zero radius
		{ID: "c", Shape: AOIPolygon, Vertices: []Point{{0, 0}, {1, 1}}},
		{ID: "d", Shape: "hexagon"},
	}

	for _, aoi := range cases {
		assert.Error(t, aoi.Validate())
	}
}

func TestAOIContains(t *testing.T) {
	rect := AreaOfInterest{ID: "r", Shape: AOIRectangle, X: 100, Y: 100, Width: 200, Height: 100}
	assert.True(t, rect.Contains(150, 150))
	assert.True(t, rect.Contains(100, 100))
	assert.True(t, rect.Contains(300, 200))
	assert.False(t, rect.Contains(301, 150))

	circle := AreaOfInterest{ID: "c", Shape: AOICircle, X: 500, Y: 500, Radius: 50}
	assert.True(t, circle.Contains(500, 500))
	assert.True(t, circle.Contains(550, 500))
	assert.False(t, circle.Contains(551, 500))

	polygon := AreaOfInterest{ID: "p", Shape: AOIPolygon,
		Vertices: []Point{{0, 0}, {100, 0}, {50, 100}}}
	assert.True(t, polygon.Contains(50, 50))
	assert.False(t, polygon.Contains(200, 50))
}

func TestScreenBoundsDefaults(t *testing.T) {
	session := &Session{}
	width, height := session.ScreenBounds()
	assert.Equal(t, DefaultScreenWidth, width)
	assert.Equal(t, DefaultScreenHeight, height)

	session.Metadata.ScreenWidth = 2560
	session.Metadata.ScreenHeight = 1440
	width, height = session.ScreenBounds()
	assert.Equal(t, 2560.0, width)
	assert.Equal(t, 1440.0, height)
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusConnecting.IsTerminal())
	assert.False(t, StatusTracking.IsTerminal())
	assert.False(t, StatusCalibrating.IsTerminal())
	assert.True(t, StatusDisconnected.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
}
