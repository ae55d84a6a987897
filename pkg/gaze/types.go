package gaze

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CaptureType identifies the technology that produced the gaze stream.
// Native device SDKs deliver higher-fidelity data than browser camera capture,
// and several quality baselines are keyed off this tier.
type CaptureType string

const (
	CaptureNative CaptureType = "native"
	CaptureWeb    CaptureType = "web"
)

// SessionStatus represents the lifecycle state of a tracking session
type SessionStatus string

const (
	StatusConnecting   SessionStatus = "connecting"
	StatusTracking     SessionStatus = "tracking"
	StatusCalibrating  SessionStatus = "calibrating"
	StatusDisconnected SessionStatus = "disconnected"
	StatusError        SessionStatus = "error"
)

// IsTerminal reports whether the status admits no further transitions
func (s SessionStatus) IsTerminal() bool {
	return s == StatusDisconnected || s == StatusError
}

// EyePosition holds a single eye's reading within a sample
type EyePosition struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	PupilSize float64 `json:"pupilSize"`
	Validity  float64 `json:"validity"`
}

// GazeSample is one timestamped eye-position reading. Immutable once ingested.
type GazeSample struct {
	X           float64      `json:"x"`
	Y           float64      `json:"y"`
	TimestampMs float64      `json:"timestamp"`
	LeftEye     *EyePosition `json:"leftEye,omitempty"`
	RightEye    *EyePosition `json:"rightEye,omitempty"`
}

// Supported bounds for tracker configuration
const (
	MinSampleRate        = 30
	MaxSampleRate        = 120
	MinCalibrationPoints = 3
	MaxCalibrationPoints = 16
)

// EyeTrackerConfig carries the capture parameters a session was started with
type EyeTrackerConfig struct {
	SampleRate        int     `json:"sampleRate"`
	CalibrationPoints int     `json:"calibrationPoints"`
	SmoothingFactor   float64 `json:"smoothingFactor"`
	TrackingMode      string  `json:"trackingMode"`
}

// ConfigDefaults supplies server-side defaults for omitted tracker settings
type ConfigDefaults struct {
	SampleRate        int
	CalibrationPoints int
	SmoothingFactor   float64
}

// Normalize fills omitted fields from defaults and validates the result
func (c *EyeTrackerConfig) Normalize(defaults ConfigDefaults) error {
	if c.SampleRate == 0 {
		c.SampleRate = defaults.SampleRate
	}
	if c.CalibrationPoints == 0 {
		c.CalibrationPoints = defaults.CalibrationPoints
	}
	if c.SmoothingFactor == 0 {
		c.SmoothingFactor = defaults.SmoothingFactor
	}
	if c.TrackingMode == "" {
		c.TrackingMode = "screen"
	}

	if c.SampleRate < MinSampleRate || c.SampleRate > MaxSampleRate {
		return fmt.Errorf("sample rate %d outside supported range %d-%d", c.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if c.CalibrationPoints < MinCalibrationPoints || c.CalibrationPoints > MaxCalibrationPoints {
		return fmt.Errorf("calibration points %d outside supported range %d-%d", c.CalibrationPoints, MinCalibrationPoints, MaxCalibrationPoints)
	}
	if c.SmoothingFactor < 0 || c.SmoothingFactor > 1 {
		return fmt.Errorf("smoothing factor %v outside 0-1", c.SmoothingFactor)
	}
	if c.TrackingMode != "screen" && c.TrackingMode != "world" {
		return fmt.Errorf("unsupported tracking mode %q", c.TrackingMode)
	}

	return nil
}

// CalibrationPoint is one calibration target with its measured accuracy
type CalibrationPoint struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Accuracy float64 `json:"accuracy"`
}

// CalibrationData summarizes a completed calibration run
type CalibrationData struct {
	Accuracy float64            `json:"accuracy"`
	Points   []CalibrationPoint `json:"points,omitempty"`
}

// AOIShape enumerates the supported area-of-interest geometries
type AOIShape string

const (
	AOIRectangle AOIShape = "rectangle"
	AOICircle    AOIShape = "circle"
	AOIPolygon   AOIShape = "polygon"
)

// Point is a screen-space coordinate pair
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AreaOfInterest is a named screen region used to attribute fixations
// to semantic content. Rectangles use X/Y as the top-left origin; circles
// use X/Y as the center. Polygons are matched by their bounding box.
type AreaOfInterest struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Shape    AOIShape `json:"shape"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Width    float64  `json:"width,omitempty"`
	Height   float64  `json:"height,omitempty"`
	Radius   float64  `json:"radius,omitempty"`
	Vertices []Point  `json:"vertices,omitempty"`
}

// Validate checks the AOI's geometry is usable
func (a *AreaOfInterest) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("area of interest missing id")
	}

	switch a.Shape {
	case AOIRectangle:
		if a.Width <= 0 || a.Height <= 0 {
			return fmt.Errorf("rectangle AOI %s requires positive width and height", a.ID)
		}
	case AOICircle:
		if a.Radius <= 0 {
			return fmt.Errorf("circle AOI %s requires a positive radius", a.ID)
		}
	case AOIPolygon:
		if len(a.Vertices) < 3 {
			return fmt.Errorf("polygon AOI %s requires at least 3 vertices", a.ID)
		}
	default:
		return fmt.Errorf("unsupported AOI shape %q", a.Shape)
	}

	return nil
}

// Contains reports whether the given point falls inside the AOI
func (a *AreaOfInterest) Contains(x, y float64) bool {
	switch a.Shape {
	case AOIRectangle:
		return x >= a.X && x <= a.X+a.Width && y >= a.Y && y <= a.Y+a.Height
	case AOICircle:
		dx := x - a.X
		dy := y - a.Y
		return math.Sqrt(dx*dx+dy*dy) <= a.Radius
	case AOIPolygon:
		// Bounding-box match
		if len(a.Vertices) == 0 {
			return false
		}
		minX, minY := a.Vertices[0].X, a.Vertices[0].Y
		maxX, maxY := minX, minY
		for _, v := range a.Vertices[1:] {
			minX = math.Min(minX, v.X)
			minY = math.Min(minY, v.Y)
			maxX = math.Max(maxX, v.X)
			maxY = math.Max(maxY, v.Y)
		}
		return x >= minX && x <= maxX && y >= minY && y <= maxY
	default:
		return false
	}
}

// Default screen dimensions assumed until the capture device reports its own
const (
	DefaultScreenWidth  = 1920.0
	DefaultScreenHeight = 1080.0
)

// SessionMetadata carries device and running-aggregate information
type SessionMetadata struct {
	ScreenWidth     float64 `json:"screenWidth"`
	ScreenHeight    float64 `json:"screenHeight"`
	DurationMs      float64 `json:"durationMs"`
	PointCount      int     `json:"pointCount"`
	AverageAccuracy float64 `json:"averageAccuracy"`
}

// Session is one participant's tracking session. The in-memory copy is the
// active-session cache; the durable store holds the source of truth.
type Session struct {
	SessionID       string           `json:"sessionId"`
	ParticipantID   string           `json:"participantId"`
	TestID          string           `json:"testId,omitempty"`
	CaptureType     CaptureType      `json:"captureType"`
	StartTime       time.Time        `json:"startTime"`
	EndTime         *time.Time       `json:"endTime,omitempty"`
	Status          SessionStatus    `json:"status"`
	Config          EyeTrackerConfig `json:"config"`
	Calibration     *CalibrationData `json:"calibration,omitempty"`
	AreasOfInterest []AreaOfInterest `json:"areasOfInterest,omitempty"`
	Samples         []GazeSample     `json:"samples"`
	Metadata        SessionMetadata  `json:"metadata"`

	// mu serializes all mutation of this session; one lock per session,
	// never a registry-wide lock
	mu sync.Mutex

	// lastSampleAt feeds the idle reaper
	lastSampleAt time.Time

	// flushedCount tracks how many samples have reached the durable store
	flushedCount int

	// flushing marks a durable write in progress so the reaper skips the session
	flushing bool

	// retired marks the session as released from active accounting; it may
	// still sit in the registry awaiting a flush retry
	retired bool
}

// NewSessionID generates a process-unique session identifier
func NewSessionID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("gaze-session-%d-%s", time.Now().UnixMilli(), suffix)
}

// LastSample returns the most recently ingested sample, if any
func (s *Session) LastSample() (GazeSample, bool) {
	if len(s.Samples) == 0 {
		return GazeSample{}, false
	}
	return s.Samples[len(s.Samples)-1], true
}

// SampleCount returns the number of ingested samples under the session lock
func (s *Session) SampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Samples)
}

// CopySamples returns a snapshot of the sample log under the session lock
func (s *Session) CopySamples() []GazeSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]GazeSample, len(s.Samples))
	copy(out, s.Samples)
	return out
}

// ScreenBounds returns the effective screen dimensions for validation
func (s *Session) ScreenBounds() (width, height float64) {
	width = s.Metadata.ScreenWidth
	height = s.Metadata.ScreenHeight
	if width <= 0 {
		width = DefaultScreenWidth
	}
	if height <= 0 {
		height = DefaultScreenHeight
	}
	return width, height
}

// SessionSummary is the per-session line item in active-session stats
type SessionSummary struct {
	SessionID     string        `json:"sessionId"`
	ParticipantID string        `json:"participantId"`
	TestID        string        `json:"testId,omitempty"`
	Status        SessionStatus `json:"status"`
	StartTime     time.Time     `json:"startTime"`
	SampleCount   int           `json:"sampleCount"`
	DurationMs    float64       `json:"durationMs"`
}

// Summary builds a summary line for the session under its lock
func (s *Session) Summary(now time.Time) SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	duration := now.Sub(s.StartTime)
	if s.EndTime != nil {
		duration = s.EndTime.Sub(s.StartTime)
	}

	return SessionSummary{
		SessionID:     s.SessionID,
		ParticipantID: s.ParticipantID,
		TestID:        s.TestID,
		Status:        s.Status,
		StartTime:     s.StartTime,
		SampleCount:   len(s.Samples),
		DurationMs:    float64(duration.Milliseconds()),
	}
}
