package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gaze-engine/pkg/gaze"
)

func sampleAt(x, y, ts float64) gaze.GazeSample {
	return gaze.GazeSample{X: x, Y: y, TimestampMs: ts}
}

func TestFixationDetectorShortStreams(t *testing.T) {
	detector := NewFixationDetector(50, 100)

	assert.Empty(t, detector.Detect(nil, gaze.CaptureWeb))
	assert.Empty(t, detector.Detect([]gaze.GazeSample{sampleAt(10, 10, 1)}, gaze.CaptureWeb))
}

func TestFixationDetectorDiscardsShortClusters(t *testing.T) {
	detector := NewFixationDetector(50, 100)

	// Two-point cluster spanning only 50ms, then a far jump
	samples := []gaze.GazeSample{
		sampleAt(100, 100, 0),
		sampleAt(105, 98, 50),
		sampleAt(500, 500, 200),
	}

	fixations := detector.Detect(samples, gaze.CaptureWeb)
	assert.Empty(t, fixations, "cluster below the duration threshold must be discarded")
}

func TestFixationDetectorEmitsCluster(t *testing.T) {
	detector := NewFixationDetector(50, 100)

	samples := []gaze.GazeSample{
		sampleAt(100, 100, 0),
		sampleAt(105, 98, 50),
		sampleAt(102, 103, 120),
		sampleAt(500, 500, 200),
	}

	fixations := detector.Detect(samples, gaze.CaptureNative)
	if assert.Len(t, fixations, 1) {
		f := fixations[0]
		// Centroid is the cluster anchor
		assert.Equal(t, 100.0, f.X)
		assert.Equal(t, 100.0, f.Y)
		assert.Equal(t, 0.0, f.StartTime)
		assert.Equal(t, 120.0, f.EndTime)
		assert.Equal(t, 120.0, f.Duration)
		assert.Equal(t, 0.9, f.Confidence)
	}
}

func TestFixationDetectorFlushesFinalCluster(t *testing.T) {
	detector := NewFixationDetector(50, 100)

	// The stream ends while a qualifying cluster is still open
	samples := []gaze.GazeSample{
		sampleAt(300, 300, 0),
		sampleAt(305, 301, 80),
		sampleAt(301, 299, 150),
	}

	fixations := detector.Detect(samples, gaze.CaptureWeb)
	if assert.Len(t, fixations, 1) {
		assert.Equal(t, 150.0, fixations[0].Duration)
		assert.Equal(t, 0.75, fixations[0].Confidence)
	}
}

func TestFixationDetectorThresholdBoundaryIsInside(t *testing.T) {
	detector := NewFixationDetector(50, 100)

	// Second sample sits exactly at the distance threshold
	samples := []gaze.GazeSample{
		sampleAt(0, 0, 0),
		sampleAt(50, 0, 60),
		sampleAt(30, 0, 120),
	}

	fixations := detector.Detect(samples, gaze.CaptureWeb)
	if assert.Len(t, fixations, 1) {
		assert.Equal(t, 120.0, fixations[0].Duration)
	}
}

func TestFixationDurationNeverBelowThreshold(t *testing.T) {
	detector := NewFixationDetector(50, 100)

	// Alternating short dwells and jumps
	samples := []gaze.GazeSample{
		sampleAt(0, 0, 0),
		sampleAt(2, 2, 30),
		sampleAt(200, 200, 60),
		sampleAt(202, 199, 140),
		sampleAt(600, 600, 180),
		sampleAt(601, 602, 400),
		sampleAt(900, 100, 450),
	}

	for _, f := range detector.Detect(samples, gaze.CaptureWeb) {
		assert.GreaterOrEqual(t, f.Duration, detector.DurationThresholdMs)
	}
}

func TestFixationConfidenceByCaptureTier(t *testing.T) {
	detector := NewFixationDetector(50, 100)

	samples := []gaze.GazeSample{
		sampleAt(10, 10, 0),
		sampleAt(12, 9, 150),
	}

	native := detector.Detect(samples, gaze.CaptureNative)
	web := detector.Detect(samples, gaze.CaptureWeb)

	if assert.Len(t, native, 1) && assert.Len(t, web, 1) {
		assert.Equal(t, 0.9, native[0].Confidence)
		assert.Equal(t, 0.75, web[0].Confidence)
	}
}
