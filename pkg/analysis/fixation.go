package analysis

import (
	"math"

	"gaze-engine/pkg/gaze"
)

// Fixation confidence per capture tier. Native SDKs deliver cleaner signal
// than browser camera capture, so their clusters are trusted more.
const (
	fixationConfidenceNative = 0.9
	fixationConfidenceWeb    = 0.75
)

// FixationDetector finds low-dispersion gaze clusters in an ordered sample
// sequence. Dispersion-based: a cluster grows while samples stay within the
// distance threshold of its anchor, and becomes a fixation when its time span
// reaches the duration threshold.
type FixationDetector struct {
	// DistanceThresholdPx is the maximum distance from the cluster anchor.
	// A sample exactly at the threshold is inside the cluster.
	DistanceThresholdPx float64

	// DurationThresholdMs is the minimum cluster time span for a fixation
	DurationThresholdMs float64
}

// NewFixationDetector creates a detector with the given thresholds,
// falling back to the conventional defaults when unset
func NewFixationDetector(distanceThresholdPx, durationThresholdMs float64) *FixationDetector {
	if distanceThresholdPx <= 0 {
		distanceThresholdPx = 50
	}
	if durationThresholdMs <= 0 {
		durationThresholdMs = 100
	}
	return &FixationDetector{
		DistanceThresholdPx: distanceThresholdPx,
		DurationThresholdMs: durationThresholdMs,
	}
}

// Detect runs the dispersion clustering over the full sample sequence.
// Streams of length 0 or 1 yield no fixations.
func (d *FixationDetector) Detect(samples []gaze.GazeSample, captureType gaze.CaptureType) []Fixation {
	fixations := make([]Fixation, 0)
	if len(samples) < 2 {
		return fixations
	}

	confidence := fixationConfidenceWeb
	if captureType == gaze.CaptureNative {
		confidence = fixationConfidenceNative
	}

	anchor := samples[0]
	clusterStart := samples[0]
	clusterEnd := samples[0]

	for _, sample := range samples[1:] {
		if distance(anchor.X, anchor.Y, sample.X, sample.Y) <= d.DistanceThresholdPx {
			clusterEnd = sample
			continue
		}

		// Cluster broken; emit it if it lasted long enough
		if f, ok := d.closeCluster(anchor, clusterStart, clusterEnd, confidence); ok {
			fixations = append(fixations, f)
		}

		anchor = sample
		clusterStart = sample
		clusterEnd = sample
	}

	// Flush the open cluster at end of stream
	if f, ok := d.closeCluster(anchor, clusterStart, clusterEnd, confidence); ok {
		fixations = append(fixations, f)
	}

	return fixations
}

// closeCluster turns a finished cluster into a fixation when its span meets
// the duration threshold. The centroid is the anchor point.
func (d *FixationDetector) closeCluster(anchor, start, end gaze.GazeSample, confidence float64) (Fixation, bool) {
	span := end.TimestampMs - start.TimestampMs
	if span < d.DurationThresholdMs {
		return Fixation{}, false
	}

	return Fixation{
		StartTime:  start.TimestampMs,
		EndTime:    end.TimestampMs,
		Duration:   span,
		X:          anchor.X,
		Y:          anchor.Y,
		Confidence: confidence,
	}, true
}

// distance returns the Euclidean distance between two points
func distance(x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	return math.Sqrt(dx*dx + dy*dy)
}
