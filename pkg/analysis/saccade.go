package analysis

import (
	"math"

	"gaze-engine/pkg/gaze"
)

// SaccadeDetector classifies rapid movements between consecutive samples
// using an inter-sample velocity threshold.
type SaccadeDetector struct {
	// VelocityThreshold in px/ms; movement faster than this is a saccade
	VelocityThreshold float64
}

// NewSaccadeDetector creates a detector with the given threshold,
// falling back to the conventional default when unset
func NewSaccadeDetector(velocityThreshold float64) *SaccadeDetector {
	if velocityThreshold <= 0 {
		velocityThreshold = 30
	}
	return &SaccadeDetector{VelocityThreshold: velocityThreshold}
}

// Detect scans consecutive sample pairs. A pair with zero elapsed time emits
// nothing: duplicate timestamps are legal input and must not produce an
// infinite-velocity event. Streams of length < 2 yield no saccades.
func (d *SaccadeDetector) Detect(samples []gaze.GazeSample) []Saccade {
	saccades := make([]Saccade, 0)
	if len(samples) < 2 {
		return saccades
	}

	for i := 1; i < len(samples); i++ {
		prev := samples[i-1]
		curr := samples[i]

		elapsed := curr.TimestampMs - prev.TimestampMs
		if elapsed <= 0 {
			continue
		}

		amplitude := distance(prev.X, prev.Y, curr.X, curr.Y)
		velocity := amplitude / elapsed
		if velocity <= d.VelocityThreshold {
			continue
		}

		saccades = append(saccades, Saccade{
			StartTime: prev.TimestampMs,
			EndTime:   curr.TimestampMs,
			Duration:  elapsed,
			StartX:    prev.X,
			StartY:    prev.Y,
			EndX:      curr.X,
			EndY:      curr.Y,
			Amplitude: amplitude,
			Velocity:  velocity,
			Direction: direction(prev.X, prev.Y, curr.X, curr.Y),
		})
	}

	return saccades
}

// direction returns the movement angle in degrees normalized to [0, 360)
func direction(x1, y1, x2, y2 float64) float64 {
	deg := math.Atan2(y2-y1, x2-x1) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return deg
}
