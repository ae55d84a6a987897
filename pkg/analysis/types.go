package analysis

import (
	"time"

	"gaze-engine/pkg/analyzer"
)

// Fixation is a sustained, low-dispersion gaze cluster. Derived, immutable.
type Fixation struct {
	StartTime  float64 `json:"startTime"`
	EndTime    float64 `json:"endTime"`
	Duration   float64 `json:"duration"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// Saccade is a rapid gaze movement between fixations. Derived, immutable.
type Saccade struct {
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	Duration  float64 `json:"duration"`
	StartX    float64 `json:"startX"`
	StartY    float64 `json:"startY"`
	EndX      float64 `json:"endX"`
	EndY      float64 `json:"endY"`
	Amplitude float64 `json:"amplitude"`
	Velocity  float64 `json:"velocity"`
	Direction float64 `json:"direction"`
}

// HeatmapPoint is one non-empty grid cell with its normalized intensity.
// X and Y are the cell's top-left corner.
type HeatmapPoint struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Intensity float64 `json:"intensity"`
}

// QualityMetrics summarizes how trustworthy a session's data is
type QualityMetrics struct {
	DataLossRate       float64 `json:"dataLossRate"`
	AverageAccuracy    float64 `json:"averageAccuracy"`
	TrackingStability  float64 `json:"trackingStability"`
	CalibrationQuality float64 `json:"calibrationQuality"`
}

// AOIStats is the per-area breakdown inside the attention metrics
type AOIStats struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	FixationCount  int     `json:"fixationCount"`
	TotalDwellTime float64 `json:"totalDwellTimeMs"`
	FixationShare  float64 `json:"fixationShare"`
}

// AttentionMetrics aggregates fixations, saccades, the heatmap and the
// per-AOI breakdown
type AttentionMetrics struct {
	TotalFixations          int            `json:"totalFixations"`
	AverageFixationDuration float64        `json:"averageFixationDuration"`
	TotalSaccades           int            `json:"totalSaccades"`
	AverageSaccadeVelocity  float64        `json:"averageSaccadeVelocity"`
	ScanPathLength          float64        `json:"scanPathLength"`
	Heatmap                 []HeatmapPoint `json:"heatmap"`
	AreasOfInterest         []AOIStats     `json:"areasOfInterest,omitempty"`
}

// Analysis is the immutable record produced for a completed session.
// Re-running analysis produces a new AnalysisID; prior records are never
// mutated.
type Analysis struct {
	AnalysisID      string           `json:"analysisId"`
	SessionID       string           `json:"sessionId"`
	ParticipantID   string           `json:"participantId"`
	CreatedAt       time.Time        `json:"createdAt"`
	Fixations       []Fixation       `json:"fixations"`
	Saccades        []Saccade        `json:"saccades"`
	Attention       AttentionMetrics `json:"attentionMetrics"`
	Quality         QualityMetrics   `json:"qualityMetrics"`
	Recommendations []string         `json:"recommendations"`
	External        *analyzer.Result `json:"external,omitempty"`
}
