package analysis

import (
	"gaze-engine/pkg/gaze"
)

// Fixed quality baselines per capture tier. These are platform priors, not
// measurements: native SDKs are trusted more than browser camera capture.
const (
	accuracyBaselineNative  = 0.95
	accuracyBaselineWeb     = 0.85
	stabilityBaselineNative = 0.9
	stabilityBaselineWeb    = 0.8

	// Assumed when the session never reported a calibration run
	defaultCalibrationQuality = 0.8
)

// Thresholds that trigger quality recommendations
const (
	dataLossWarnThreshold    = 0.2
	calibrationWarnThreshold = 0.8
	stabilityWarnThreshold   = 0.7
)

// QualityAssessor scores a session's data trustworthiness
type QualityAssessor struct {
	// ValidityThreshold is the per-eye validity cutoff for a sample to count
	// as valid
	ValidityThreshold float64
}

// NewQualityAssessor creates an assessor with the given validity cutoff,
// falling back to the conventional default when unset
func NewQualityAssessor(validityThreshold float64) *QualityAssessor {
	if validityThreshold <= 0 {
		validityThreshold = 0.5
	}
	return &QualityAssessor{ValidityThreshold: validityThreshold}
}

// Assess computes the quality metrics for a sample stream. A session with
// zero samples reports zero data loss: no data was offered, so none was lost.
func (q *QualityAssessor) Assess(samples []gaze.GazeSample, captureType gaze.CaptureType, calibration *gaze.CalibrationData) QualityMetrics {
	validCount := 0
	for _, sample := range samples {
		if gaze.SampleIsValid(sample, q.ValidityThreshold) {
			validCount++
		}
	}

	lossRate := 0.0
	if len(samples) > 0 {
		lossRate = float64(len(samples)-validCount) / float64(len(samples))
	}

	accuracy := accuracyBaselineWeb
	stability := stabilityBaselineWeb
	if captureType == gaze.CaptureNative {
		accuracy = accuracyBaselineNative
		stability = stabilityBaselineNative
	}
	if validCount == 0 {
		accuracy = 0
	}

	calibrationQuality := defaultCalibrationQuality
	if calibration != nil && calibration.Accuracy > 0 {
		calibrationQuality = calibration.Accuracy
	}

	return QualityMetrics{
		DataLossRate:       lossRate,
		AverageAccuracy:    accuracy,
		TrackingStability:  stability,
		CalibrationQuality: calibrationQuality,
	}
}

// Recommendations derives actionable advice from the quality metrics.
// An empty slice means the session looks healthy.
func (q *QualityAssessor) Recommendations(metrics QualityMetrics, captureType gaze.CaptureType) []string {
	recommendations := make([]string, 0)

	if metrics.DataLossRate > dataLossWarnThreshold {
		recommendations = append(recommendations,
			"High data loss detected. Ensure the participant stays within the tracker's operating range and the camera lens is clean.")
	}

	if metrics.CalibrationQuality < calibrationWarnThreshold {
		recommendations = append(recommendations,
			"Calibration quality is below target. Re-run calibration before the next session.")
	}

	if metrics.TrackingStability < stabilityWarnThreshold {
		recommendations = append(recommendations,
			"Tracking stability is low. Reduce head movement and check ambient lighting.")
	}

	if captureType == gaze.CaptureWeb && len(recommendations) > 0 {
		recommendations = append(recommendations,
			"Browser-based capture has reduced fidelity. Consider a native tracker for higher-precision studies.")
	}

	return recommendations
}
