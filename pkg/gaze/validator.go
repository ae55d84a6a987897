package gaze

import (
	"fmt"

	"gaze-engine/pkg/errors"
)

// ValidateSample checks a single incoming sample against screen bounds and
// the previous sample's timestamp. Stateless; callers supply the context.
// prevTimestampMs is 0 when the session has no samples yet. Equal timestamps
// are accepted, earlier ones rejected: silently reordering samples would make
// detector output non-deterministic.
func ValidateSample(sample GazeSample, maxX, maxY, prevTimestampMs float64) error {
	if sample.X < 0 || sample.Y < 0 {
		return errors.NewInvalidSample(
			fmt.Sprintf("negative coordinates (%v, %v)", sample.X, sample.Y),
			map[string]interface{}{"reason": "negative_coordinate"})
	}

	if sample.X > maxX || sample.Y > maxY {
		return errors.NewInvalidSample(
			fmt.Sprintf("coordinates (%v, %v) exceed screen bounds (%v, %v)", sample.X, sample.Y, maxX, maxY),
			map[string]interface{}{"reason": "out_of_bounds"})
	}

	if sample.TimestampMs <= 0 {
		return errors.NewInvalidSample(
			fmt.Sprintf("non-positive timestamp %v", sample.TimestampMs),
			map[string]interface{}{"reason": "bad_timestamp"})
	}

	if sample.TimestampMs < prevTimestampMs {
		return errors.NewInvalidSample(
			fmt.Sprintf("timestamp %v earlier than previous sample %v", sample.TimestampMs, prevTimestampMs),
			map[string]interface{}{"reason": "out_of_order"})
	}

	if err := validateEye("left", sample.LeftEye); err != nil {
		return err
	}
	if err := validateEye("right", sample.RightEye); err != nil {
		return err
	}

	return nil
}

// validateEye checks an optional per-eye reading
func validateEye(side string, eye *EyePosition) error {
	if eye == nil {
		return nil
	}

	if eye.Validity < 0 || eye.Validity > 1 {
		return errors.NewInvalidSample(
			fmt.Sprintf("%s eye validity %v outside 0-1", side, eye.Validity),
			map[string]interface{}{"reason": "bad_validity"})
	}

	if eye.PupilSize <= 0 {
		return errors.NewInvalidSample(
			fmt.Sprintf("%s eye pupil size %v must be positive", side, eye.PupilSize),
			map[string]interface{}{"reason": "bad_pupil_size"})
	}

	return nil
}

// SampleIsValid reports whether a sample counts as valid for quality
// accounting: every reported eye must exceed the validity threshold, and a
// sample with no eye data at all counts as invalid.
func SampleIsValid(sample GazeSample, validityThreshold float64) bool {
	if sample.LeftEye == nil && sample.RightEye == nil {
		return false
	}

	if sample.LeftEye != nil && sample.LeftEye.Validity <= validityThreshold {
		return false
	}
	if sample.RightEye != nil && sample.RightEye.Validity <= validityThreshold {
		return false
	}

	return true
}
