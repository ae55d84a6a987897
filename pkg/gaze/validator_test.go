package gaze

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gaze-engine/pkg/errors"
)

func TestValidateSampleAccepts(t *testing.T) {
	sample := GazeSample{
		X: 960, Y: 540, TimestampMs: 100,
		LeftEye:  &EyePosition{X: 958, Y: 540, PupilSize: 3.2, Validity: 0.95},
		RightEye: &EyePosition{X: 962, Y: 541, PupilSize: 3.1, Validity: 0.97},
	}

	assert.NoError(t, ValidateSample(sample, 1920, 1080, 50))
}

func TestValidateSampleRejections(t *testing.T) {
	cases := []struct {
		name   string
		sample GazeSample
		prevTS float64
		reason string
	}{
		{
			name:   "negative x",
			sample: GazeSample{X: -1, Y: 10, TimestampMs: 1},
			reason: "negative_coordinate",
		},
		{
			name:   "beyond screen bounds",
			sample: GazeSample{X: 2000, Y: 10, TimestampMs: 1},
			reason: "out_of_bounds",
		},
		{
			name:   "zero timestamp",
			sample: GazeSample{X: 10, Y: 10, TimestampMs: 0},
			reason: "bad_timestamp",
		},
		{
			name:   "timestamp regression",
			sample: GazeSample{X: 10, Y: 10, TimestampMs: 40},
			prevTS: 50,
			reason: "out_of_order",
		},
		{
			name: "validity outside range",
			sample: GazeSample{X: 10, Y: 10, TimestampMs: 60,
				LeftEye: &EyePosition{PupilSize: 3, Validity: 1.5}},
			reason: "bad_validity",
		},
		{
			name: "non-positive pupil size",
			sample: GazeSample{X: 10, Y: 10, TimestampMs: 60,
				RightEye: &EyePosition{PupilSize: 0, Validity: 0.9}},
			reason: "bad_pupil_size",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSample(tc.sample, 1920, 1080, tc.prevTS)
			assert.Error(t, err)
			assert.True(t, errors.IsErrorType(err, errors.ErrInvalidSample))
			assert.Equal(t, tc.reason, errors.GetErrorFields(err)["reason"])
		})
	}
}

func TestValidateSampleEqualTimestampAccepted(t *testing.T) {
	sample := GazeSample{X: 10, Y: 10, TimestampMs: 50}
	assert.NoError(t, ValidateSample(sample, 1920, 1080, 50))
}

func TestSampleIsValid(t *testing.T) {
	threshold := 0.5

	// No eye data at all is invalid
	assert.False(t, SampleIsValid(GazeSample{X: 1, Y: 1, TimestampMs: 1}, threshold))

	// Single eye above threshold is valid
	oneEye := GazeSample{X: 1, Y: 1, TimestampMs: 1,
		LeftEye: &EyePosition{PupilSize: 3, Validity: 0.8}}
	assert.True(t, SampleIsValid(oneEye, threshold))

	// Any reported eye at or below the threshold invalidates the sample
	mixed := GazeSample{X: 1, Y: 1, TimestampMs: 1,
		LeftEye:  &EyePosition{PupilSize: 3, Validity: 0.9},
		RightEye: &EyePosition{PupilSize: 3, Validity: 0.5}}
	assert.False(t, SampleIsValid(mixed, threshold))
}
