package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gaze-engine/pkg/gaze"
)

func TestAttentionMetricsEmptyInput(t *testing.T) {
	metrics := BuildAttentionMetrics(nil, nil, nil, nil)

	assert.Equal(t, 0, metrics.TotalFixations)
	assert.Equal(t, 0, metrics.TotalSaccades)
	assert.Equal(t, 0.0, metrics.AverageFixationDuration)
	assert.Equal(t, 0.0, metrics.AverageSaccadeVelocity)
	assert.Equal(t, 0.0, metrics.ScanPathLength)
	assert.Nil(t, metrics.AreasOfInterest)
}

func TestAttentionMetricsAggregates(t *testing.T) {
	fixations := []Fixation{
		{X: 100, Y: 100, Duration: 200},
		{X: 400, Y: 400, Duration: 100},
	}
	saccades := []Saccade{
		{Amplitude: 300, Velocity: 40},
		{Amplitude: 100, Velocity: 60},
	}

	metrics := BuildAttentionMetrics(fixations, saccades, nil, nil)

	assert.Equal(t, 2, metrics.TotalFixations)
	assert.Equal(t, 150.0, metrics.AverageFixationDuration)
	assert.Equal(t, 2, metrics.TotalSaccades)
	assert.Equal(t, 50.0, metrics.AverageSaccadeVelocity)
	assert.Equal(t, 400.0, metrics.ScanPathLength)
}

func TestAttentionAOIBreakdown(t *testing.T) {
	areas := []gaze.AreaOfInterest{
		{ID: "header", Name: "Header", Shape: gaze.AOIRectangle, X: 0, Y: 0, Width: 1920, Height: 200},
		{ID: "logo", Name: "Logo", Shape: gaze.AOICircle, X: 100, Y: 100, Radius: 50},
	}

	fixations := []Fixation{
		// Inside both the header rectangle and the logo circle
		{X: 110, Y: 90, Duration: 300},
		// Header only
		{X: 900, Y: 150, Duration: 100},
		// Outside both
		{X: 900, Y: 800, Duration: 200},
	}

	metrics := BuildAttentionMetrics(fixations, nil, nil, areas)

	if assert.Len(t, metrics.AreasOfInterest, 2) {
		header := metrics.AreasOfInterest[0]
		assert.Equal(t, "header", header.ID)
		assert.Equal(t, 2, header.FixationCount)
		assert.Equal(t, 400.0, header.TotalDwellTime)
		assert.InDelta(t, 2.0/3.0, header.FixationShare, 1e-9)

		logo := metrics.AreasOfInterest[1]
		assert.Equal(t, 1, logo.FixationCount)
		assert.Equal(t, 300.0, logo.TotalDwellTime)
	}
}

func TestAttentionAOIWithNoFixations(t *testing.T) {
	areas := []gaze.AreaOfInterest{
		{ID: "a", Name: "A", Shape: gaze.AOIRectangle, X: 0, Y: 0, Width: 10, Height: 10},
	}

	metrics := BuildAttentionMetrics(nil, nil, nil, areas)
	if assert.Len(t, metrics.AreasOfInterest, 1) {
		assert.Equal(t, 0, metrics.AreasOfInterest[0].FixationCount)
		assert.Equal(t, 0.0, metrics.AreasOfInterest[0].FixationShare)
	}
}
