package analysis

import (
	"gaze-engine/pkg/gaze"
)

// BuildAttentionMetrics aggregates detector output into the session-level
// attention summary. Scan path length is the sum of saccade amplitudes. The
// per-AOI breakdown attributes each fixation to every area containing its
// centroid; overlapping areas both count it.
func BuildAttentionMetrics(fixations []Fixation, saccades []Saccade, heatmap []HeatmapPoint, areas []gaze.AreaOfInterest) AttentionMetrics {
	metrics := AttentionMetrics{
		TotalFixations: len(fixations),
		TotalSaccades:  len(saccades),
		Heatmap:        heatmap,
	}

	if len(fixations) > 0 {
		totalDuration := 0.0
		for _, f := range fixations {
			totalDuration += f.Duration
		}
		metrics.AverageFixationDuration = totalDuration / float64(len(fixations))
	}

	if len(saccades) > 0 {
		totalVelocity := 0.0
		for _, s := range saccades {
			totalVelocity += s.Velocity
			metrics.ScanPathLength += s.Amplitude
		}
		metrics.AverageSaccadeVelocity = totalVelocity / float64(len(saccades))
	}

	if len(areas) > 0 {
		metrics.AreasOfInterest = aoiBreakdown(fixations, areas)
	}

	return metrics
}

// aoiBreakdown computes per-area fixation statistics, preserving the order
// the areas were registered in
func aoiBreakdown(fixations []Fixation, areas []gaze.AreaOfInterest) []AOIStats {
	stats := make([]AOIStats, len(areas))
	for i, area := range areas {
		stats[i] = AOIStats{ID: area.ID, Name: area.Name}
	}

	for _, f := range fixations {
		for i := range areas {
			if areas[i].Contains(f.X, f.Y) {
				stats[i].FixationCount++
				stats[i].TotalDwellTime += f.Duration
			}
		}
	}

	if len(fixations) > 0 {
		total := float64(len(fixations))
		for i := range stats {
			stats[i].FixationShare = float64(stats[i].FixationCount) / total
		}
	}

	return stats
}
