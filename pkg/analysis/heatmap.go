package analysis

import (
	"math"
	"sort"

	"gaze-engine/pkg/gaze"
)

// HeatmapAggregator bins sample coordinates into a uniform spatial grid
type HeatmapAggregator struct {
	// CellSizePx is the grid cell edge length in pixels
	CellSizePx float64
}

// NewHeatmapAggregator creates an aggregator with the given cell size,
// falling back to the conventional default when unset
func NewHeatmapAggregator(cellSizePx float64) *HeatmapAggregator {
	if cellSizePx <= 0 {
		cellSizePx = 50
	}
	return &HeatmapAggregator{CellSizePx: cellSizePx}
}

type gridCell struct {
	col, row int
}

// Aggregate counts samples per grid cell and emits one point per non-empty
// cell with intensity = count / totalSamples, clipped to 1. Zero samples
// yield an empty list, not an error. Output is ordered by row then column so
// identical input always produces identical output.
func (h *HeatmapAggregator) Aggregate(samples []gaze.GazeSample) []HeatmapPoint {
	points := make([]HeatmapPoint, 0)
	if len(samples) == 0 {
		return points
	}

	counts := make(map[gridCell]int)
	for _, sample := range samples {
		cell := gridCell{
			col: int(math.Floor(sample.X / h.CellSizePx)),
			row: int(math.Floor(sample.Y / h.CellSizePx)),
		}
		counts[cell]++
	}

	total := float64(len(samples))
	for cell, count := range counts {
		intensity := float64(count) / total
		if intensity > 1 {
			intensity = 1
		}
		points = append(points, HeatmapPoint{
			X:         float64(cell.col) * h.CellSizePx,
			Y:         float64(cell.row) * h.CellSizePx,
			Intensity: intensity,
		})
	}

	sort.Slice(points, func(i, j int) bool {
		if points[i].Y != points[j].Y {
			return points[i].Y < points[j].Y
		}
		return points[i].X < points[j].X
	})

	return points
}
