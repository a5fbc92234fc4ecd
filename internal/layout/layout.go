// Package layout derives and ranks per-device layout candidates for a
// source image. A candidate survives only when the crop needed to fill
// its target box costs no more than half the rendered area.
package layout

import (
	"sort"

	"github.com/framefeed/display-pipeline/internal/geometry"
	"github.com/framefeed/display-pipeline/pkg/pipeline"
)

// MaxCropCostPercent is the eligibility bound. Candidates whose crop
// cost exceeds it are discarded; a cost of exactly 50.0 is accepted.
const MaxCropCostPercent = 50.0

// Evaluate computes every enabled layout candidate for the device,
// drops candidates whose crop cost against the original source
// dimensions exceeds MaxCropCostPercent, and returns the survivors
// ordered ascending by crop cost. Equal-cost candidates keep their
// construction order (single, paired, triple).
//
// A device with no enabled layout flags falls back to one implicit
// single candidate at the device's raw dimensions with no eligibility
// filtering, preserving callers that predate multi-image layouts.
func Evaluate(srcW, srcH int, device pipeline.DeviceGeometry) []pipeline.LayoutCandidate {
	if !device.Layouts.Any() {
		return []pipeline.LayoutCandidate{{
			Layout:          pipeline.LayoutSingle,
			TargetWidth:     device.Width,
			TargetHeight:    device.Height,
			CropCostPercent: geometry.CropCostPercent(srcW, srcH, device.Width, device.Height),
		}}
	}

	var candidates []pipeline.LayoutCandidate
	appendEligible := func(layout pipeline.LayoutType, w, h int) {
		if w <= 0 || h <= 0 {
			return
		}
		cost := geometry.CropCostPercent(srcW, srcH, w, h)
		if cost > MaxCropCostPercent {
			return
		}
		candidates = append(candidates, pipeline.LayoutCandidate{
			Layout:          layout,
			TargetWidth:     w,
			TargetHeight:    h,
			CropCostPercent: cost,
		})
	}

	if device.Layouts.Single {
		appendEligible(pipeline.LayoutSingle, device.Width, device.Height)
	}
	if device.Layouts.Paired {
		w, h := splitAxis(device.Width, device.Height, device.Gap, 2)
		appendEligible(pipeline.LayoutPaired, w, h)
	}
	if device.Layouts.Triple {
		w, h := splitAxis(device.Width, device.Height, device.Gap, 3)
		appendEligible(pipeline.LayoutTriple, w, h)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CropCostPercent < candidates[j].CropCostPercent
	})

	return candidates
}

// splitAxis divides the device's longer logical axis into n slots
// separated by n-1 gaps. Tall devices split height, others split width.
func splitAxis(width, height, gap, n int) (int, int) {
	gaps := (n - 1) * gap
	if height > width {
		return width, (height - gaps) / n
	}
	return (width - gaps) / n, height
}
