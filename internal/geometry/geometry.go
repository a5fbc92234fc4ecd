package geometry

import (
	"math"

	"github.com/framefeed/display-pipeline/pkg/pipeline"
)

// squareTolerance is the band around a 1:1 aspect ratio inside which an
// image is treated as square rather than forced into portrait or
// landscape. The bound is exclusive on both sides.
const squareTolerance = 0.05

// ratioEpsilon treats two aspect ratios as equal for crop purposes.
const ratioEpsilon = 0.001

// ClassifyOrientation classifies a width x height pair. Square wins
// when the ratio is within squareTolerance of 1; otherwise landscape
// when wider than tall, portrait when taller than wide.
func ClassifyOrientation(width, height int) pipeline.Orientation {
	ratio := float64(width) / float64(height)
	if math.Abs(ratio-1) < squareTolerance {
		return pipeline.OrientationSquare
	}
	if width > height {
		return pipeline.OrientationLandscape
	}
	return pipeline.OrientationPortrait
}

// CropCostPercent models the fraction of rendered area a cover-fit crop
// discards when fitting the source rectangle onto the target rectangle,
// as a percentage of the scaled source's longer dimension lying outside
// the target window.
func CropCostPercent(srcW, srcH, dstW, dstH int) float64 {
	sr := float64(srcW) / float64(srcH)
	dr := float64(dstW) / float64(dstH)

	if math.Abs(sr-dr) < ratioEpsilon {
		return 0
	}

	if sr > dr {
		// Source relatively wider: fit is height-constrained and the
		// overflow is horizontal.
		usedWidth := float64(dstH) * sr
		return (usedWidth - float64(dstW)) / usedWidth * 100
	}

	// Source relatively taller: fit is width-constrained and the
	// overflow is vertical.
	usedHeight := float64(dstW) / sr
	return (usedHeight - float64(dstH)) / usedHeight * 100
}
