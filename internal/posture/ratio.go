package posture

import (
	"fmt"
	"math"
)

// ExtractRatio computes the posture ratio for one frame: the vertical
// distance from the nose to the shoulder midpoint divided by the
// horizontal shoulder width.
//
// It returns ErrInsufficientLandmarks (wrapped) when any required landmark
// is missing or below minConfidence, or when the shoulder width is zero.
// The vertical term is an absolute value, so the ratio is never negative.
func ExtractRatio(set LandmarkSet, minConfidence float64) (float64, error) {
	var pts [3]Landmark
	for i, name := range RequiredLandmarks {
		lm, ok := set.Lookup(name, minConfidence)
		if !ok {
			return 0, fmt.Errorf("%w: %s missing or below confidence %.2f", ErrInsufficientLandmarks, name, minConfidence)
		}
		pts[i] = lm
	}
	nose, left, right := pts[0], pts[1], pts[2]

	width := math.Abs(left.X - right.X)
	if width == 0 || math.IsNaN(width) || math.IsInf(width, 0) {
		return 0, fmt.Errorf("%w: shoulder width %v", ErrInsufficientLandmarks, width)
	}

	midY := (left.Y + right.Y) / 2
	ratio := math.Abs(nose.Y-midY) / width
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 0, fmt.Errorf("%w: ratio not finite", ErrInsufficientLandmarks)
	}
	return ratio, nil
}
