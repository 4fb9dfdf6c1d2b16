// Package landmarks turns captured frames into body landmarks. The pose
// model itself runs out of process; this package only speaks to it.
package landmarks

import (
	"context"
	"errors"

	"github.com/banshee-data/posture.report/internal/capture"
	"github.com/banshee-data/posture.report/internal/posture"
)

// ErrNotDetected is returned when the frame contains no person.
var ErrNotDetected = errors.New("landmarks: no person detected")

// Detector extracts landmarks from a frame.
type Detector interface {
	Detect(ctx context.Context, frame capture.Frame) (posture.LandmarkSet, error)
}
