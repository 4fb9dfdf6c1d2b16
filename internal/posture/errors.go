package posture

import "errors"

var (
	// ErrInsufficientLandmarks is returned by ExtractRatio when a frame does
	// not carry usable landmarks. The frame is skipped and causes no state change.
	ErrInsufficientLandmarks = errors.New("insufficient landmarks")

	// ErrCalibrationFailed is reported when the calibration window closes
	// without a single valid ratio sample.
	ErrCalibrationFailed = errors.New("calibration failed")

	// ErrNoBaseline is returned by Classify when it is called before a
	// baseline has been established. It indicates a caller bug.
	ErrNoBaseline = errors.New("no baseline: classify called before calibration")
)
