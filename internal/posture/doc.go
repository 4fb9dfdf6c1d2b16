// Package posture owns the posture-evaluation core: landmark ratio
// extraction, baseline calibration, per-frame classification and the
// debounced slouch alert state machine.
//
// Responsibilities: turn a sequence of landmark detections into a live
// posture score and at most one alert per continuous bad-posture episode.
// Key types: LandmarkSet, Calibrator, Debouncer, Session.
//
// The package performs no I/O and takes every timestamp from its caller,
// so a Session can be driven by a mock clock and synthetic landmarks.
// A Session is owned by a single goroutine and holds no locks.
package posture
