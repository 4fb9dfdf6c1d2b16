package posture

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultCalibrationDuration is how long ratio samples are collected before
// the baseline is computed.
const DefaultCalibrationDuration = 3 * time.Second

// CalibrationResult summarises a completed calibration window.
type CalibrationResult struct {
	Baseline float64       `json:"baseline"` // arithmetic mean of the samples
	Samples  int           `json:"samples"`
	StdDev   float64       `json:"stddev"`
	Min      float64       `json:"min"`
	Max      float64       `json:"max"`
	Duration time.Duration `json:"duration"`
}

// Calibrator collects ratio samples over a fixed wall-clock window that
// opens at the time it was created.
type Calibrator struct {
	start    time.Time
	duration time.Duration
	samples  []float64
}

// NewCalibrator opens a calibration window of the given duration at start.
func NewCalibrator(start time.Time, duration time.Duration) *Calibrator {
	return &Calibrator{
		start:    start,
		duration: duration,
		samples:  make([]float64, 0, 128), // ~3s at 30fps
	}
}

// Add records ratio if now falls inside the window. It reports whether the
// sample was kept.
func (c *Calibrator) Add(ratio float64, now time.Time) bool {
	if now.Before(c.start) || c.Done(now) {
		return false
	}
	c.samples = append(c.samples, ratio)
	return true
}

// Done reports whether the window has closed at now.
func (c *Calibrator) Done(now time.Time) bool {
	return !now.Before(c.start.Add(c.duration))
}

// Progress returns the elapsed share of the window as a percentage in [0,100].
func (c *Calibrator) Progress(now time.Time) float64 {
	if c.duration <= 0 {
		return 100
	}
	p := float64(now.Sub(c.start)) / float64(c.duration) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Samples returns the number of samples collected so far.
func (c *Calibrator) Samples() int {
	return len(c.samples)
}

// Finish computes the baseline from the collected samples. Frames that were
// skipped never reach the calibrator, so they do not dilute the mean.
func (c *Calibrator) Finish() (CalibrationResult, error) {
	n := len(c.samples)
	if n == 0 {
		return CalibrationResult{}, fmt.Errorf("%w: no valid samples in %v", ErrCalibrationFailed, c.duration)
	}

	res := CalibrationResult{
		Baseline: stat.Mean(c.samples, nil),
		Samples:  n,
		Min:      floats.Min(c.samples),
		Max:      floats.Max(c.samples),
		Duration: c.duration,
	}
	if n > 1 {
		res.StdDev = stat.StdDev(c.samples, nil)
	}
	if res.Baseline <= 0 {
		return CalibrationResult{}, fmt.Errorf("%w: baseline %v is not positive", ErrCalibrationFailed, res.Baseline)
	}
	return res, nil
}
