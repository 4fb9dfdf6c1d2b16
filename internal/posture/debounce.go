package posture

import "time"

// DefaultAlertAfter is how long posture must stay bad before an alert fires.
const DefaultAlertAfter = 3 * time.Second

// AlertState represents the lifecycle state of a monitoring session.
type AlertState string

const (
	StateIdle        AlertState = "idle"        // No session running
	StateCalibrating AlertState = "calibrating" // Collecting baseline samples
	StateGood        AlertState = "good"        // Posture at or above threshold
	StateBad         AlertState = "bad"         // Slouching, alert clock running
	StateAlerted     AlertState = "alerted"     // Alert fired for this episode
)

// Debouncer tracks how long posture has been continuously bad and fires a
// single alert once that duration exceeds the threshold.
//
// Elapsed bad time is the sum of gaps between consecutive bad frames. A
// skipped frame moves the anchor to its own timestamp without adding time,
// so only the intervals ending in a skip are excluded and intermittent
// dropouts never reset what was accumulated.
type Debouncer struct {
	threshold time.Duration

	state  AlertState
	badFor time.Duration
	anchor time.Time
}

// NewDebouncer returns a Debouncer in StateGood.
func NewDebouncer(threshold time.Duration) *Debouncer {
	return &Debouncer{threshold: threshold, state: StateGood}
}

// State returns the current state: StateGood, StateBad or StateAlerted.
func (d *Debouncer) State() AlertState {
	return d.state
}

// BadFor returns the accumulated duration of the current bad episode.
func (d *Debouncer) BadFor() time.Duration {
	return d.badFor
}

// Observe feeds one classified frame taken at now. It returns true exactly
// when this frame moves the machine into StateAlerted.
func (d *Debouncer) Observe(isGood bool, now time.Time) bool {
	if isGood {
		d.reset()
		return false
	}

	switch d.state {
	case StateGood:
		d.state = StateBad
		d.badFor = 0
		d.anchor = now
		return false
	default:
		if dt := now.Sub(d.anchor); dt > 0 {
			d.badFor += dt
		}
		d.anchor = now
	}

	if d.state == StateBad && d.badFor > d.threshold {
		d.state = StateAlerted
		return true
	}
	return false
}

// Skip records a frame taken at now that produced no classification. It
// neither resets nor advances the bad-duration clock; the time since the
// previous frame is dropped.
func (d *Debouncer) Skip(now time.Time) {
	if d.state != StateGood && now.After(d.anchor) {
		d.anchor = now
	}
}

func (d *Debouncer) reset() {
	d.state = StateGood
	d.badFor = 0
	d.anchor = time.Time{}
}
