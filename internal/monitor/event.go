package monitor

import (
	"time"

	"github.com/banshee-data/posture.report/internal/posture"
)

// EventKind identifies the type of an Event.
type EventKind string

const (
	KindSessionStarted      EventKind = "session_started"
	KindSessionStopped      EventKind = "session_stopped"
	KindCalibrationProgress EventKind = "calibration_progress"
	KindCalibrated          EventKind = "calibrated"
	KindCalibrationFailed   EventKind = "calibration_failed"
	KindFrame               EventKind = "frame"
	KindAlert               EventKind = "alert"
	KindState               EventKind = "state"
	KindStatus              EventKind = "status" // human-readable status text changed
)

// Event is published to Hub subscribers for everything observable about a
// monitoring session. Only the fields relevant to Kind are set.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	Time      time.Time `json:"time"`

	Score  float64           `json:"score,omitempty"`
	IsGood bool              `json:"is_good,omitempty"`
	Band   posture.ScoreBand `json:"band,omitempty"`

	// Progress is the calibration progress in percent.
	Progress float64 `json:"progress,omitempty"`

	Calibration *posture.CalibrationResult `json:"calibration,omitempty"`
	Options     *posture.Options           `json:"options,omitempty"`

	// BadFor is the accumulated bad-posture time when an alert fires.
	BadFor time.Duration `json:"bad_for,omitempty"`

	From posture.AlertState `json:"from,omitempty"`
	To   posture.AlertState `json:"to,omitempty"`

	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}
