package monitor

import (
	"fmt"
	"time"

	"github.com/banshee-data/posture.report/internal/posture"
)

// Status texts shown to the user.
const (
	StatusIdle      = "Idle"
	StatusMonitor   = "Monitoring"
	StatusGood      = "Good posture"
	StatusSlouching = "SLOUCHING!"
	StatusStopped   = "Stopped"
)

// Status is a point-in-time snapshot of the monitor.
type Status struct {
	SessionID    string             `json:"session_id,omitempty"`
	State        posture.AlertState `json:"state"`
	Text         string             `json:"status"`
	Score        float64            `json:"score"`
	IsGood       bool               `json:"is_good"`
	Band         posture.ScoreBand  `json:"band,omitempty"`
	Baseline     float64            `json:"baseline,omitempty"`
	Progress     float64            `json:"calibration_progress"`
	BadFor       time.Duration      `json:"bad_for"`
	Frames       uint64             `json:"frames"`
	ReadFailures int                `json:"read_failures"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

func calibratingText(percent float64) string {
	return fmt.Sprintf("Calibrating: %d%%", int(percent))
}

func errorText(err error) string {
	return "Error: " + err.Error()
}

// stateText is the status text for a monitoring state.
func stateText(s posture.AlertState) string {
	switch s {
	case posture.StateGood:
		return StatusGood
	case posture.StateBad, posture.StateAlerted:
		return StatusSlouching
	case posture.StateIdle:
		return StatusIdle
	default:
		return StatusMonitor
	}
}
