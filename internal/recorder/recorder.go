// Package recorder persists monitor events: session lifecycle, calibration
// results, alerts and periodic score samples.
package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/monitor"
	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture"
)

// Store is the persistence the recorder writes to; *db.DB implements it.
type Store interface {
	RecordSessionStart(id string, startedAt time.Time, opts posture.Options) error
	RecordCalibration(id string, at time.Time, res posture.CalibrationResult) error
	RecordSessionEnd(id string, at time.Time, reason string) error
	RecordAlert(a db.Alert) (int64, error)
	RecordScore(s db.ScoreSample) error
}

// End reasons stored with a session.
const (
	ReasonStopped           = "stopped"
	ReasonCalibrationFailed = "calibration failed"
)

// Recorder writes events to a Store. Score samples are thinned to one per
// SampleInterval per session.
type Recorder struct {
	store          Store
	sampleInterval time.Duration

	state      map[string]posture.AlertState
	lastSample map[string]time.Time
}

// New returns a Recorder. A zero sampleInterval stores every frame.
func New(store Store, sampleInterval time.Duration) *Recorder {
	return &Recorder{
		store:          store,
		sampleInterval: sampleInterval,
		state:          make(map[string]posture.AlertState),
		lastSample:     make(map[string]time.Time),
	}
}

// Run records events until ctx is cancelled or the channel is closed. Store
// errors are logged and do not stop recording.
func (r *Recorder) Run(ctx context.Context, events <-chan monitor.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := r.Handle(ev); err != nil {
				monitoring.Logf("recorder: %v", err)
			}
		}
	}
}

// Handle records a single event.
func (r *Recorder) Handle(ev monitor.Event) error {
	switch ev.Kind {
	case monitor.KindSessionStarted:
		opts := posture.DefaultOptions()
		if ev.Options != nil {
			opts = *ev.Options
		}
		r.state[ev.SessionID] = posture.StateIdle
		return r.store.RecordSessionStart(ev.SessionID, ev.Time, opts)

	case monitor.KindCalibrated:
		if ev.Calibration == nil {
			return fmt.Errorf("calibrated event for %s carries no result", ev.SessionID)
		}
		return r.store.RecordCalibration(ev.SessionID, ev.Time, *ev.Calibration)

	case monitor.KindCalibrationFailed:
		r.forget(ev.SessionID)
		return r.store.RecordSessionEnd(ev.SessionID, ev.Time, ReasonCalibrationFailed+": "+ev.Error)

	case monitor.KindSessionStopped:
		r.forget(ev.SessionID)
		reason := ReasonStopped
		if ev.Error != "" {
			reason = ev.Error
		}
		return r.store.RecordSessionEnd(ev.SessionID, ev.Time, reason)

	case monitor.KindState:
		r.state[ev.SessionID] = ev.To

	case monitor.KindAlert:
		_, err := r.store.RecordAlert(db.Alert{
			SessionID: ev.SessionID,
			Time:      ev.Time,
			BadFor:    ev.BadFor,
			Score:     ev.Score,
		})
		return err

	case monitor.KindFrame:
		if last, ok := r.lastSample[ev.SessionID]; ok && ev.Time.Sub(last) < r.sampleInterval {
			return nil
		}
		r.lastSample[ev.SessionID] = ev.Time
		return r.store.RecordScore(db.ScoreSample{
			SessionID: ev.SessionID,
			Time:      ev.Time,
			Score:     ev.Score,
			IsGood:    ev.IsGood,
			State:     r.state[ev.SessionID],
		})
	}
	return nil
}

func (r *Recorder) forget(id string) {
	delete(r.state, id)
	delete(r.lastSample, id)
}
