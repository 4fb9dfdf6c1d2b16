package monitor

import (
	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture"
)

// sessionListener turns Session callbacks into hub events and status
// updates. It runs with Monitor.mu held.
type sessionListener struct {
	m  *Monitor
	id string
}

func (l *sessionListener) event(kind EventKind) Event {
	return Event{Kind: kind, SessionID: l.id, Time: l.m.clock.Now()}
}

func (l *sessionListener) OnFrameProcessed(score float64, isGood bool) {
	band := posture.Band(score, l.m.opts.GoodThreshold)
	st := &l.m.status
	st.Score = score
	st.IsGood = isGood
	st.Band = band
	if s := l.m.session; s != nil {
		st.BadFor = s.BadFor()
	}

	ev := l.event(KindFrame)
	ev.Score = score
	ev.IsGood = isGood
	ev.Band = band
	l.m.publish(ev)
	monitoring.Debugf("monitor: session=%s score=%.1f good=%v", l.id, score, isGood)
}

func (l *sessionListener) OnAlert() {
	ev := l.event(KindAlert)
	if s := l.m.session; s != nil {
		ev.BadFor = s.BadFor()
		ev.Score = s.Last().Score
	}
	l.m.publish(ev)
	monitoring.Logf("monitor: session=%s slouching for %s, alert raised", l.id, ev.BadFor)
}

func (l *sessionListener) OnCalibrationComplete(baseline float64) {
	l.m.status.Baseline = baseline
	ev := l.event(KindCalibrated)
	if s := l.m.session; s != nil {
		ev.Calibration = s.Calibration()
	}
	l.m.publish(ev)
	l.m.setText(StatusMonitor)
	monitoring.Logf("monitor: session=%s calibration complete baseline=%.4f", l.id, baseline)
}

func (l *sessionListener) OnCalibrationFailed(reason error) {
	ev := l.event(KindCalibrationFailed)
	ev.Error = reason.Error()
	l.m.publish(ev)
	l.m.setText(errorText(reason))
	monitoring.Logf("monitor: session=%s calibration failed: %v", l.id, reason)
}

func (l *sessionListener) OnCalibrationProgress(percent float64) {
	l.m.status.Progress = percent
	ev := l.event(KindCalibrationProgress)
	ev.Progress = percent
	l.m.publish(ev)
	l.m.setText(calibratingText(percent))
}

func (l *sessionListener) OnStateChange(from, to posture.AlertState) {
	l.m.status.State = to
	ev := l.event(KindState)
	ev.From = from
	ev.To = to
	l.m.publish(ev)

	switch to {
	case posture.StateGood, posture.StateBad, posture.StateAlerted:
		l.m.setText(stateText(to))
	}
	monitoring.Debugf("monitor: session=%s state %s -> %s", l.id, from, to)
}
