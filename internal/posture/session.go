package posture

import (
	"time"
)

// DefaultMinConfidence is the detector confidence below which a landmark is
// treated as absent.
const DefaultMinConfidence = 0.5

// Listener receives the observable events of a Session. Methods are invoked
// synchronously on the goroutine driving the Session.
type Listener interface {
	// OnFrameProcessed is called for every classified frame.
	OnFrameProcessed(score float64, isGood bool)
	// OnAlert fires exactly once per continuous bad-posture episode.
	OnAlert()
	OnCalibrationComplete(baseline float64)
	OnCalibrationFailed(reason error)
	// OnCalibrationProgress reports the elapsed share of the calibration
	// window in percent.
	OnCalibrationProgress(percent float64)
	OnStateChange(from, to AlertState)
}

// NopListener implements Listener with no-ops. Embed it to override only
// the callbacks of interest.
type NopListener struct{}

func (NopListener) OnFrameProcessed(float64, bool)    {}
func (NopListener) OnAlert()                          {}
func (NopListener) OnCalibrationComplete(float64)     {}
func (NopListener) OnCalibrationFailed(error)         {}
func (NopListener) OnCalibrationProgress(float64)     {}
func (NopListener) OnStateChange(from, to AlertState) {}

// Options are the tunable thresholds of a Session.
type Options struct {
	CalibrationDuration time.Duration `json:"calibration_duration"`
	AlertAfter          time.Duration `json:"alert_after"`
	GoodThreshold       float64       `json:"good_threshold"` // percent of baseline
	MinConfidence       float64       `json:"min_confidence"`
}

// DefaultOptions returns the product defaults: 3s calibration, 3s alert
// debounce, 85% good threshold and 0.5 landmark confidence.
func DefaultOptions() Options {
	return Options{
		CalibrationDuration: DefaultCalibrationDuration,
		AlertAfter:          DefaultAlertAfter,
		GoodThreshold:       DefaultGoodThreshold,
		MinConfidence:       DefaultMinConfidence,
	}
}

// Session is one monitoring lifecycle: calibrate, then classify and debounce
// until stopped. All timestamps come from the caller.
type Session struct {
	id       string
	opts     Options
	listener Listener

	state       AlertState
	startedAt   time.Time
	calibrator  *Calibrator
	calibration *CalibrationResult
	debouncer   *Debouncer
	last        Classification
}

// NewSession returns an idle session. A nil listener is replaced by
// NopListener.
func NewSession(id string, opts Options, listener Listener) *Session {
	if listener == nil {
		listener = NopListener{}
	}
	return &Session{
		id:       id,
		opts:     opts,
		listener: listener,
		state:    StateIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current AlertState.
func (s *Session) State() AlertState { return s.state }

// StartedAt returns the time of the most recent Start.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Baseline returns the calibrated baseline ratio, or 0 before calibration.
func (s *Session) Baseline() float64 {
	if s.calibration == nil {
		return 0
	}
	return s.calibration.Baseline
}

// Calibration returns the calibration result, or nil before calibration.
func (s *Session) Calibration() *CalibrationResult {
	if s.calibration == nil {
		return nil
	}
	res := *s.calibration
	return &res
}

// Last returns the most recent classification.
func (s *Session) Last() Classification { return s.last }

// BadFor returns the accumulated duration of the current bad episode.
func (s *Session) BadFor() time.Duration {
	if s.debouncer == nil {
		return 0
	}
	return s.debouncer.BadFor()
}

// Start discards any previous baseline and opens a new calibration window
// at now.
func (s *Session) Start(now time.Time) {
	s.clear()
	s.startedAt = now
	s.calibrator = NewCalibrator(now, s.opts.CalibrationDuration)
	s.setState(StateCalibrating)
	s.listener.OnCalibrationProgress(0)
}

// Stop tears the session down to StateIdle from any state, discarding the
// baseline and every timer.
func (s *Session) Stop() {
	s.clear()
	s.setState(StateIdle)
}

// ProcessLandmarks extracts a ratio from set and feeds it to the session.
// When extraction fails the frame is treated as skipped and the
// ErrInsufficientLandmarks error is returned for the caller's bookkeeping.
func (s *Session) ProcessLandmarks(set LandmarkSet, now time.Time) error {
	ratio, err := ExtractRatio(set, s.opts.MinConfidence)
	if err != nil {
		s.Skip(now)
		return err
	}
	s.ProcessRatio(ratio, now)
	return nil
}

// ProcessRatio feeds a valid ratio observed at now.
func (s *Session) ProcessRatio(ratio float64, now time.Time) {
	switch s.state {
	case StateIdle:
		return
	case StateCalibrating:
		if !s.calibrator.Done(now) {
			if s.calibrator.Add(ratio, now) {
				s.listener.OnCalibrationProgress(s.calibrator.Progress(now))
			}
			return
		}
		if !s.finishCalibration() {
			return
		}
	}
	s.classify(ratio, now)
}

// Skip records a frame that yielded no ratio. It never changes the alert
// state, but while calibrating it still reports progress and closes an
// expired window, so an occluded camera still ends calibration.
func (s *Session) Skip(now time.Time) {
	switch s.state {
	case StateCalibrating:
		if s.calibrator.Done(now) {
			s.finishCalibration()
			return
		}
		s.listener.OnCalibrationProgress(s.calibrator.Progress(now))
	case StateGood, StateBad, StateAlerted:
		s.debouncer.Skip(now)
	}
}

func (s *Session) finishCalibration() bool {
	res, err := s.calibrator.Finish()
	s.calibrator = nil
	if err != nil {
		s.clear()
		s.setState(StateIdle)
		s.listener.OnCalibrationFailed(err)
		return false
	}

	s.calibration = &res
	s.debouncer = NewDebouncer(s.opts.AlertAfter)
	s.listener.OnCalibrationProgress(100)
	s.listener.OnCalibrationComplete(res.Baseline)
	s.setState(StateGood)
	return true
}

func (s *Session) classify(ratio float64, now time.Time) {
	c, err := Classify(ratio, s.Baseline(), s.opts.GoodThreshold)
	if err != nil {
		// Only monitoring states classify, and they always hold a baseline.
		panic(err)
	}
	s.last = c

	fired := s.debouncer.Observe(c.IsGood, now)
	s.setState(s.debouncer.State())
	s.listener.OnFrameProcessed(c.Score, c.IsGood)
	if fired {
		s.listener.OnAlert()
	}
}

func (s *Session) setState(to AlertState) {
	if s.state == to {
		return
	}
	from := s.state
	s.state = to
	s.listener.OnStateChange(from, to)
}

func (s *Session) clear() {
	s.calibrator = nil
	s.calibration = nil
	s.debouncer = nil
	s.last = Classification{}
}
