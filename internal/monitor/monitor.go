// Package monitor drives posture sessions from a live frame source. It owns
// the capture loop, runs frames through the landmark detector into the
// current posture.Session, and publishes everything that happens as Events.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/posture.report/internal/capture"
	"github.com/banshee-data/posture.report/internal/landmarks"
	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

var (
	// ErrSessionActive is returned by StartSession while a session runs.
	ErrSessionActive = errors.New("monitor: session already active")

	// ErrNoSession is returned by StopSession when nothing is running.
	ErrNoSession = errors.New("monitor: no active session")

	// ErrCameraFailed is the stop reason of a session ended by too many
	// consecutive failed frame reads.
	ErrCameraFailed = errors.New("monitor: camera failed")
)

const (
	defaultMaxReadFailures = 30
	defaultRetryDelay      = 33 * time.Millisecond
)

// Config wires a Monitor.
type Config struct {
	Source   capture.Source
	Detector landmarks.Detector
	Clock    timeutil.Clock
	Options  posture.Options
	Hub      *Hub

	// MaxReadFailures consecutive read errors stop the active session with
	// ErrCameraFailed. Run itself keeps reading so a later session can retry.
	MaxReadFailures int
	// RetryDelay is slept after a failed read.
	RetryDelay time.Duration
	// NewID generates session IDs; defaults to random UUIDs.
	NewID func() string
}

// Monitor runs the capture loop and at most one posture session at a time.
type Monitor struct {
	src         capture.Source
	det         landmarks.Detector
	clock       timeutil.Clock
	opts        posture.Options
	hub         *Hub
	maxFailures int
	retryDelay  time.Duration
	newID       func() string

	mu       sync.Mutex
	session  *posture.Session
	status   Status
	failures int
}

// New validates cfg and returns a Monitor with no active session.
func New(cfg Config) (*Monitor, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("monitor: frame source is required")
	}
	if cfg.Detector == nil {
		return nil, fmt.Errorf("monitor: landmark detector is required")
	}

	m := &Monitor{
		src:         cfg.Source,
		det:         cfg.Detector,
		clock:       cfg.Clock,
		opts:        cfg.Options,
		hub:         cfg.Hub,
		maxFailures: cfg.MaxReadFailures,
		retryDelay:  cfg.RetryDelay,
		newID:       cfg.NewID,
	}
	if m.clock == nil {
		m.clock = timeutil.RealClock{}
	}
	if m.opts == (posture.Options{}) {
		m.opts = posture.DefaultOptions()
	}
	if m.maxFailures <= 0 {
		m.maxFailures = defaultMaxReadFailures
	}
	if m.retryDelay <= 0 {
		m.retryDelay = defaultRetryDelay
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	m.status = Status{State: posture.StateIdle, Text: StatusIdle}
	return m, nil
}

// Hub returns the hub events are published on, or nil.
func (m *Monitor) Hub() *Hub { return m.hub }

// Options returns the thresholds applied to new sessions.
func (m *Monitor) Options() posture.Options { return m.opts }

// StartSession begins a new session with a fresh calibration. It fails with
// ErrSessionActive if one is already running.
func (m *Monitor) StartSession() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active() {
		return "", ErrSessionActive
	}

	id := m.newID()
	m.session = posture.NewSession(id, m.opts, &sessionListener{m: m, id: id})
	m.status = Status{SessionID: id, State: posture.StateIdle, Text: m.status.Text}

	now := m.clock.Now()
	opts := m.opts
	m.publish(Event{Kind: KindSessionStarted, SessionID: id, Time: now, Options: &opts})
	monitoring.Logf("monitor: session %s started", id)

	m.session.Start(now)
	return id, nil
}

// StopSession ends the active session and discards its baseline. Once it
// returns no further events are published for that session.
func (m *Monitor) StopSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(nil)
}

func (m *Monitor) stopLocked(reason error) error {
	if !m.active() {
		m.session = nil
		return ErrNoSession
	}

	s := m.session
	s.Stop()
	m.session = nil
	m.status.State = posture.StateIdle

	ev := Event{Kind: KindSessionStopped, SessionID: s.ID(), Time: m.clock.Now()}
	if reason != nil {
		ev.Error = reason.Error()
	}
	m.publish(ev)

	if reason != nil {
		m.setText(errorText(reason))
		monitoring.Logf("monitor: session %s stopped: %v", s.ID(), reason)
	} else {
		m.setText(StatusStopped)
		monitoring.Logf("monitor: session %s stopped", s.ID())
	}
	return nil
}

// Status returns a snapshot of the monitor.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.status
	if m.session != nil {
		st.State = m.session.State()
		st.BadFor = m.session.BadFor()
		st.Baseline = m.session.Baseline()
	}
	return st
}

// Run reads frames until the context is cancelled or the source ends. Read
// failures never end the loop; see readFailed. Frames are only sent to the
// detector while a session is active.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		frame, err := m.src.Next(ctx)
		if ctx.Err() != nil {
			m.shutdown(nil)
			return ctx.Err()
		}

		switch {
		case errors.Is(err, capture.ErrEndOfStream), errors.Is(err, capture.ErrClosed):
			monitoring.Logf("monitor: capture ended")
			m.shutdown(nil)
			return nil
		case err != nil:
			m.readFailed(err)
			m.clock.Sleep(m.retryDelay)
			continue
		}

		m.processFrame(ctx, frame)
	}
}

func (m *Monitor) shutdown(reason error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active() {
		_ = m.stopLocked(reason)
	}
}

// readFailed counts a failed read. After maxFailures in a row the active
// session is stopped with ErrCameraFailed (or, when idle, only the error
// status is shown) and the count starts over.
func (m *Monitor) readFailed(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures++
	m.status.ReadFailures = m.failures
	monitoring.Debugf("monitor: frame read failed (%d/%d): %v", m.failures, m.maxFailures, err)

	if m.active() {
		m.session.Skip(m.clock.Now())
	}

	if m.failures < m.maxFailures {
		return
	}

	ferr := fmt.Errorf("%w: %d consecutive read failures, last: %v", ErrCameraFailed, m.failures, err)
	if m.active() {
		_ = m.stopLocked(ferr)
	} else {
		if m.status.Text != errorText(ferr) {
			monitoring.Logf("monitor: %v", ferr)
		}
		m.setText(errorText(ferr))
	}
	m.failures = 0
}

func (m *Monitor) processFrame(ctx context.Context, frame capture.Frame) {
	m.mu.Lock()
	m.failures = 0
	m.status.ReadFailures = 0
	s := m.session
	if !m.active() {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	set, err := m.det.Detect(ctx, frame)
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// The session may have been stopped or replaced while detecting.
	if m.session != s || !m.active() {
		return
	}

	m.status.Frames++
	now := m.clock.Now()
	if err != nil {
		if !errors.Is(err, landmarks.ErrNotDetected) {
			monitoring.Debugf("monitor: frame %d detection failed: %v", frame.Seq, err)
		}
		s.Skip(now)
		return
	}
	if err := s.ProcessLandmarks(set, now); err != nil {
		monitoring.Debugf("monitor: frame %d skipped: %v", frame.Seq, err)
	}
}

func (m *Monitor) active() bool {
	return m.session != nil && m.session.State() != posture.StateIdle
}

func (m *Monitor) publish(ev Event) {
	if m.hub != nil {
		m.hub.Publish(ev)
	}
}

// setText updates the status text, publishing a status event on change.
func (m *Monitor) setText(text string) {
	if m.status.Text == text {
		return
	}
	now := m.clock.Now()
	m.status.Text = text
	m.status.UpdatedAt = now
	m.publish(Event{Kind: KindStatus, SessionID: m.status.SessionID, Time: now, Status: text})
}
