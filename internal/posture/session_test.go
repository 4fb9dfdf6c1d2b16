package posture

import (
	"errors"
	"testing"
	"time"

	"github.com/banshee-data/posture.report/internal/timeutil"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	frames      []Classification
	alerts      int
	baselines   []float64
	failures    []error
	progress    []float64
	transitions [][2]AlertState
}

func (r *recordingListener) OnFrameProcessed(score float64, isGood bool) {
	r.frames = append(r.frames, Classification{Score: score, IsGood: isGood})
}
func (r *recordingListener) OnAlert()                        { r.alerts++ }
func (r *recordingListener) OnCalibrationComplete(b float64) { r.baselines = append(r.baselines, b) }
func (r *recordingListener) OnCalibrationFailed(err error)   { r.failures = append(r.failures, err) }
func (r *recordingListener) OnCalibrationProgress(p float64) { r.progress = append(r.progress, p) }
func (r *recordingListener) OnStateChange(from, to AlertState) {
	r.transitions = append(r.transitions, [2]AlertState{from, to})
}

const frameStep = 100 * time.Millisecond

// sessionHarness drives a Session at a steady frame rate from a mock clock.
type sessionHarness struct {
	t        *testing.T
	clock    *timeutil.MockClock
	listener *recordingListener
	session  *Session
}

func newHarness(t *testing.T) *sessionHarness {
	t.Helper()
	l := &recordingListener{}
	return &sessionHarness{
		t:        t,
		clock:    timeutil.NewMockClock(t0),
		listener: l,
		session:  NewSession("test-session", DefaultOptions(), l),
	}
}

// ratios feeds ratio once per frameStep for the given duration, starting
// at the current clock time. The clock ends one step past the last frame.
func (h *sessionHarness) ratios(ratio float64, d time.Duration) {
	for end := h.clock.Now().Add(d); !h.clock.Now().After(end); h.clock.Advance(frameStep) {
		h.session.ProcessRatio(ratio, h.clock.Now())
	}
}

func (h *sessionHarness) skips(n int) {
	for i := 0; i < n; i++ {
		h.session.Skip(h.clock.Now())
		h.clock.Advance(frameStep)
	}
}

// calibrate starts the session and feeds a constant ratio through the whole
// calibration window, leaving the session in StateGood.
func (h *sessionHarness) calibrate(ratio float64) {
	h.t.Helper()
	h.session.Start(h.clock.Now())
	h.ratios(ratio, DefaultCalibrationDuration)
	require.Equal(h.t, StateGood, h.session.State())
}

func TestSession_CalibrationInstallsBaseline(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	assert.Equal(t, StateIdle, h.session.State())
	h.calibrate(1.0)

	assert.Equal(t, 1.0, h.session.Baseline())
	require.Len(t, h.listener.baselines, 1)
	assert.Equal(t, 1.0, h.listener.baselines[0])

	res := h.session.Calibration()
	require.NotNil(t, res)
	assert.Equal(t, 30, res.Samples) // frames at 0..2900ms

	want := [][2]AlertState{
		{StateIdle, StateCalibrating},
		{StateCalibrating, StateGood},
	}
	if diff := cmp.Diff(want, h.listener.transitions); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 100.0, h.listener.progress[len(h.listener.progress)-1])
}

func TestSession_CalibrationMeanIgnoresSkippedFrames(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.session.Start(h.clock.Now())
	h.ratios(0.5, 900*time.Millisecond) // 10 frames
	h.skips(10)
	h.ratios(1.0, 900*time.Millisecond) // 10 frames
	h.clock.Set(t0.Add(DefaultCalibrationDuration))
	h.session.Skip(h.clock.Now())

	require.Equal(t, StateGood, h.session.State())
	assert.Equal(t, 0.75, h.session.Baseline())
	assert.Equal(t, 20, h.session.Calibration().Samples)
}

func TestSession_CalibrationFailsWithoutSamples(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.session.Start(h.clock.Now())
	h.skips(31) // camera occluded through the whole window

	assert.Equal(t, StateIdle, h.session.State())
	assert.Equal(t, 0.0, h.session.Baseline())
	require.Len(t, h.listener.failures, 1)
	assert.True(t, errors.Is(h.listener.failures[0], ErrCalibrationFailed))
	assert.Empty(t, h.listener.baselines)

	// Frames after a failed calibration are ignored until restarted.
	h.ratios(1.0, time.Second)
	assert.Equal(t, StateIdle, h.session.State())
	assert.Empty(t, h.listener.frames)
}

func TestSession_DebounceScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.calibrate(1.0)
	framesBefore := len(h.listener.frames)

	h.ratios(0.5, 2900*time.Millisecond)
	assert.Equal(t, StateBad, h.session.State())
	assert.Equal(t, 0, h.listener.alerts)
	assert.Equal(t, 2900*time.Millisecond, h.session.BadFor())

	// Clock now sits at 3.0s into the episode; the 3.1s frame fires.
	h.ratios(0.5, frameStep)
	assert.Equal(t, StateAlerted, h.session.State())
	assert.Equal(t, 1, h.listener.alerts)

	h.ratios(0.5, 5*time.Second)
	assert.Equal(t, 1, h.listener.alerts, "no repeat alert while still slouching")

	for _, f := range h.listener.frames[framesBefore:] {
		assert.Equal(t, 50.0, f.Score)
		assert.False(t, f.IsGood)
	}
}

func TestSession_RecoveryStartsFreshEpisode(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.calibrate(1.0)

	h.ratios(0.5, 3100*time.Millisecond)
	require.Equal(t, StateAlerted, h.session.State())

	h.ratios(1.0, 0) // one good frame
	assert.Equal(t, StateGood, h.session.State())
	assert.Equal(t, 100.0, h.session.Last().Score)

	h.ratios(0.5, 2900*time.Millisecond)
	assert.Equal(t, StateBad, h.session.State())
	assert.Equal(t, 2900*time.Millisecond, h.session.BadFor(), "no carry-over from the previous episode")
	assert.Equal(t, 1, h.listener.alerts)

	h.ratios(0.5, 200*time.Millisecond)
	assert.Equal(t, 2, h.listener.alerts)
}

func TestSession_SkippedFramesPauseAlertClock(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.calibrate(1.0)

	h.ratios(0.5, 2*time.Second)
	require.Equal(t, 2*time.Second, h.session.BadFor())

	missing := LandmarkSet{Nose: {X: 0.5, Y: 0.2, Confidence: 0.1}}
	for i := 0; i < 5; i++ {
		err := h.session.ProcessLandmarks(missing, h.clock.Now())
		require.True(t, errors.Is(err, ErrInsufficientLandmarks))
		h.clock.Advance(frameStep)
	}
	assert.Equal(t, StateBad, h.session.State())
	assert.Equal(t, 2*time.Second, h.session.BadFor())

	// Only the 100ms since the last skipped frame counts.
	h.ratios(0.5, 0)
	assert.Equal(t, 2100*time.Millisecond, h.session.BadFor())
	h.ratios(0.5, 800*time.Millisecond)
	assert.Equal(t, 3000*time.Millisecond, h.session.BadFor())
	assert.Equal(t, 0, h.listener.alerts)
}

func TestSession_IntermittentDetectionStillAlerts(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.calibrate(1.0)

	// Slouching for 10s while every other frame loses the landmarks.
	for end := h.clock.Now().Add(10 * time.Second); h.clock.Now().Before(end); {
		h.session.ProcessRatio(0.5, h.clock.Now())
		h.clock.Advance(frameStep)
		h.skips(1)
	}
	assert.Equal(t, StateAlerted, h.session.State())
	assert.Equal(t, 1, h.listener.alerts)
	assert.Greater(t, h.session.BadFor(), 3*time.Second)
}

func TestSession_OccludedCalibrationReportsProgress(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.session.Start(h.clock.Now())
	h.skips(16) // frames at 0..1.5s, none usable

	assert.Equal(t, StateCalibrating, h.session.State())
	require.Len(t, h.listener.progress, 17) // Start plus one per frame
	assert.InDelta(t, 50.0, h.listener.progress[16], 1e-9)
	assert.Equal(t, 0, h.session.calibrator.Samples())
}

func TestSession_ProcessLandmarks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.session.Start(h.clock.Now())

	for h.clock.Since(t0) <= DefaultCalibrationDuration {
		require.NoError(t, h.session.ProcessLandmarks(upright(0.5), h.clock.Now()))
		h.clock.Advance(frameStep)
	}
	require.Equal(t, StateGood, h.session.State())
	assert.Equal(t, 1.0, h.session.Baseline())

	require.NoError(t, h.session.ProcessLandmarks(upright(0.25), h.clock.Now()))
	assert.Equal(t, StateBad, h.session.State())
	assert.Equal(t, 50.0, h.session.Last().Score)
}

func TestSession_StopDiscardsEverything(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.calibrate(1.0)
	h.ratios(0.5, 2*time.Second)

	h.session.Stop()
	assert.Equal(t, StateIdle, h.session.State())
	assert.Equal(t, 0.0, h.session.Baseline())
	assert.Nil(t, h.session.Calibration())
	assert.Equal(t, time.Duration(0), h.session.BadFor())

	h.ratios(0.5, 5*time.Second)
	assert.Equal(t, StateIdle, h.session.State())
	assert.Equal(t, 0, h.listener.alerts)

	// Stop is safe in any state, including idle.
	h.session.Stop()
	assert.Equal(t, StateIdle, h.session.State())
}

func TestSession_RestartRecalibrates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.calibrate(1.0)
	h.session.Stop()

	h.calibrate(0.5)
	assert.Equal(t, 0.5, h.session.Baseline(), "previous baseline must not blend in")

	// 0.5 is now 100% of baseline.
	h.ratios(0.5, 0)
	assert.True(t, h.session.Last().IsGood)
}

func TestSession_IndependentSessions(t *testing.T) {
	t.Parallel()
	a := newHarness(t)
	b := newHarness(t)

	a.calibrate(1.0)
	b.calibrate(0.5)

	a.ratios(0.5, 0)
	b.ratios(0.5, 0)
	assert.False(t, a.session.Last().IsGood)
	assert.True(t, b.session.Last().IsGood)
	assert.NotEqual(t, a.session.Baseline(), b.session.Baseline())
}
