package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/monitor"
	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture"
	"github.com/banshee-data/posture.report/internal/version"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// fakeMonitor tracks a single session without any capture.
type fakeMonitor struct {
	active   bool
	startErr error
	ids      int
}

func (m *fakeMonitor) StartSession() (string, error) {
	if m.startErr != nil {
		return "", m.startErr
	}
	if m.active {
		return "", monitor.ErrSessionActive
	}
	m.active = true
	m.ids++
	return "s" + string(rune('0'+m.ids)), nil
}

func (m *fakeMonitor) StopSession() error {
	if !m.active {
		return monitor.ErrNoSession
	}
	m.active = false
	return nil
}

func (m *fakeMonitor) Status() monitor.Status {
	if m.active {
		return monitor.Status{State: posture.StateCalibrating, Text: "Calibrating: 0%"}
	}
	return monitor.Status{State: posture.StateIdle, Text: monitor.StatusIdle}
}

func newTestStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.NewDB(filepath.Join(t.TempDir(), "posture.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.RecordSessionStart("s1", t0, posture.DefaultOptions()))
	require.NoError(t, store.RecordCalibration("s1", t0.Add(3*time.Second), posture.CalibrationResult{Baseline: 0.5, Samples: 29}))
	for i := 0; i < 5; i++ {
		score := 100.0
		if i >= 2 {
			score = 50
		}
		require.NoError(t, store.RecordScore(db.ScoreSample{
			SessionID: "s1",
			Time:      t0.Add(time.Duration(3+i) * time.Second),
			Score:     score,
			IsGood:    score >= 85,
			State:     posture.StateGood,
		}))
	}
	_, err = store.RecordAlert(db.Alert{SessionID: "s1", Time: t0.Add(6200 * time.Millisecond), BadFor: 3100 * time.Millisecond, Score: 50})
	require.NoError(t, err)
	require.NoError(t, store.RecordSessionStart("s2", t0.Add(time.Hour), posture.DefaultOptions()))
	return store
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["error"]
}

func TestSessionControl(t *testing.T) {
	mon := &fakeMonitor{}
	mux := NewServer(mon, nil).ServeMux()

	rec := do(t, mux, http.MethodPost, "/api/session/start")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"session_id":"s1"}`, rec.Body.String())

	rec = do(t, mux, http.MethodPost, "/api/session/start")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, monitor.ErrSessionActive.Error(), errorMessage(t, rec))

	rec = do(t, mux, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var st monitor.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, posture.StateCalibrating, st.State)

	rec = do(t, mux, http.MethodPost, "/api/session/stop")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, posture.StateIdle, st.State)

	rec = do(t, mux, http.MethodPost, "/api/session/stop")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSessionControl_Errors(t *testing.T) {
	mux := NewServer(&fakeMonitor{startErr: errors.New("camera unplugged")}, nil).ServeMux()

	rec := do(t, mux, http.MethodPost, "/api/session/start")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "camera unplugged", errorMessage(t, rec))

	rec = do(t, mux, http.MethodGet, "/api/session/start")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))

	rec = do(t, mux, http.MethodPost, "/api/status")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHistory_NoStore(t *testing.T) {
	mux := NewServer(&fakeMonitor{}, nil).ServeMux()
	for _, path := range []string{"/api/sessions", "/api/sessions/s1", "/api/sessions/s1/alerts", "/api/sessions/s1/chart.png"} {
		rec := do(t, mux, http.MethodGet, path)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestListSessions(t *testing.T) {
	mux := NewServer(&fakeMonitor{}, newTestStore(t)).ServeMux()

	rec := do(t, mux, http.MethodGet, "/api/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []db.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sessions))
	require.Len(t, sessions, 2)
	assert.Equal(t, "s2", sessions[0].ID)
	assert.Equal(t, "s1", sessions[1].ID)
	assert.Equal(t, 1, sessions[1].AlertCount)

	rec = do(t, mux, http.MethodGet, "/api/sessions?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sessions))
	assert.Len(t, sessions, 1)

	for _, bad := range []string{"0", "-3", "ten"} {
		rec = do(t, mux, http.MethodGet, "/api/sessions?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestSessionDetail(t *testing.T) {
	mux := NewServer(&fakeMonitor{}, newTestStore(t)).ServeMux()

	rec := do(t, mux, http.MethodGet, "/api/sessions/s1")
	require.Equal(t, http.StatusOK, rec.Code)
	var session db.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&session))
	require.NotNil(t, session.Calibration)
	assert.Equal(t, 0.5, session.Calibration.Baseline)

	rec = do(t, mux, http.MethodGet, "/api/sessions/s1/alerts")
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []db.Alert
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, 3100*time.Millisecond, alerts[0].BadFor)

	rec = do(t, mux, http.MethodGet, "/api/sessions/s1/scores")
	require.Equal(t, http.StatusOK, rec.Code)
	var scores []db.ScoreSample
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&scores))
	assert.Len(t, scores, 5)

	rec = do(t, mux, http.MethodGet, "/api/sessions/s2/alerts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = do(t, mux, http.MethodGet, "/api/sessions/nope/alerts")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionChart(t *testing.T) {
	mux := NewServer(&fakeMonitor{}, newTestStore(t)).ServeMux()

	rec := do(t, mux, http.MethodGet, "/api/sessions/s1/chart.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	// s2 has no scores yet.
	rec = do(t, mux, http.MethodGet, "/api/sessions/s2/chart.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShowVersion(t *testing.T) {
	mux := NewServer(&fakeMonitor{}, nil).ServeMux()
	rec := do(t, mux, http.MethodGet, "/api/version")
	require.Equal(t, http.StatusOK, rec.Code)

	var info version.Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, version.Get(), info)
}

func TestLoggingMiddleware(t *testing.T) {
	var lines []string
	prev := monitoring.Logf
	defer monitoring.SetLogger(prev)
	monitoring.SetLogger(func(format string, args ...interface{}) {
		lines = append(lines, format)
	})

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := do(t, h, http.MethodGet, "/api/status")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "[%s]"))

	assert.Contains(t, statusCodeColor(200), "200")
	assert.Contains(t, statusCodeColor(503), colorBoldRed)
}
