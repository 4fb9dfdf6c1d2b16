// Package api serves the HTTP control surface of the posture monitor:
// starting and stopping sessions, live status and session history.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/httputil"
	"github.com/banshee-data/posture.report/internal/monitor"
	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/report"
	"github.com/banshee-data/posture.report/internal/version"
)

// Monitor is the session control the server drives; *monitor.Monitor
// implements it.
type Monitor interface {
	StartSession() (string, error)
	StopSession() error
	Status() monitor.Status
}

// Store is the session history the server reads; *db.DB implements it.
type Store interface {
	Sessions(limit int) ([]db.Session, error)
	Session(id string) (db.Session, error)
	Alerts(sessionID string) ([]db.Alert, error)
	Scores(sessionID string) ([]db.ScoreSample, error)
}

const defaultSessionLimit = 50

type Server struct {
	mon   Monitor
	store Store
}

// NewServer returns a Server. A nil store disables the history endpoints.
func NewServer(mon Monitor, store Store) *Server {
	return &Server{mon: mon, store: store}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/session/start", s.startSession)
	mux.HandleFunc("/api/session/stop", s.stopSession)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/sessions/{id}", s.showSession)
	mux.HandleFunc("/api/sessions/{id}/alerts", s.listAlerts)
	mux.HandleFunc("/api/sessions/{id}/scores", s.listScores)
	mux.HandleFunc("/api/sessions/{id}/chart.png", s.sessionChart)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	id, err := s.mon.StartSession()
	if errors.Is(err, monitor.ErrSessionActive) {
		httputil.Conflict(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.mon.StopSession(); err != nil {
		if errors.Is(err, monitor.ErrNoSession) {
			httputil.Conflict(w, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.mon.Status())
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, s.mon.Status())
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, version.Get())
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if !s.historyRequest(w, r) {
		return
	}

	limit := defaultSessionLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	sessions, err := s.store.Sessions(limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve sessions: "+err.Error())
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	if !s.historyRequest(w, r) {
		return
	}
	session, ok := s.lookup(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, session)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	if !s.historyRequest(w, r) {
		return
	}
	session, ok := s.lookup(w, r)
	if !ok {
		return
	}
	alerts, err := s.store.Alerts(session.ID)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve alerts: "+err.Error())
		return
	}
	if alerts == nil {
		alerts = []db.Alert{}
	}
	httputil.WriteJSONOK(w, alerts)
}

func (s *Server) listScores(w http.ResponseWriter, r *http.Request) {
	if !s.historyRequest(w, r) {
		return
	}
	session, ok := s.lookup(w, r)
	if !ok {
		return
	}
	scores, err := s.store.Scores(session.ID)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve scores: "+err.Error())
		return
	}
	if scores == nil {
		scores = []db.ScoreSample{}
	}
	httputil.WriteJSONOK(w, scores)
}

func (s *Server) sessionChart(w http.ResponseWriter, r *http.Request) {
	if !s.historyRequest(w, r) {
		return
	}
	session, ok := s.lookup(w, r)
	if !ok {
		return
	}
	scores, err := s.store.Scores(session.ID)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve scores: "+err.Error())
		return
	}
	alerts, err := s.store.Alerts(session.ID)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve alerts: "+err.Error())
		return
	}

	p, err := report.ScoreChart(session.ID, scores, alerts, session.Options.GoodThreshold)
	if errors.Is(err, report.ErrNoScores) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if err := report.WritePNG(w, p, 0, 0); err != nil {
		monitoring.Logf("api: chart for session %s: %v", session.ID, err)
	}
}

// historyRequest checks the method and that a store is configured.
func (s *Server) historyRequest(w http.ResponseWriter, r *http.Request) bool {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return false
	}
	if s.store == nil {
		httputil.ServiceUnavailable(w, "session history is not available")
		return false
	}
	return true
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (db.Session, bool) {
	session, err := s.store.Session(r.PathValue("id"))
	if errors.Is(err, db.ErrSessionNotFound) {
		httputil.NotFound(w, err.Error())
		return db.Session{}, false
	}
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve session: "+err.Error())
		return db.Session{}, false
	}
	return session, true
}
