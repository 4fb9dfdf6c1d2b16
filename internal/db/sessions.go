package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/posture.report/internal/posture"
)

// ErrSessionNotFound is returned when a session ID is unknown.
var ErrSessionNotFound = errors.New("db: session not found")

// Session is a persisted monitoring session.
type Session struct {
	ID           string                     `json:"id"`
	StartedAt    time.Time                  `json:"started_at"`
	EndedAt      *time.Time                 `json:"ended_at,omitempty"`
	Options      posture.Options            `json:"options"`
	Calibration  *posture.CalibrationResult `json:"calibration,omitempty"`
	CalibratedAt *time.Time                 `json:"calibrated_at,omitempty"`
	EndReason    string                     `json:"end_reason,omitempty"`
	AlertCount   int                        `json:"alert_count"`
	ScoreSamples int                        `json:"score_samples"`
	GoodFraction float64                    `json:"good_fraction"`
}

// Alert is a persisted slouch alert.
type Alert struct {
	ID        int64         `json:"id"`
	SessionID string        `json:"session_id"`
	Time      time.Time     `json:"time"`
	BadFor    time.Duration `json:"bad_for"`
	Score     float64       `json:"score"`
}

// ScoreSample is a periodic posture score snapshot.
type ScoreSample struct {
	SessionID string             `json:"session_id"`
	Time      time.Time          `json:"time"`
	Score     float64            `json:"score"`
	IsGood    bool               `json:"is_good"`
	State     posture.AlertState `json:"state"`
}

func (s *ScoreSample) String() string {
	return fmt.Sprintf("%s score=%.1f good=%v state=%s", s.Time.Format(time.RFC3339), s.Score, s.IsGood, s.State)
}

// RecordSessionStart inserts a new session row.
func (db *DB) RecordSessionStart(id string, startedAt time.Time, opts posture.Options) error {
	_, err := db.Exec(
		`INSERT INTO posture_sessions (
			session_id, started_at, calibration_ms, alert_after_ms, good_threshold, min_confidence
		) VALUES (?, ?, ?, ?, ?, ?)`,
		id, startedAt.UnixNano(), opts.CalibrationDuration.Milliseconds(), opts.AlertAfter.Milliseconds(),
		opts.GoodThreshold, opts.MinConfidence,
	)
	if err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}
	return nil
}

// RecordCalibration stores the calibration outcome of a session.
func (db *DB) RecordCalibration(id string, at time.Time, res posture.CalibrationResult) error {
	return db.updateSession(
		`UPDATE posture_sessions SET
			baseline = ?, calibration_samples = ?, calibration_stddev = ?,
			calibration_min = ?, calibration_max = ?, calibrated_at = ?
		WHERE session_id = ?`,
		id, res.Baseline, res.Samples, res.StdDev, res.Min, res.Max, at.UnixNano(), id,
	)
}

// RecordSessionEnd marks a session as finished. A session that already
// ended keeps its first end time and reason.
func (db *DB) RecordSessionEnd(id string, at time.Time, reason string) error {
	return db.updateSession(
		`UPDATE posture_sessions SET
			ended_at = COALESCE(ended_at, ?),
			end_reason = COALESCE(end_reason, ?)
		WHERE session_id = ?`,
		id, at.UnixNano(), reason, id,
	)
}

func (db *DB) updateSession(query, id string, args ...interface{}) error {
	res, err := db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// RecordAlert stores one alert.
func (db *DB) RecordAlert(a Alert) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO posture_alerts (session_id, ts, bad_for_ms, score) VALUES (?, ?, ?, ?)`,
		a.SessionID, a.Time.UnixNano(), a.BadFor.Milliseconds(), a.Score,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record alert: %w", err)
	}
	return res.LastInsertId()
}

// RecordScore stores one score sample.
func (db *DB) RecordScore(s ScoreSample) error {
	_, err := db.Exec(
		`INSERT INTO posture_scores (session_id, ts, score, is_good, state) VALUES (?, ?, ?, ?, ?)`,
		s.SessionID, s.Time.UnixNano(), s.Score, s.IsGood, string(s.State),
	)
	if err != nil {
		return fmt.Errorf("failed to record score: %w", err)
	}
	return nil
}

const sessionColumns = `
	s.session_id, s.started_at, s.ended_at, s.calibration_ms, s.alert_after_ms,
	s.good_threshold, s.min_confidence, s.baseline, s.calibration_samples,
	s.calibration_stddev, s.calibration_min, s.calibration_max, s.calibrated_at,
	s.end_reason,
	(SELECT COUNT(*) FROM posture_alerts a WHERE a.session_id = s.session_id),
	(SELECT COUNT(*) FROM posture_scores p WHERE p.session_id = s.session_id),
	(SELECT COALESCE(AVG(p.is_good), 0) FROM posture_scores p WHERE p.session_id = s.session_id)`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s                        Session
		startedAt, calibrationMS int64
		alertAfterMS             int64
		endedAt, calibratedAt    sql.NullInt64
		baseline, stddev, lo, hi sql.NullFloat64
		samples                  sql.NullInt64
		endReason                sql.NullString
	)
	if err := row.Scan(
		&s.ID, &startedAt, &endedAt, &calibrationMS, &alertAfterMS,
		&s.Options.GoodThreshold, &s.Options.MinConfidence, &baseline, &samples,
		&stddev, &lo, &hi, &calibratedAt,
		&endReason,
		&s.AlertCount, &s.ScoreSamples, &s.GoodFraction,
	); err != nil {
		return Session{}, err
	}

	s.StartedAt = time.Unix(0, startedAt).UTC()
	s.Options.CalibrationDuration = time.Duration(calibrationMS) * time.Millisecond
	s.Options.AlertAfter = time.Duration(alertAfterMS) * time.Millisecond
	if endedAt.Valid {
		t := time.Unix(0, endedAt.Int64).UTC()
		s.EndedAt = &t
	}
	if baseline.Valid {
		s.Calibration = &posture.CalibrationResult{
			Baseline: baseline.Float64,
			Samples:  int(samples.Int64),
			StdDev:   stddev.Float64,
			Min:      lo.Float64,
			Max:      hi.Float64,
			Duration: s.Options.CalibrationDuration,
		}
	}
	if calibratedAt.Valid {
		t := time.Unix(0, calibratedAt.Int64).UTC()
		s.CalibratedAt = &t
	}
	s.EndReason = endReason.String
	return s, nil
}

// Session returns one session by ID.
func (db *DB) Session(id string) (Session, error) {
	row := db.QueryRow(`SELECT `+sessionColumns+` FROM posture_sessions s WHERE s.session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, err
}

// Sessions returns the most recent sessions, newest first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+sessionColumns+` FROM posture_sessions s ORDER BY s.started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Alerts returns the alerts of a session in time order.
func (db *DB) Alerts(sessionID string) ([]Alert, error) {
	rows, err := db.Query(
		`SELECT alert_id, session_id, ts, bad_for_ms, score FROM posture_alerts WHERE session_id = ? ORDER BY ts`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		var ts, badForMS int64
		if err := rows.Scan(&a.ID, &a.SessionID, &ts, &badForMS, &a.Score); err != nil {
			return nil, err
		}
		a.Time = time.Unix(0, ts).UTC()
		a.BadFor = time.Duration(badForMS) * time.Millisecond
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return alerts, nil
}

// Scores returns the score samples of a session in time order.
func (db *DB) Scores(sessionID string) ([]ScoreSample, error) {
	rows, err := db.Query(
		`SELECT session_id, ts, score, is_good, state FROM posture_scores WHERE session_id = ? ORDER BY ts`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []ScoreSample
	for rows.Next() {
		var s ScoreSample
		var ts int64
		var state string
		if err := rows.Scan(&s.SessionID, &ts, &s.Score, &s.IsGood, &state); err != nil {
			return nil, err
		}
		s.Time = time.Unix(0, ts).UTC()
		s.State = posture.AlertState(state)
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}
