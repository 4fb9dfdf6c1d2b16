package landmarks

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/posture.report/internal/capture"
	"github.com/banshee-data/posture.report/internal/posture"
)

// ReplayRecord is one line of a replay fixture. A record without landmarks
// replays a frame where nobody was detected.
type ReplayRecord struct {
	Landmarks posture.LandmarkSet `json:"landmarks,omitempty"`
}

// Replay is a Detector that returns recorded landmarks in order, one record
// per frame, keyed by frame sequence. Frames past the end repeat the last
// record when Loop is false, or wrap around when it is true.
type Replay struct {
	records []ReplayRecord
	Loop    bool
}

// NewReplay builds a Replay from in-memory records.
func NewReplay(records []ReplayRecord) *Replay {
	return &Replay{records: records}
}

// LoadReplay reads a JSON-lines replay fixture.
func LoadReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay fixture: %w", err)
	}
	defer f.Close()
	return ReadReplay(f)
}

// ReadReplay parses JSON-lines records from r. Blank lines are ignored.
func ReadReplay(r io.Reader) (*Replay, error) {
	var records []ReplayRecord
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var rec ReplayRecord
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("replay line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read replay fixture: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("replay fixture is empty")
	}
	return &Replay{records: records}, nil
}

// Len returns the number of records.
func (r *Replay) Len() int { return len(r.records) }

// Detect returns the record for frame.Seq (1-based).
func (r *Replay) Detect(ctx context.Context, frame capture.Frame) (posture.LandmarkSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(r.records) == 0 {
		return nil, ErrNotDetected
	}

	idx := 0
	if frame.Seq > 0 {
		idx = int(frame.Seq - 1)
	}
	if idx >= len(r.records) {
		if r.Loop {
			idx %= len(r.records)
		} else {
			idx = len(r.records) - 1
		}
	}

	rec := r.records[idx]
	if len(rec.Landmarks) == 0 {
		return nil, ErrNotDetected
	}
	return rec.Landmarks, nil
}
