package landmarks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/posture.report/internal/capture"
	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture"
)

// ErrWorkerTimeout is returned when the worker does not answer in time.
var ErrWorkerTimeout = errors.New("landmarks: worker timed out")

// ErrWorkerClosed is returned once the worker's output stream has ended.
var ErrWorkerClosed = errors.New("landmarks: worker closed")

// client runs the request/response protocol over a pair of streams. One
// request is in flight at a time; answers to requests that already timed out
// are discarded by sequence number.
type client struct {
	w       io.Writer
	timeout time.Duration

	mu  sync.Mutex
	seq uint64

	responses chan response
	closed    chan struct{}
	readErr   error
}

func newClient(r io.Reader, w io.Writer, timeout time.Duration) *client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	c := &client{
		w:         w,
		timeout:   timeout,
		responses: make(chan response, 1),
		closed:    make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

func (c *client) readLoop(r io.Reader) {
	defer close(c.closed)
	for {
		var resp response
		if err := readMessage(r, &resp); err != nil {
			if !errors.Is(err, io.EOF) {
				monitoring.Logf("landmarks: worker read failed: %v", err)
				c.readErr = err
			}
			return
		}
		// Keep only the newest answer if the requester has gone away.
		select {
		case c.responses <- resp:
		default:
			select {
			case <-c.responses:
			default:
			}
			c.responses <- resp
		}
	}
}

func (c *client) Detect(ctx context.Context, frame capture.Frame) (posture.LandmarkSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	seq := c.seq
	req := request{Seq: seq, FrameData: frame.Data, Width: frame.Width, Height: frame.Height}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	writeErr := make(chan error, 1)
	go func() { writeErr <- writeMessage(c.w, req) }()

	select {
	case err := <-writeErr:
		if err != nil {
			return nil, fmt.Errorf("failed to send frame %d: %w", frame.Seq, err)
		}
	case <-timer.C:
		return nil, fmt.Errorf("%w: write of frame %d", ErrWorkerTimeout, frame.Seq)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for {
		select {
		case resp := <-c.responses:
			if resp.Seq < seq {
				monitoring.Debugf("landmarks: discarding stale response seq=%d", resp.Seq)
				continue
			}
			return resp.landmarkSet()
		case <-c.closed:
			if c.readErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrWorkerClosed, c.readErr)
			}
			return nil, ErrWorkerClosed
		case <-timer.C:
			return nil, fmt.Errorf("%w: frame %d", ErrWorkerTimeout, frame.Seq)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r response) landmarkSet() (posture.LandmarkSet, error) {
	if r.Error != "" {
		return nil, fmt.Errorf("landmarks: worker error: %s", r.Error)
	}
	if !r.Detected || len(r.Landmarks) == 0 {
		return nil, ErrNotDetected
	}
	return posture.LandmarkSet(r.Landmarks), nil
}
