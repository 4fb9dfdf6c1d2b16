// Package capture supplies video frames to the posture monitor, either from
// a live camera through GStreamer or from a paced synthetic fixture.
package capture

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEndOfStream is returned by Next once a source has no more frames.
	ErrEndOfStream = errors.New("capture: end of stream")

	// ErrReadTimeout is returned when no frame arrived within the read timeout.
	ErrReadTimeout = errors.New("capture: frame read timed out")

	// ErrClosed is returned by Next after Close.
	ErrClosed = errors.New("capture: source closed")
)

// Frame is a single captured image. Data holds packed RGB pixels
// (Width*Height*3 bytes) for camera frames; fixture frames may be empty.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
}

// Source yields frames one at a time. Next blocks until a frame is
// available, the context is cancelled or the source fails. Errors other
// than ErrEndOfStream are treated as transient read failures by callers.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}
