package capture

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/posture.report/internal/timeutil"
)

// Fixture is a synthetic Source for development and tests. It yields Count
// empty frames paced by Interval on Clock, then ErrEndOfStream. A Count of
// zero never ends.
type Fixture struct {
	Count    uint64
	Interval time.Duration
	Clock    timeutil.Clock
	Width    int
	Height   int

	// Fail, when set, is consulted before each frame; a non-nil error is
	// returned instead of the frame and the sequence still advances.
	Fail func(seq uint64) error

	mu     sync.Mutex
	seq    uint64
	closed bool
}

// Next sleeps for Interval and returns the next frame.
func (f *Fixture) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return Frame{}, ErrClosed
	}
	if f.Count > 0 && f.seq >= f.Count {
		f.mu.Unlock()
		return Frame{}, ErrEndOfStream
	}
	f.seq++
	seq := f.seq
	f.mu.Unlock()

	clock := f.clock()
	if f.Interval > 0 {
		clock.Sleep(f.Interval)
	}
	if f.Fail != nil {
		if err := f.Fail(seq); err != nil {
			return Frame{}, err
		}
	}
	return Frame{
		Seq:       seq,
		Timestamp: clock.Now(),
		Width:     f.Width,
		Height:    f.Height,
	}, nil
}

// Close makes subsequent Next calls fail with ErrClosed.
func (f *Fixture) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *Fixture) clock() timeutil.Clock {
	if f.Clock == nil {
		return timeutil.RealClock{}
	}
	return f.Clock
}
