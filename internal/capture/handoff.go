package capture

import (
	"context"
	"time"

	"github.com/banshee-data/posture.report/internal/monitoring"
)

// pushNewest hands f to a single-slot channel, replacing an unread frame if
// the reader has fallen behind. It must only be called from the single
// producing goroutine. It reports whether an older frame was discarded.
func pushNewest(ch chan Frame, f Frame) bool {
	select {
	case ch <- f:
		return false
	default:
	}

	dropped := false
	select {
	case <-ch:
		dropped = true
	default:
	}
	ch <- f
	return dropped
}

// withRetry calls open up to attempts times, waiting wait between failures.
func withRetry[T any](ctx context.Context, attempts int, wait time.Duration, open func() (T, error)) (T, error) {
	var (
		v   T
		err error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err = open()
		if err == nil {
			return v, nil
		}
		if attempt == attempts {
			break
		}
		monitoring.Logf("capture: open attempt %d/%d failed: %v", attempt, attempts, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return v, ctx.Err()
		case <-timer.C:
		}
	}
	return v, err
}
