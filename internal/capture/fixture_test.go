package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posture.report/internal/timeutil"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestFixture_PacesFramesOnClock(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(t0)
	src := &Fixture{Count: 3, Interval: 100 * time.Millisecond, Clock: clock, Width: 64, Height: 48}

	for i := 1; i <= 3; i++ {
		f, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(i), f.Seq)
		assert.Equal(t, t0.Add(time.Duration(i)*100*time.Millisecond), f.Timestamp)
		assert.Equal(t, 64, f.Width)
		assert.Equal(t, 48, f.Height)
	}

	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, ErrEndOfStream)
	assert.Len(t, clock.Sleeps(), 3)
}

func TestFixture_FailInjection(t *testing.T) {
	t.Parallel()
	errBlank := errors.New("blank frame")
	src := &Fixture{
		Count: 4,
		Clock: timeutil.NewMockClock(t0),
		Fail: func(seq uint64) error {
			if seq == 2 {
				return errBlank
			}
			return nil
		},
	}

	var got []error
	for i := 0; i < 4; i++ {
		_, err := src.Next(context.Background())
		got = append(got, err)
	}
	assert.NoError(t, got[0])
	assert.ErrorIs(t, got[1], errBlank)
	assert.NoError(t, got[2])
	assert.NoError(t, got[3])
}

func TestFixture_CloseAndCancel(t *testing.T) {
	t.Parallel()
	src := &Fixture{Clock: timeutil.NewMockClock(t0)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, src.Close())
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRGBCaps(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "video/x-raw,format=RGB,width=640,height=480", rgbCaps(640, 480))
}
