package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishSubscribe(t *testing.T) {
	t.Parallel()
	h := NewHub()
	id1, c1 := h.Subscribe()
	_, c2 := h.Subscribe()
	require.NotEqual(t, "", id1)
	assert.Equal(t, 2, h.Len())

	h.Publish(Event{Kind: KindAlert, SessionID: "s1"})

	for _, c := range []<-chan Event{c1, c2} {
		select {
		case ev := <-c:
			assert.Equal(t, KindAlert, ev.Kind)
			assert.Equal(t, "s1", ev.SessionID)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	h.Unsubscribe(id1)
	_, ok := <-c1
	assert.False(t, ok, "unsubscribed channel must be closed")
	assert.Equal(t, 1, h.Len())

	h.Unsubscribe("unknown") // no-op
}

func TestHub_FullSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()
	h := NewHub()
	_, c := h.Subscribe()

	for i := 0; i < DefaultSubscriberBuffer+10; i++ {
		h.Publish(Event{Kind: KindFrame, Score: float64(i)})
	}
	assert.Len(t, c, DefaultSubscriberBuffer)

	first := <-c
	assert.Equal(t, 0.0, first.Score, "oldest events are kept, overflow is dropped")
}

func TestHub_Close(t *testing.T) {
	t.Parallel()
	h := NewHub()
	_, c := h.Subscribe()
	h.Close()

	_, ok := <-c
	assert.False(t, ok)

	_, late := h.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscriptions after Close are closed immediately")
	assert.NotPanics(t, func() { h.Publish(Event{Kind: KindStatus}) })
}
