package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posture.report/internal/monitor"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []message
	token    *fakeToken
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message{topic, qos, retained, payload.([]byte)})
	if p.token != nil {
		return p.token
	}
	return &fakeToken{}
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.messages {
		out = append(out, m.topic)
	}
	return out
}

func TestHandle_TopicRouting(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{}
	e := New(pub, "desk", 0)

	events := []monitor.Event{
		{Kind: monitor.KindSessionStarted, SessionID: "s1", Time: t0},
		{Kind: monitor.KindCalibrationProgress, Progress: 50, Time: t0},
		{Kind: monitor.KindStatus, Status: "SLOUCHING!", SessionID: "s1", Time: t0},
		{Kind: monitor.KindFrame, Score: 60, Time: t0},
		{Kind: monitor.KindAlert, SessionID: "s1", BadFor: 3100 * time.Millisecond, Time: t0},
		{Kind: monitor.KindState, Time: t0},
	}
	for _, ev := range events {
		require.NoError(t, e.Handle(ev))
	}

	assert.Equal(t, []string{"desk/session", "desk/status", "desk/score", "desk/alert"}, pub.topics())

	status := pub.messages[1]
	assert.True(t, status.retained)
	assert.Equal(t, byte(1), status.qos)
	var msg statusMessage
	require.NoError(t, json.Unmarshal(status.payload, &msg))
	assert.Equal(t, "SLOUCHING!", msg.Status)

	var alert monitor.Event
	require.NoError(t, json.Unmarshal(pub.messages[3].payload, &alert))
	assert.Equal(t, 3100*time.Millisecond, alert.BadFor)

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.Published["desk/alert"])
	assert.Zero(t, stats.Errors)
}

func TestHandle_ScoreThrottle(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{}
	e := New(pub, "", time.Second)

	for i := 0; i < 25; i++ { // 2.4s of frames at 10fps
		require.NoError(t, e.Handle(monitor.Event{Kind: monitor.KindFrame, Time: t0.Add(time.Duration(i) * 100 * time.Millisecond)}))
	}
	assert.Equal(t, []string{"posture/score", "posture/score", "posture/score"}, pub.topics())
}

func TestHandle_PublishFailures(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{token: &fakeToken{err: errors.New("not connected")}}
	e := New(pub, "desk", 0)

	err := e.Handle(monitor.Event{Kind: monitor.KindAlert})
	assert.ErrorContains(t, err, "not connected")

	pub.token = &fakeToken{timeout: true}
	err = e.Handle(monitor.Event{Kind: monitor.KindAlert})
	assert.ErrorContains(t, err, "timed out")

	assert.Equal(t, uint64(2), e.Stats().Errors)
}

func TestRun_StopsOnClose(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{}
	e := New(pub, "desk", 0)

	events := make(chan monitor.Event, 2)
	events <- monitor.Event{Kind: monitor.KindAlert}
	close(events)

	done := make(chan struct{})
	go func() {
		e.Run(context.Background(), events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}
	assert.Equal(t, []string{"desk/alert"}, pub.topics())
}

func TestDial_RequiresBroker(t *testing.T) {
	t.Parallel()
	_, _, err := Dial(Config{})
	assert.Error(t, err)
}
