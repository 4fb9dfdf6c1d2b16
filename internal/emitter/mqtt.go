// Package emitter publishes posture events to an MQTT broker so other
// devices (desk lamps, dashboards, phones) can react to slouching.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/posture.report/internal/monitor"
	"github.com/banshee-data/posture.report/internal/monitoring"
)

// Publisher is the subset of mqtt.Client the emitter needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Config describes the broker connection and topic layout.
type Config struct {
	Broker      string // e.g. tcp://localhost:1883
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string

	// ScoreInterval throttles score messages; zero publishes every frame.
	ScoreInterval time.Duration
}

// Topic suffixes under the configured prefix.
const (
	TopicStatus  = "status"  // retained: latest status text and state
	TopicAlert   = "alert"   // one message per slouch alert
	TopicScore   = "score"   // throttled live score
	TopicSession = "session" // start, stop and calibration results
)

const publishTimeout = 2 * time.Second

// MQTT forwards hub events to MQTT topics.
type MQTT struct {
	client        Publisher
	prefix        string
	scoreInterval time.Duration

	mu        sync.Mutex
	published map[string]uint64
	errors    uint64
	lastScore time.Time
}

// New wraps an already connected client.
func New(client Publisher, prefix string, scoreInterval time.Duration) *MQTT {
	if prefix == "" {
		prefix = "posture"
	}
	return &MQTT{
		client:        client,
		prefix:        prefix,
		scoreInterval: scoreInterval,
		published:     make(map[string]uint64),
	}
}

// Dial connects to the broker and returns an emitter plus the client so the
// caller can disconnect it. A retained "offline" status is registered as the
// connection's last will.
func Dial(cfg Config) (*MQTT, mqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, nil, fmt.Errorf("emitter: broker address is required")
	}
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "posture"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(prefix+"/"+TopicStatus, `{"status":"offline"}`, 1, true)

	opts.OnConnect = func(c mqtt.Client) {
		monitoring.Logf("emitter: mqtt connected broker=%s client_id=%s", cfg.Broker, cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		monitoring.Logf("emitter: mqtt connection lost, will auto-reconnect: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, nil, fmt.Errorf("emitter: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}

	return New(client, prefix, cfg.ScoreInterval), client, nil
}

// Run publishes events until ctx is cancelled or the channel is closed.
func (e *MQTT) Run(ctx context.Context, events <-chan monitor.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := e.Handle(ev); err != nil {
				monitoring.Logf("emitter: %v", err)
			}
		}
	}
}

// Handle publishes a single event to its topic. Events without a topic are
// ignored.
func (e *MQTT) Handle(ev monitor.Event) error {
	var (
		suffix   string
		qos      byte
		retained bool
		payload  interface{} = ev
	)

	switch ev.Kind {
	case monitor.KindStatus:
		suffix, qos, retained = TopicStatus, 1, true
		payload = statusMessage{Status: ev.Status, SessionID: ev.SessionID, Time: ev.Time}
	case monitor.KindAlert:
		suffix, qos = TopicAlert, 1
	case monitor.KindFrame:
		if !e.scoreDue(ev.Time) {
			return nil
		}
		suffix = TopicScore
	case monitor.KindSessionStarted, monitor.KindSessionStopped,
		monitor.KindCalibrated, monitor.KindCalibrationFailed:
		suffix, qos = TopicSession, 1
	default:
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal %s event: %w", ev.Kind, err)
	}
	return e.publish(e.prefix+"/"+suffix, qos, retained, data)
}

type statusMessage struct {
	Status    string    `json:"status"`
	SessionID string    `json:"session_id,omitempty"`
	Time      time.Time `json:"time"`
}

func (e *MQTT) scoreDue(t time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scoreInterval > 0 && !e.lastScore.IsZero() && t.Sub(e.lastScore) < e.scoreInterval {
		return false
	}
	e.lastScore = t
	return true
}

func (e *MQTT) publish(topic string, qos byte, retained bool, payload []byte) error {
	token := e.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()
	monitoring.Debugf("emitter: published topic=%s size=%d", topic, len(payload))
	return nil
}

func (e *MQTT) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// Stats contains emitter statistics
type Stats struct {
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Stats returns a copy of the emitter counters.
func (e *MQTT) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Published: published, Errors: e.errors}
}
