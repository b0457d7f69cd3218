package emitter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrNotConnected is returned by Emit while the broker connection is down.
var ErrNotConnected = errors.New("mqtt not connected")

// MQTTConfig contains broker settings.
type MQTTConfig struct {
	Broker   string // host:port
	Topic    string // results go to <Topic>/<worker>
	ClientID string // a random suffix is appended
	Encoding string // json, msgpack
	QoS      byte
}

// MQTTStats contains sink statistics.
type MQTTStats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// MQTTSink publishes results to an MQTT broker.
type MQTTSink struct {
	cfg    MQTTConfig
	client mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

var _ Sink = (*MQTTSink)(nil)

// NewMQTTSink creates an unconnected sink.
func NewMQTTSink(cfg MQTTConfig) *MQTTSink {
	if cfg.Encoding == "" {
		cfg.Encoding = EncodingJSON
	}
	return &MQTTSink{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// Name identifies the sink in logs.
func (s *MQTTSink) Name() string { return "mqtt" }

// Connect establishes the broker connection. The client reconnects on its
// own after a later connection loss.
func (s *MQTTSink) Connect(ctx context.Context) error {
	clientID := fmt.Sprintf("%s-%s", s.cfg.ClientID, uuid.NewString()[:8])

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", s.cfg.Broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		s.setConnected(true)
		log.Info().Str("broker", s.cfg.Broker).Str("client_id", clientID).Msg("mqtt connection established")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.setConnected(false)
		log.Warn().Err(err).Str("broker", s.cfg.Broker).Msg("mqtt connection lost, will auto-reconnect")
	}

	s.client = mqtt.NewClient(opts)

	log.Info().Str("broker", s.cfg.Broker).Msg("connecting to mqtt broker")

	token := s.client.Connect()
	if err := waitToken(ctx, token, 5*time.Second); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	s.setConnected(true)
	return nil
}

// Emit publishes msg to <Topic>/<worker>.
func (s *MQTTSink) Emit(ctx context.Context, msg Message) error {
	if !s.isConnected() {
		s.countError()
		return ErrNotConnected
	}

	payload, err := msg.Encode(s.cfg.Encoding)
	if err != nil {
		s.countError()
		return fmt.Errorf("encode message: %w", err)
	}

	topic := fmt.Sprintf("%s/%s", s.cfg.Topic, msg.Worker)
	token := s.client.Publish(topic, s.cfg.QoS, false, payload)
	if err := waitToken(ctx, token, 2*time.Second); err != nil {
		s.countError()
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	s.mu.Lock()
	s.published[topic]++
	s.mu.Unlock()

	log.Debug().Str("topic", topic).Int("size", len(payload)).Msg("result published")
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
		log.Info().Msg("mqtt disconnected")
	}
	s.setConnected(false)
	return nil
}

// Stats returns sink statistics.
func (s *MQTTSink) Stats() MQTTStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	published := make(map[string]uint64, len(s.published))
	for k, v := range s.published {
		published[k] = v
	}
	return MQTTStats{
		Connected: s.connected,
		Published: published,
		Errors:    s.errors,
	}
}

func (s *MQTTSink) setConnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = v
}

func (s *MQTTSink) isConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *MQTTSink) countError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
}

// waitToken waits for a paho token, a timeout or ctx, whichever comes first.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-t.C:
		return errors.New("timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}
