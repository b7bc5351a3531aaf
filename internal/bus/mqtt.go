package bus

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// DefaultTopic is the local broker topic the control loop publishes on.
const DefaultTopic = "boxcounter/observability"

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// MQTTConfig selects the local broker connection.
type MQTTConfig struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Topic    string // defaults to DefaultTopic
}

func (c MQTTConfig) topic() string {
	if c.Topic == "" {
		return DefaultTopic
	}
	return c.Topic
}

// dial connects a paho client that keeps reconnecting in the background.
// A broker that is unreachable at startup is not an error; the client keeps
// retrying and publishes fail with ErrNotConnected until it succeeds.
func dial(cfg MQTTConfig, log *zap.SugaredLogger, onConnect paho.OnConnectHandler) paho.Client {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true).
		SetOnConnectHandler(func(c paho.Client) {
			log.Infow("connected to broker", "broker", cfg.Broker, "client_id", cfg.ClientID)
			if onConnect != nil {
				onConnect(c)
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warnw("broker connection lost", "broker", cfg.Broker, "error", err)
		})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Warnw("broker not reachable yet, retrying in background", "broker", cfg.Broker)
	} else if err := token.Error(); err != nil {
		log.Warnw("connect to broker", "broker", cfg.Broker, "error", err)
	}
	return client
}

// MQTTPublisher publishes envelopes to a local MQTT broker.
type MQTTPublisher struct {
	client paho.Client
	topic  string
}

// NewMQTTPublisher creates a publisher for the given broker.
func NewMQTTPublisher(cfg MQTTConfig, log *zap.SugaredLogger) *MQTTPublisher {
	return &MQTTPublisher{
		client: dial(cfg, log, nil),
		topic:  cfg.topic(),
	}
}

// Publish sends an envelope to the broker. It fails fast while disconnected.
func (p *MQTTPublisher) Publish(env Envelope) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	payload, err := Encode(env)
	if err != nil {
		return err
	}

	// QoS 0 (at-most-once), not retained
	token := p.client.Publish(p.topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// IsConnected implements ConnectionStatus.
func (p *MQTTPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

// MQTTSubscriber receives envelopes from a local MQTT broker.
// The subscription is renewed on every reconnect.
type MQTTSubscriber struct {
	cfg MQTTConfig
	log *zap.SugaredLogger

	mu      sync.Mutex
	handler func(Envelope)
	client  paho.Client
}

// NewMQTTSubscriber connects to the broker. Call Subscribe to start receiving.
func NewMQTTSubscriber(cfg MQTTConfig, log *zap.SugaredLogger) *MQTTSubscriber {
	s := &MQTTSubscriber{cfg: cfg, log: log}
	s.client = dial(cfg, log, s.resubscribe)
	return s
}

// Subscribe implements Subscriber. Undecodable messages are logged and skipped.
func (s *MQTTSubscriber) Subscribe(handler func(Envelope)) error {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()

	if !s.client.IsConnectionOpen() {
		// resubscribe runs once the connection comes up
		return nil
	}
	return s.subscribe(s.client)
}

func (s *MQTTSubscriber) resubscribe(c paho.Client) {
	s.mu.Lock()
	has := s.handler != nil
	s.mu.Unlock()
	if !has {
		return
	}
	// Subscribing from inside the connect handler must not block on the token.
	go func() {
		if err := s.subscribe(c); err != nil {
			s.log.Warnw("resubscribe", "topic", s.cfg.topic(), "error", err)
		}
	}()
}

func (s *MQTTSubscriber) subscribe(c paho.Client) error {
	token := c.Subscribe(s.cfg.topic(), 0, s.onMessage)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.topic(), err)
	}
	s.log.Infow("subscribed", "topic", s.cfg.topic())
	return nil
}

func (s *MQTTSubscriber) onMessage(_ paho.Client, msg paho.Message) {
	env, err := Decode(msg.Payload())
	if err != nil {
		s.log.Warnw("dropping undecodable message", "topic", msg.Topic(), "error", err)
		return
	}
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler != nil {
		handler(env)
	}
}

// IsConnected implements ConnectionStatus.
func (s *MQTTSubscriber) IsConnected() bool {
	return s.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (s *MQTTSubscriber) Close() error {
	s.client.Disconnect(1000)
	return nil
}
