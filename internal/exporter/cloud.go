package exporter

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// DefaultBufferSize bounds the records held while the cloud is unreachable.
const DefaultBufferSize = 1000

const (
	cloudConnectTimeout = 10 * time.Second
	cloudPublishTimeout = 5 * time.Second
)

// ErrSinkClosed is returned by Send after Close.
var ErrSinkClosed = errors.New("exporter: sink closed")

// CloudConfig selects the cloud broker connection.
type CloudConfig struct {
	Broker     string // e.g. ssl://hub.example.net:8883
	DeviceID   string
	Username   string
	Password   string
	BufferSize int
}

// Topic returns the device-to-cloud topic for a message type. Message
// properties travel in the topic name.
func Topic(deviceID, messageType string) string {
	return fmt.Sprintf("devices/%s/messages/events/messageType=%s&$.ct=application%%2Fjson&$.ce=utf-8",
		deviceID, messageType)
}

// mqttClient is the part of paho.Client the sink uses.
type mqttClient interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// CloudMQTT sends records to the cloud broker with QoS 1. While the
// connection is down records are buffered and replayed in order once it
// comes back, so delivery is at-least-once up to the buffer size.
type CloudMQTT struct {
	deviceID string
	log      *zap.SugaredLogger

	mu     sync.Mutex
	client mqttClient
	buf    *ringBuffer
	closed bool
}

// NewCloudMQTT connects to the cloud broker. An unreachable broker is not an
// error; records are buffered until the background reconnect succeeds.
func NewCloudMQTT(cfg CloudConfig, log *zap.SugaredLogger) *CloudMQTT {
	c := newCloudMQTT(nil, cfg.DeviceID, cfg.BufferSize, log)

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.DeviceID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			log.Infow("connected to cloud broker", "broker", cfg.Broker, "device_id", cfg.DeviceID)
			// publishing from inside the connect handler must not block it
			go c.replay()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warnw("cloud connection lost", "broker", cfg.Broker, "error", err)
		})

	client := paho.NewClient(opts)
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(cloudConnectTimeout) {
		log.Warnw("cloud broker not reachable yet, buffering", "broker", cfg.Broker)
	} else if err := token.Error(); err != nil {
		log.Warnw("connect to cloud broker", "broker", cfg.Broker, "error", err)
	}
	return c
}

func newCloudMQTT(client mqttClient, deviceID string, bufferSize int, log *zap.SugaredLogger) *CloudMQTT {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &CloudMQTT{
		deviceID: deviceID,
		log:      log,
		client:   client,
		buf:      newRingBuffer(bufferSize),
	}
}

// Send implements Sink. A record that cannot be published now is buffered
// and Send still succeeds.
func (c *CloudMQTT) Send(messageType string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSinkClosed
	}

	msg := pending{topic: Topic(c.deviceID, messageType), payload: payload}

	// older records go first
	c.flushLocked()
	if c.buf.len() > 0 || !c.client.IsConnectionOpen() {
		c.enqueueLocked(msg)
		return nil
	}
	if err := c.publish(msg); err != nil {
		c.log.Warnw("cloud publish failed, buffering", "type", messageType, "error", err)
		c.enqueueLocked(msg)
	}
	return nil
}

// Buffered returns the number of records waiting for the connection.
func (c *CloudMQTT) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.len()
}

// IsConnected reports whether the cloud connection is up.
func (c *CloudMQTT) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client.IsConnectionOpen()
}

// Close disconnects. Buffered records are lost.
func (c *CloudMQTT) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if n := c.buf.len(); n > 0 {
		c.log.Warnw("closing cloud sink with undelivered records", "count", n)
	}
	c.client.Disconnect(1000)
	return nil
}

func (c *CloudMQTT) replay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.flushLocked()
	}
}

// flushLocked publishes buffered records in order, stopping at the first
// failure so nothing is reordered.
func (c *CloudMQTT) flushLocked() {
	if c.buf.len() == 0 || !c.client.IsConnectionOpen() {
		return
	}
	msgs := c.buf.drainAll()
	for i, m := range msgs {
		if err := c.publish(m); err != nil {
			for _, rest := range msgs[i:] {
				c.buf.push(rest)
			}
			c.log.Warnw("replay interrupted", "sent", i, "remaining", len(msgs)-i, "error", err)
			return
		}
	}
	c.log.Infow("replayed buffered records", "count", len(msgs))
}

func (c *CloudMQTT) enqueueLocked(msg pending) {
	if c.buf.push(msg) {
		c.log.Warnw("cloud buffer full, dropping oldest", "capacity", c.buf.capacity)
	}
}

func (c *CloudMQTT) publish(m pending) error {
	// QoS 1 (at-least-once), not retained
	token := c.client.Publish(m.topic, 1, false, m.payload)
	if !token.WaitTimeout(cloudPublishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
