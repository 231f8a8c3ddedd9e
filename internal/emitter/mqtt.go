// Package emitter publishes inference summaries to an MQTT broker and listens for
// remote control commands.
package emitter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"github.com/ayusman/segcam/internal/detector"
)

const (
	DefaultTopic          = "segcam"
	DefaultBuffer         = 64
	DefaultConnectTimeout = 5 * time.Second
	DefaultPublishTimeout = 2 * time.Second
)

var (
	// ErrNoBroker is returned by Connect when no broker address is configured.
	ErrNoBroker = errors.New("mqtt broker not configured")
	// ErrConnectTimeout is returned when the broker does not answer in time.
	ErrConnectTimeout = errors.New("mqtt connection timeout")
	// ErrPublishTimeout is recorded when a publish is not acknowledged in time.
	ErrPublishTimeout = errors.New("mqtt publish timeout")
)

// Config describes the broker connection.
type Config struct {
	Broker         string
	Topic          string
	ClientID       string
	QoS            byte
	Buffer         int
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	c.Topic = strings.TrimSuffix(c.Topic, "/")
	if c.ClientID == "" {
		c.ClientID = "segcam"
	}
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
}

// brokerURL adds a tcp:// scheme when the address has none.
func brokerURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "tcp://" + addr
}

// Message is the JSON payload published for each result.
type Message struct {
	SessionID string `json:"session_id,omitempty"`
	detector.Summary
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Stats contains emitter counters.
type Stats struct {
	Published uint64
	Dropped   uint64
	Errors    uint64
}

// Emitter publishes summaries from a bounded queue on its own goroutine, so a slow
// broker never stalls the caller.
type Emitter struct {
	cfg       Config
	client    publisher
	conn      mqtt.Client
	sessionID string

	mu     sync.RWMutex // guards closed against sends on a closed channel
	closed bool
	in     chan Message
	done   chan struct{}
	once   sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
}

// Connect dials the broker and starts the publishing goroutine.
func Connect(cfg Config, sessionID string) (*Emitter, error) {
	if cfg.Broker == "" {
		return nil, ErrNoBroker
	}
	cfg.applyDefaults()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		glog.Infof("mqtt: connected to %s as %s", cfg.Broker, cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		glog.Warningf("mqtt: connection lost, reconnecting: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("%w (%s)", ErrConnectTimeout, cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}

	e := newEmitter(client, cfg, sessionID)
	e.conn = client
	return e, nil
}

func newEmitter(client publisher, cfg Config, sessionID string) *Emitter {
	cfg.applyDefaults()
	e := &Emitter{
		cfg:       cfg,
		client:    client,
		sessionID: sessionID,
		in:        make(chan Message, cfg.Buffer),
		done:      make(chan struct{}),
	}
	go e.run()
	return e
}

// Topic returns the topic a summary of kind is published on.
func (e *Emitter) Topic(kind detector.Kind) string {
	return e.cfg.Topic + "/" + string(kind)
}

// Emit queues a summary for publishing. It reports false when the queue was full.
// Emit must not be called after Close.
func (e *Emitter) Emit(s detector.Summary) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return false
	}
	select {
	case e.in <- Message{SessionID: e.sessionID, Summary: s}:
		return true
	default:
		e.dropped.Add(1)
		return false
	}
}

// Listen subscribes to the control topic of a connected emitter.
func (e *Emitter) Listen(handlers Handlers) (*Control, error) {
	if e.conn == nil {
		return nil, ErrNoBroker
	}
	c := newControl(e.conn, e.ControlTopic(), e.cfg.QoS, handlers)
	if err := c.subscribe(e.cfg.ConnectTimeout); err != nil {
		return nil, err
	}
	return c, nil
}

// ControlTopic returns the topic commands are read from.
func (e *Emitter) ControlTopic() string {
	return e.cfg.Topic + "/control"
}

// Close publishes what is queued, then disconnects.
func (e *Emitter) Close() {
	e.once.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.in)
		e.mu.Unlock()
		<-e.done
		if e.conn != nil {
			e.conn.Disconnect(250)
		}
	})
}

// Stats returns a snapshot of the emitter counters.
func (e *Emitter) Stats() Stats {
	return Stats{
		Published: e.published.Load(),
		Dropped:   e.dropped.Load(),
		Errors:    e.errors.Load(),
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for msg := range e.in {
		if err := e.publish(msg); err != nil {
			e.errors.Add(1)
			glog.Warningf("mqtt: %v", err)
			continue
		}
		e.published.Add(1)
	}
}

func (e *Emitter) publish(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode result %d: %w", msg.Seq, err)
	}

	topic := e.Topic(msg.Kind)
	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(e.cfg.PublishTimeout) {
		return fmt.Errorf("%w on %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	if glog.V(2) {
		glog.Infof("mqtt: published seq %d to %s (%d bytes)", msg.Seq, topic, len(payload))
	}
	return nil
}
