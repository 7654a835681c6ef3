// internal/sink/mqtt/mqtt.go
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/codec"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/status"
)

var ErrClosed = errors.New("mqtt: sink closed")

// Publisher is the subset of paho.Client used by the sink.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Config describes the broker connection and topic layout.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retained    bool

	// Buffer is the number of messages queued before new ones are dropped.
	Buffer int
	// PublishTimeout bounds the wait for each broker acknowledgement.
	PublishTimeout time.Duration
}

type message struct {
	topic   string
	payload []byte
}

// Sink publishes register values and reachability changes.
//
// Topics:
//
//	<prefix>/<gateway>/<slave>/<address>/value
//	<prefix>/<gateway>/<slave>/<address>/status
//
// Callbacks never block the poller: messages are queued and published by a
// single goroutine; a full queue drops the message.
type Sink struct {
	cfg    Config
	pub    Publisher
	client paho.Client // nil when built with New
	log    zerolog.Logger

	out  chan message
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped uint64
	last    map[register.Key]status.Category
}

// Dial connects to the broker and returns a running sink.
func Dial(cfg Config, log zerolog.Logger) (*Sink, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost")
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
	})

	client := paho.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt: connect %s: timeout", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, err)
	}

	s := New(client, cfg, log)
	s.client = client
	return s, nil
}

// New returns a sink publishing through pub.
func New(pub Publisher, cfg Config, log zerolog.Logger) *Sink {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	cfg.TopicPrefix = strings.TrimSuffix(cfg.TopicPrefix, "/")

	s := &Sink{
		cfg:  cfg,
		pub:  pub,
		log:  log.With().Str("component", "sink.mqtt").Logger(),
		out:  make(chan message, cfg.Buffer),
		done: make(chan struct{}),
		last: make(map[register.Key]status.Category),
	}
	go s.run()
	return s
}

// ---- consumer ----

type valuePayload struct {
	Name  string      `json:"name,omitempty"`
	Value interface{} `json:"value"`
	Unit  string      `json:"unit,omitempty"`
	Text  string      `json:"text"`
	Time  time.Time   `json:"ts"`
}

type statusPayload struct {
	Name      string    `json:"name,omitempty"`
	Reachable bool      `json:"reachable"`
	Status    string    `json:"status"`
	Time      time.Time `json:"ts"`
}

func (s *Sink) OnValue(d register.Descriptor, v codec.Value) {
	data := v.Data
	if f, ok := data.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		// JSON has no NaN or infinity; text still carries it.
		data = nil
	}

	s.enqueue(Topic(s.cfg.TopicPrefix, d, "value"), valuePayload{
		Name:  d.Name,
		Value: data,
		Unit:  v.Unit,
		Text:  v.String(),
		Time:  time.Now().UTC(),
	})
}

// OnReachability publishes only transitions; the first report of a
// register is always published.
func (s *Sink) OnReachability(d register.Descriptor, reachable bool, cat status.Category) {
	if reachable {
		cat = status.None
	}

	s.mu.Lock()
	prev, seen := s.last[d.Key()]
	s.last[d.Key()] = cat
	s.mu.Unlock()
	if seen && prev == cat {
		return
	}

	s.enqueue(Topic(s.cfg.TopicPrefix, d, "status"), statusPayload{
		Name:      d.Name,
		Reachable: reachable,
		Status:    cat.String(),
		Time:      time.Now().UTC(),
	})
}

// Dropped returns the number of messages discarded on a full queue.
func (s *Sink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Sink) enqueue(topic string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Str("topic", topic).Msg("encode failed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- message{topic: topic, payload: payload}:
	default:
		s.dropped++
		s.log.Warn().Str("topic", topic).Uint64("dropped", s.dropped).Msg("queue full, message dropped")
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for m := range s.out {
		tok := s.pub.Publish(m.topic, s.cfg.QoS, s.cfg.Retained, m.payload)
		if !tok.WaitTimeout(s.cfg.PublishTimeout) {
			s.log.Warn().Str("topic", m.topic).Msg("publish timeout")
			continue
		}
		if err := tok.Error(); err != nil {
			s.log.Warn().Err(err).Str("topic", m.topic).Msg("publish failed")
		}
	}
}

// Close publishes what is queued, then disconnects a dialed client.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	close(s.out)
	s.mu.Unlock()

	<-s.done
	if s.client != nil {
		s.client.Disconnect(250)
	}
	return nil
}

// Topic builds the topic of a register. Characters with a meaning in MQTT
// topics are replaced in the gateway id.
func Topic(prefix string, d register.Descriptor, leaf string) string {
	gw := strings.NewReplacer("://", "_", ":", "_", "/", "_", "+", "_", "#", "_").Replace(d.Gateway.ID())
	parts := []string{gw, strconv.Itoa(int(d.SlaveID)), strconv.Itoa(int(d.Address)), leaf}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "/")
}
