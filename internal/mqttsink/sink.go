// Package mqttsink republishes posture events to an MQTT broker, one topic
// per event type.
package mqttsink

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"postured/internal/events"
)

type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retain      bool
	// QueueSize bounds events waiting for the broker. When full, new events
	// are dropped and counted.
	QueueSize      int
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// client is the part of mqtt.Client the sink uses.
type client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type message struct {
	topic   string
	payload []byte
}

// Sink publishes asynchronously so the producer never waits on the broker.
type Sink struct {
	cfg    Config
	client client
	queue  chan message

	mu     sync.RWMutex
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64

	done chan struct{}
}

// New connects to the broker and starts the publish worker. A broker that
// is down at startup is not fatal: paho keeps retrying in the background.
func New(cfg Config) (*Sink, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "postured"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Printf("mqtt connected broker=%s", cfg.Broker)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("mqtt connection lost broker=%s err=%v", cfg.Broker, err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return newSink(cfg, mqtt.NewClient(opts))
}

func newSink(cfg Config, c client) (*Sink, error) {
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt: qos must be 0, 1 or 2")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "postured"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	tok := c.Connect()
	if !tok.WaitTimeout(cfg.ConnectTimeout) {
		log.Printf("mqtt connect pending broker=%s timeout=%s", cfg.Broker, cfg.ConnectTimeout)
	} else if err := tok.Error(); err != nil {
		log.Printf("mqtt connect error broker=%s err=%v", cfg.Broker, err)
	}

	s := &Sink{
		cfg:    cfg,
		client: c,
		queue:  make(chan message, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Topic returns the topic an event is published on.
func (s *Sink) Topic(e events.Event) string {
	return s.cfg.TopicPrefix + "/" + string(e.Type)
}

func (s *Sink) Publish(e events.Event) {
	if s == nil {
		return
	}
	line, err := events.Marshal(e)
	if err != nil {
		log.Printf("mqtt marshal error type=%s err=%v", e.Type, err)
		return
	}
	msg := message{topic: s.Topic(e), payload: bytes.TrimRight(line, "\n")}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- msg:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Printf("mqtt queue full dropped=%d", n)
		}
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for msg := range s.queue {
		tok := s.client.Publish(msg.topic, s.cfg.QoS, s.cfg.Retain, msg.payload)
		if !tok.WaitTimeout(s.cfg.PublishTimeout) {
			s.failed.Add(1)
			log.Printf("mqtt publish timeout topic=%s", msg.topic)
			continue
		}
		if err := tok.Error(); err != nil {
			s.failed.Add(1)
			log.Printf("mqtt publish error topic=%s err=%v", msg.topic, err)
			continue
		}
		s.published.Add(1)
	}
}

type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

func (s *Sink) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{Published: s.published.Load(), Dropped: s.dropped.Load(), Failed: s.failed.Load()}
}

// Close flushes queued events, then disconnects.
func (s *Sink) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	s.client.Disconnect(250)
}
