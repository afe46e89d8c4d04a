// Package distributor broadcasts posture events to any number of local
// consumers as newline-delimited JSON.
package distributor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"postured/internal/events"
)

var (
	// ErrConsumerDisconnected is recorded on a consumer that was dropped
	// because it could not keep up. The producer never sees it.
	ErrConsumerDisconnected = errors.New("distributor: consumer disconnected")
	ErrHubClosed            = errors.New("distributor: hub closed")
)

const DefaultBuffer = 64

// Observer is told about consumer churn. Used for metrics.
type Observer interface {
	SetConsumers(n int)
	ConsumerDropped()
}

// Consumer is one subscription. Lines arrive on C in publish order; C is
// closed when the consumer is removed, after which Err explains why.
type Consumer struct {
	ID    string
	Label string
	C     <-chan []byte

	ch   chan []byte
	mu   sync.Mutex
	err  error
	done bool
}

func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Consumer) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.done = true
	c.err = err
	close(c.ch)
}

// Hub fans each published event out to every consumer. Publish never
// blocks: a consumer whose buffer is full is disconnected rather than
// silently losing events. New consumers see only later events.
type Hub struct {
	mu       sync.Mutex
	subs     map[string]*Consumer
	closed   bool
	observer Observer

	published uint64
	dropped   uint64
}

func NewHub(observer Observer) *Hub {
	return &Hub{subs: make(map[string]*Consumer), observer: observer}
}

func (h *Hub) Subscribe(label string, buffer int) (*Consumer, error) {
	if h == nil {
		return nil, ErrHubClosed
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan []byte, buffer)
	c := &Consumer{ID: uuid.NewString(), Label: label, C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	h.subs[c.ID] = c
	h.notifyLocked()
	return c, nil
}

// Unsubscribe removes a consumer. Unknown IDs are ignored.
func (h *Hub) Unsubscribe(id string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.subs[id]; ok {
		delete(h.subs, id)
		c.finish(nil)
		h.notifyLocked()
	}
}

// Publish serializes e once and offers the line to every consumer.
func (h *Hub) Publish(e events.Event) {
	if h == nil {
		return
	}
	line, err := events.Marshal(e)
	if err != nil {
		Logf("distributor marshal error type=%s err=%v", e.Type, err)
		return
	}
	h.PublishLine(line)
}

// PublishLine broadcasts an already framed line. The slice must not be
// modified afterwards; consumers share it.
func (h *Hub) PublishLine(line []byte) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.published++
	changed := false
	for id, c := range h.subs {
		select {
		case c.ch <- line:
		default:
			delete(h.subs, id)
			c.finish(fmt.Errorf("%w: buffer full (%d events)", ErrConsumerDisconnected, cap(c.ch)))
			h.dropped++
			changed = true
			Logf("distributor consumer dropped id=%s label=%s reason=buffer_full", c.ID, c.Label)
			if h.observer != nil {
				h.observer.ConsumerDropped()
			}
		}
	}
	if changed {
		h.notifyLocked()
	}
}

// Close disconnects every consumer and rejects further subscriptions.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, c := range h.subs {
		delete(h.subs, id)
		c.finish(ErrHubClosed)
	}
	h.notifyLocked()
}

func (h *Hub) Len() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

type HubStats struct {
	Consumers int    `json:"consumers"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

func (h *Hub) Stats() HubStats {
	if h == nil {
		return HubStats{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return HubStats{Consumers: len(h.subs), Published: h.published, Dropped: h.dropped}
}

func (h *Hub) notifyLocked() {
	if h.observer != nil {
		h.observer.SetConsumers(len(h.subs))
	}
}
