package distributor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"postured/internal/events"
	"postured/internal/hinge"
)

func init() {
	SetLogger(nil)
}

var at = time.Unix(1718000000, 0)

func angleEvent(i int) events.Event {
	return events.NewAngle(float64(i), nil, at.Add(time.Duration(i)*time.Millisecond))
}

func drain(t *testing.T, c *Consumer) []events.Event {
	t.Helper()
	var out []events.Event
	for line := range c.C {
		e, err := events.Parse(line)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", line, err)
		}
		out = append(out, e)
	}
	return out
}

type fakeObserver struct {
	mu        sync.Mutex
	consumers int
	dropped   int
}

func (o *fakeObserver) SetConsumers(n int) {
	o.mu.Lock()
	o.consumers = n
	o.mu.Unlock()
}

func (o *fakeObserver) ConsumerDropped() {
	o.mu.Lock()
	o.dropped++
	o.mu.Unlock()
}

func TestHub_OrderUnderBackpressureOnAnotherConsumer(t *testing.T) {
	obs := &fakeObserver{}
	h := NewHub(obs)
	const n = 200

	fast, err := h.Subscribe("fast", n)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	slow, err := h.Subscribe("slow", 4)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	for i := 0; i < n; i++ {
		h.Publish(angleEvent(i))
	}

	// The slow consumer never read, so it was cut off once its buffer filled.
	got := drain(t, slow)
	if len(got) != 4 {
		t.Fatalf("slow consumer got %d events want 4", len(got))
	}
	if !errors.Is(slow.Err(), ErrConsumerDisconnected) {
		t.Fatalf("slow.Err()=%v want ErrConsumerDisconnected", slow.Err())
	}

	h.Close()
	got = drain(t, fast)
	if len(got) != n {
		t.Fatalf("fast consumer got %d events want %d", len(got), n)
	}
	for i, e := range got {
		v, _, ok := e.Angle()
		if !ok || v != float64(i) {
			t.Fatalf("event %d value=%v: out of order, duplicated or missing", i, e.Value)
		}
	}
	if !errors.Is(fast.Err(), ErrHubClosed) {
		t.Fatalf("fast.Err()=%v want ErrHubClosed", fast.Err())
	}
	if obs.dropped != 1 || obs.consumers != 0 {
		t.Fatalf("observer=%+v", obs)
	}
	if st := h.Stats(); st.Published != n || st.Dropped != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestHub_NoReplayForLateConsumers(t *testing.T) {
	h := NewHub(nil)
	h.Publish(events.NewMode(hinge.ModeLaptop, hinge.ModeInvalid, at))

	c, err := h.Subscribe("late", 8)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	h.Publish(events.NewMode(hinge.ModeFlat, hinge.ModeLaptop, at))
	h.Close()

	got := drain(t, c)
	if len(got) != 1 || got[0].Value != "flat" {
		t.Fatalf("late consumer got %v want only the flat event", got)
	}
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	h := NewHub(nil)
	c, err := h.Subscribe("a", 1)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	h.Unsubscribe(c.ID)
	h.Unsubscribe(c.ID)
	if _, ok := <-c.C; ok {
		t.Fatalf("channel must be closed after Unsubscribe")
	}
	if c.Err() != nil {
		t.Fatalf("Err()=%v want nil for a clean unsubscribe", c.Err())
	}
	if h.Len() != 0 {
		t.Fatalf("Len()=%d want 0", h.Len())
	}

	h.Close()
	h.Close()
	if _, err := h.Subscribe("b", 1); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("err=%v want ErrHubClosed", err)
	}
	// Publishing after Close is a no-op.
	h.Publish(angleEvent(1))
}

func TestHub_UniqueIDs(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		c, err := h.Subscribe("x", 1)
		if err != nil {
			t.Fatalf("Subscribe() error: %v", err)
		}
		if seen[c.ID] {
			t.Fatalf("duplicate consumer id %s", c.ID)
		}
		seen[c.ID] = true
	}
}

func TestHub_NilSafe(t *testing.T) {
	var h *Hub
	h.Publish(angleEvent(0))
	h.Unsubscribe("x")
	h.Close()
	if h.Len() != 0 {
		t.Fatalf("nil hub Len()=%d", h.Len())
	}
}
