package monitor

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"postured/internal/events"
	"postured/internal/hinge"
)

type collector struct {
	mu  sync.Mutex
	got []events.Event
}

func (c *collector) add(e events.Event) {
	c.mu.Lock()
	c.got = append(c.got, e)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func listen(t *testing.T) (net.Listener, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ev.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln, path
}

func TestClient_SkipsBadLinesAndReconnects(t *testing.T) {
	ln, path := listen(t)

	c, err := New(Config{Path: path, ReconnectDelay: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	var col collector
	if err := c.Start(context.Background(), col.add); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer c.Close()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, _ = conn.Write([]byte(
		`{"timestamp":1,"type":"angle","value":95.5}` + "\n" +
			"not json\n" +
			"\n" +
			`{"timestamp":2,"type":"mode","value":"laptop","previous":"closing"}` + "\n"))
	waitFor(t, "two events", func() bool { return col.len() == 2 })
	if snap := c.Snapshot(); snap.BadLines != 1 || snap.Events != 2 || snap.State != "connected" {
		t.Fatalf("snapshot=%+v", snap)
	}
	_ = conn.Close()

	conn2, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept after reconnect: %v", err)
	}
	defer conn2.Close()
	_, _ = conn2.Write([]byte(`{"timestamp":3,"type":"mode","value":"flat","previous":"laptop"}` + "\n"))
	waitFor(t, "event after reconnect", func() bool { return col.len() == 3 })

	col.mu.Lock()
	defer col.mu.Unlock()
	if v, _, ok := col.got[0].Angle(); !ok || v != 95.5 {
		t.Fatalf("first event=%+v", col.got[0])
	}
	if col.got[2].Value != "flat" || col.got[2].Previous != "laptop" {
		t.Fatalf("third event=%+v", col.got[2])
	}
}

func TestClient_OnceStopsAfterDisconnect(t *testing.T) {
	ln, path := listen(t)

	c, err := New(Config{Path: path, Once: true})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := c.Start(context.Background(), func(events.Event) {}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	_ = conn.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("client did not stop")
	}
	if got := c.Snapshot().State; got != "stopped" {
		t.Fatalf("state=%q want stopped", got)
	}
}

func TestClient_CloseWhileConnected(t *testing.T) {
	ln, path := listen(t)

	c, err := New(Config{Path: path})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := c.Start(context.Background(), func(events.Event) {}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer conn.Close()
	waitFor(t, "connected", func() bool { return c.Snapshot().State == "connected" })

	c.Close()
	if got := c.Snapshot().State; got != "stopped" {
		t.Fatalf("state=%q want stopped", got)
	}
	if err := c.Start(context.Background(), func(events.Event) {}); err == nil {
		t.Fatalf("Start after Close should fail")
	}
}

func TestNew_RequiresPath(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFormat(t *testing.T) {
	at := time.Unix(1718000000, 0)
	ts := at.Local().Format("15:04:05")

	prev := 179.94
	cases := []struct {
		e    events.Event
		want string
	}{
		{events.NewAngle(182.5, &prev, at), "[" + ts + "] ANGLE: 179.9° -> 182.5°"},
		{events.NewAngle(10, nil, at), "[" + ts + "] ANGLE: 10.0°"},
		{events.NewMode(hinge.ModeTent, hinge.ModeFlat, at), "[" + ts + "] MODE: flat -> tent"},
		{events.NewOrientation(hinge.Portrait, nil, at), "[" + ts + "] ORIENTATION: portrait"},
	}
	for _, tc := range cases {
		if got := Format(tc.e); got != tc.want {
			t.Fatalf("Format()=%q want %q", got, tc.want)
		}
	}
}
