// Package monitor is a reconnecting reader for the daemon's event socket.
package monitor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"postured/internal/events"
)

type Config struct {
	Path string

	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	// MaxLineBytes bounds a single event line. A longer line drops the
	// connection.
	MaxLineBytes int
	// Once stops the client after the first disconnect instead of retrying.
	Once bool
}

type Client struct {
	cfg Config

	started atomic.Bool
	closed  atomic.Bool

	mu       sync.RWMutex
	state    string
	lastErr  string
	lastSeen time.Time
	count    uint64
	bad      uint64

	cancel context.CancelFunc
	done   chan struct{}
}

type Snapshot struct {
	Path        string `json:"path"`
	State       string `json:"state"`
	LastError   string `json:"last_error,omitempty"`
	LastSeenUTC string `json:"last_seen_utc,omitempty"`
	Events      uint64 `json:"events"`
	BadLines    uint64 `json:"bad_lines"`
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("monitor: socket path is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 64 * 1024
	}
	return &Client{cfg: cfg, state: "stopped", done: make(chan struct{})}, nil
}

// Start connects in the background and calls onEvent for every well formed
// line. onEvent runs on the reader goroutine.
func (c *Client) Start(ctx context.Context, onEvent func(events.Event)) error {
	if c == nil {
		return errors.New("monitor: client is nil")
	}
	if c.closed.Load() {
		return errors.New("monitor: client is closed")
	}
	if onEvent == nil {
		return errors.New("monitor: onEvent is nil")
	}
	if c.started.Swap(true) {
		return errors.New("monitor: already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.setState("connecting", "")
	go func() {
		defer close(c.done)
		c.runLoop(runCtx, onEvent)
	}()
	return nil
}

// Done is closed once the client has stopped.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() {
	if c == nil || c.closed.Swap(true) {
		return
	}
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

func (c *Client) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := Snapshot{
		Path:      c.cfg.Path,
		State:     c.state,
		LastError: c.lastErr,
		Events:    c.count,
		BadLines:  c.bad,
	}
	if !c.lastSeen.IsZero() {
		out.LastSeenUTC = c.lastSeen.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (c *Client) runLoop(ctx context.Context, onEvent func(events.Event)) {
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}
	for {
		if ctx.Err() != nil {
			c.setState("stopped", "")
			return
		}

		c.setState("connecting", "")
		conn, err := dialer.DialContext(ctx, "unix", c.cfg.Path)
		if err != nil {
			c.setState("error", err.Error())
			log.Printf("monitor dial failed path=%s err=%v", c.cfg.Path, err)
			if c.cfg.Once || !sleepCtx(ctx, c.cfg.ReconnectDelay) {
				c.setState("stopped", "")
				return
			}
			continue
		}

		c.setState("connected", "")
		log.Printf("monitor connected path=%s", c.cfg.Path)
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		err = c.readLines(conn, onEvent)
		stop()
		_ = conn.Close()

		if ctx.Err() != nil {
			c.setState("stopped", "")
			return
		}
		if err != nil {
			c.setState("disconnected", err.Error())
		} else {
			c.setState("disconnected", "")
		}
		log.Printf("monitor disconnected path=%s err=%v", c.cfg.Path, err)
		if c.cfg.Once || !sleepCtx(ctx, c.cfg.ReconnectDelay) {
			c.setState("stopped", "")
			return
		}
	}
}

// readLines returns nil when the daemon closes the connection.
func (c *Client) readLines(r io.Reader, onEvent func(events.Event)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), c.cfg.MaxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		e, err := events.Parse(line)
		if err != nil {
			c.mu.Lock()
			c.bad++
			c.mu.Unlock()
			log.Printf("monitor skipping bad line err=%v line=%q", err, truncate(line, 120))
			continue
		}
		c.mu.Lock()
		c.lastSeen = time.Now().UTC()
		c.count++
		c.mu.Unlock()
		onEvent(e)
	}
	err := sc.Err()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) setState(state, lastErr string) {
	c.mu.Lock()
	c.state = state
	if lastErr != "" {
		c.lastErr = lastErr
	} else if state == "connected" || state == "stopped" {
		c.lastErr = ""
	}
	c.mu.Unlock()
}

// Format renders an event for a terminal:
//
//	[14:03:11] MODE: laptop -> tent
func Format(e events.Event) string {
	ts := e.Time().Local().Format("15:04:05")
	kind := strings.ToUpper(string(e.Type))
	value := formatValue(e.Value)
	if e.Previous == nil {
		return fmt.Sprintf("[%s] %s: %s", ts, kind, value)
	}
	return fmt.Sprintf("[%s] %s: %s -> %s", ts, kind, formatValue(e.Previous), value)
}

func formatValue(v any) string {
	if f, ok := v.(float64); ok {
		return fmt.Sprintf("%.1f°", f)
	}
	return fmt.Sprint(v)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
