package distributor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

type ServerConfig struct {
	Path string
	// Mode is applied to the socket file. Zero leaves the umask default.
	Mode os.FileMode
	// Buffer is the per-consumer queue length in events.
	Buffer int
	// WriteTimeout bounds a single write to a consumer.
	WriteTimeout time.Duration
}

// Server exposes a Hub on a Unix-domain stream socket. Each connection gets
// a writer goroutine that drains its consumer queue, and a reader goroutine
// that notices when the peer hangs up.
type Server struct {
	hub *Hub
	cfg ServerConfig
	ln  net.Listener

	mu     sync.Mutex
	conns  map[string]net.Conn
	closed bool

	wg sync.WaitGroup
}

// Listen binds cfg.Path and starts accepting. A stale socket file left by a
// dead process is removed; a live one is an error.
func Listen(hub *Hub, cfg ServerConfig) (*Server, error) {
	if hub == nil {
		return nil, errors.New("distributor: hub is nil")
	}
	if cfg.Path == "" {
		return nil, errors.New("distributor: socket path is required")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if err := removeStaleSocket(cfg.Path); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("distributor: listen %s: %w", cfg.Path, err)
	}
	if cfg.Mode != 0 {
		if err := os.Chmod(cfg.Path, cfg.Mode); err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("distributor: chmod %s: %w", cfg.Path, err)
		}
	}
	s := &Server{hub: hub, cfg: cfg, ln: ln, conns: make(map[string]net.Conn)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return s, nil
}

func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("distributor: %s exists and is not a socket", path)
	}
	c, err := net.DialTimeout("unix", path, 500*time.Millisecond)
	if err == nil {
		_ = c.Close()
		return fmt.Errorf("distributor: %s is in use by another process", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("distributor: remove stale socket: %w", err)
	}
	return nil
}

func (s *Server) Addr() string { return s.cfg.Path }

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			Logf("distributor accept error err=%v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	label := peerLabel(conn)
	c, err := s.hub.Subscribe(label, s.cfg.Buffer)
	if err != nil {
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.hub.Unsubscribe(c.ID)
		_ = conn.Close()
		return
	}
	s.conns[c.ID] = conn
	s.mu.Unlock()

	Logf("distributor consumer connected id=%s peer=%s", c.ID, label)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.writeLoop(conn, c)
	}()
	go func() {
		defer s.wg.Done()
		// Consumers do not talk back; anything they send is discarded and
		// EOF means they left.
		_, _ = io.Copy(io.Discard, conn)
		s.hub.Unsubscribe(c.ID)
	}()
}

func (s *Server) writeLoop(conn net.Conn, c *Consumer) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, c.ID)
		s.mu.Unlock()
		_ = conn.Close()
		s.hub.Unsubscribe(c.ID)
		reason := "closed"
		if err := c.Err(); err != nil {
			reason = err.Error()
		}
		Logf("distributor consumer disconnected id=%s peer=%s reason=%q", c.ID, c.Label, reason)
	}()
	for line := range c.C {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if _, err := conn.Write(line); err != nil {
			return
		}
	}
}

// Close stops accepting, disconnects every consumer of this server, removes
// the socket file and waits for all connection goroutines to exit.
func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make(map[string]net.Conn, len(s.conns))
	for id, c := range s.conns {
		conns[id] = c
	}
	s.mu.Unlock()

	err := s.ln.Close()
	for id, c := range conns {
		s.hub.Unsubscribe(id)
		_ = c.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.cfg.Path)
	return err
}

// Serve blocks until ctx is done, then closes the server.
func (s *Server) Serve(ctx context.Context) error {
	<-ctx.Done()
	return s.Close()
}
