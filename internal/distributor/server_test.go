package distributor

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"postured/internal/events"
)

func listen(t *testing.T, h *Hub, buffer int) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "p.sock")
	s, err := Listen(h, ServerConfig{Path: path, Mode: 0o660, Buffer: buffer, WriteTimeout: time.Second})
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func dial(t *testing.T, path string) (net.Conn, *bufio.Reader) {
	t.Helper()
	c, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, bufio.NewReader(c)
}

func waitConsumers(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("consumers=%d want %d", h.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_DeliversLinesInOrder(t *testing.T) {
	h := NewHub(nil)
	s, path := listen(t, h, 64)

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if fi.Mode().Perm() != 0o660 {
		t.Fatalf("socket mode=%v want 0660", fi.Mode().Perm())
	}

	conn, r := dial(t, path)
	waitConsumers(t, h, 1)

	for i := 0; i < 20; i++ {
		h.Publish(angleEvent(i))
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 20; i++ {
		line, err := r.ReadBytes('\n')
		if err != nil {
			t.Fatalf("ReadBytes() #%d error: %v", i, err)
		}
		e, err := events.Parse(line)
		if err != nil {
			t.Fatalf("Parse() error: %v", err)
		}
		if v, _, _ := e.Angle(); v != float64(i) {
			t.Fatalf("event %d value=%v", i, v)
		}
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, err := r.ReadBytes('\n'); err == nil {
		t.Fatalf("expected EOF after server close")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("socket file still present after Close: %v", err)
	}
}

func TestServer_ClientHangupUnsubscribes(t *testing.T) {
	h := NewHub(nil)
	_, path := listen(t, h, 8)
	conn, _ := dial(t, path)
	waitConsumers(t, h, 1)
	_ = conn.Close()
	waitConsumers(t, h, 0)
}

func TestServer_SlowConsumerDoesNotBlockOthers(t *testing.T) {
	h := NewHub(nil)
	_, path := listen(t, h, 256)

	// The slow client never reads; its writer stalls once the kernel socket
	// buffer fills, and the hub drops it when its queue fills.
	dial(t, path)
	fast, r := dial(t, path)
	waitConsumers(t, h, 2)

	done := make(chan struct{})
	const n = 2000
	go func() {
		defer close(done)
		_ = fast.SetReadDeadline(time.Now().Add(5 * time.Second))
		for i := 0; i < n; i++ {
			line, err := r.ReadBytes('\n')
			if err != nil {
				t.Errorf("fast ReadBytes() #%d error: %v", i, err)
				return
			}
			e, err := events.Parse(line)
			if err != nil {
				t.Errorf("Parse() error: %v", err)
				return
			}
			if v, _, _ := e.Angle(); v != float64(i) {
				t.Errorf("fast event %d value=%v", i, v)
				return
			}
		}
	}()

	for i := 0; i < n; i++ {
		h.Publish(angleEvent(i))
		if i%64 == 63 {
			time.Sleep(time.Millisecond)
		}
	}
	<-done
}

func TestListen_StaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	// A live listener makes the path unavailable.
	if _, err := Listen(NewHub(nil), ServerConfig{Path: path}); err == nil {
		t.Fatalf("expected error for socket in use")
	}
	// Leave the file behind without a listener.
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	_ = ln.Close()

	s, err := Listen(NewHub(nil), ServerConfig{Path: path})
	if err != nil {
		t.Fatalf("Listen() over stale socket error: %v", err)
	}
	_ = s.Close()
}

func TestListen_RefusesRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if _, err := Listen(NewHub(nil), ServerConfig{Path: path}); err == nil {
		t.Fatalf("expected error for non-socket path")
	}
}
