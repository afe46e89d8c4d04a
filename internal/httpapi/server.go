// Package httpapi is the optional local HTTP surface: a JSON view of the
// committed posture, Prometheus metrics, recent daemon logs and a websocket
// mirror of the event stream.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"postured/internal/distributor"
	"postured/internal/mqttsink"
	"postured/internal/session"
)

// StateSource is satisfied by *session.Session.
type StateSource interface {
	Snapshot() session.State
}

type Options struct {
	State   StateSource
	Hub     *distributor.Hub
	Metrics http.Handler
	Logs    *LogBuffer
	// MQTT is nil when the MQTT sink is disabled.
	MQTT *mqttsink.Sink
	// WSBuffer is the per-websocket hub buffer.
	WSBuffer int
	// AllowedOrigins lists extra browser origins, like
	// "http://localhost:3000", that may open /ws. Same-origin pages and
	// non-browser clients sending no Origin header are always accepted.
	AllowedOrigins []string
}

type StateResponse struct {
	NowUTC string               `json:"now_utc"`
	State  session.State        `json:"state"`
	Events distributor.HubStats `json:"events"`
	MQTT   *mqttsink.Stats      `json:"mqtt,omitempty"`
}

// checkOrigin lets non-browser clients (no Origin header) and same-origin
// pages through. Any other origin must be listed.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[strings.ToLower(origin)]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

func Handler(opts Options) http.Handler {
	mux := http.NewServeMux()
	upgrader := &websocket.Upgrader{CheckOrigin: checkOrigin(opts.AllowedOrigins)}

	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		resp := StateResponse{
			NowUTC: time.Now().UTC().Format(time.RFC3339Nano),
			Events: opts.Hub.Stats(),
		}
		if opts.State != nil {
			resp.State = opts.State.Snapshot()
		}
		if opts.MQTT != nil {
			st := opts.MQTT.Stats()
			resp.MQTT = &st
		}
		writeJSON(w, resp)
	})

	mux.HandleFunc("/api/about", aboutHandler)

	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	if opts.Logs != nil {
		mux.Handle("/api/logs", opts.Logs.Handler())
	}
	if opts.Hub != nil {
		mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			serveWS(w, r, upgrader, opts.Hub, opts.WSBuffer)
		})
	}
	return mux
}

// serveWS relays hub lines as websocket text messages, one event each.
func serveWS(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, hub *distributor.Hub, buffer int) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("http websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	c, err := hub.Subscribe("ws:"+r.RemoteAddr, buffer)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		return
	}
	defer hub.Unsubscribe(c.ID)

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("http websocket read error id=%s err=%v", c.ID, err)
				}
				hub.Unsubscribe(c.ID)
				return
			}
		}
	}()

	for line := range c.C {
		_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, bytes.TrimRight(line, "\n")); err != nil {
			return
		}
	}
	if err := c.Err(); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

// Serve runs the HTTP server until ctx is done.
func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
