// Package live streams monitoring notices to connected dashboards over
// WebSocket.
//
// A [Hub] is a [notice.Notifier]: every notice it receives is fanned out as a
// JSON text message to all subscribers. Subscribers that cannot keep up are
// disconnected instead of slowing the pipeline down.
package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/proctor/internal/notice"
)

// Config tunes a [Hub].
type Config struct {
	// Buffer is the per-subscriber queue length. Default: 16.
	Buffer int

	// History is how many recent notices a new subscriber receives on
	// connect. Default: 20. Negative disables the replay.
	History int

	// WriteTimeout bounds a single message write. Default: 5s.
	WriteTimeout time.Duration

	// OriginPatterns lists extra allowed Origin hosts for cross-origin
	// dashboards (see [websocket.AcceptOptions]).
	OriginPatterns []string
}

type subscriber struct {
	msgs      chan notice.Notice
	closeSlow func()
	dropOnce  sync.Once
}

// drop closes a subscriber that fell behind. Only the first call closes the
// connection.
func (s *subscriber) drop() {
	s.dropOnce.Do(func() { go s.closeSlow() })
}

// Hub fans notices out to WebSocket subscribers. It is safe for concurrent
// use.
type Hub struct {
	cfg Config

	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	history []notice.Notice
	closed  bool
}

var _ notice.Notifier = (*Hub)(nil)

// NewHub creates a Hub.
func NewHub(cfg Config) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 16
	}
	if cfg.History == 0 {
		cfg.History = 20
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Hub{cfg: cfg, subs: make(map[*subscriber]struct{})}
}

// Notify implements [notice.Notifier]. It never blocks: a subscriber whose
// queue is full is disconnected.
func (h *Hub) Notify(_ context.Context, n notice.Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if h.cfg.History > 0 {
		h.history = append(h.history, n)
		if len(h.history) > h.cfg.History {
			h.history = h.history[len(h.history)-h.cfg.History:]
		}
	}
	for s := range h.subs {
		select {
		case s.msgs <- n:
		default:
			delete(h.subs, s)
			s.drop()
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a WebSocket and streams notices until the
// client disconnects, falls behind, or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		slog.Warn("live: websocket accept failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}
	defer c.CloseNow()

	if err := h.subscribe(r.Context(), c); err != nil && !isClosed(err) {
		slog.Debug("live: subscriber disconnected", "remote_addr", r.RemoteAddr, "err", err)
	}
}

// Close disconnects every subscriber and makes Notify a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.msgs)
		delete(h.subs, s)
	}
}

func (h *Hub) subscribe(ctx context.Context, c *websocket.Conn) error {
	// Dashboards never send; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx = c.CloseRead(ctx)

	s := &subscriber{
		msgs: make(chan notice.Notice, h.cfg.Buffer),
		closeSlow: func() {
			c.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with notices")
		},
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return c.Close(websocket.StatusGoingAway, "shutting down")
	}
	backlog := append([]notice.Notice(nil), h.history...)
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	defer h.remove(s)

	for _, n := range backlog {
		if err := h.write(ctx, c, n); err != nil {
			return err
		}
	}

	for {
		select {
		case n, ok := <-s.msgs:
			if !ok {
				return c.Close(websocket.StatusGoingAway, "shutting down")
			}
			if err := h.write(ctx, c, n); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Hub) write(ctx context.Context, c *websocket.Conn, n notice.Notice) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, n)
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

func isClosed(err error) bool {
	return errors.Is(err, context.Canceled) ||
		websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
		websocket.CloseStatus(err) == websocket.StatusGoingAway
}
