// Package feed broadcasts classifier output to renderers over websockets.
//
// A [Hub] encodes each published [Message] once and fans it out to every
// connected client. Clients may subscribe to a single detector with the
// ?detector=name query parameter. Each client has a bounded queue; when a
// client falls behind, new messages for it are dropped rather than stalling
// the detector pipelines.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/vocalflow/internal/observe"
)

const (
	defaultBuffer = 64
	writeTimeout  = 5 * time.Second
)

// Hub is a websocket broadcast hub. It is safe for concurrent use.
type Hub struct {
	codec   Codec
	buffer  int
	metrics *observe.Metrics
	origins []string

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	detector string // empty receives everything
	send     chan []byte
	cancel   context.CancelFunc
}

// Option configures a [Hub].
type Option func(*Hub)

// WithCodec selects the wire encoding. The default is [MsgpackCodec].
func WithCodec(c Codec) Option {
	return func(h *Hub) { h.codec = c }
}

// WithBuffer sets the per-client queue length. The default is 64.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithMetrics records client counts and drops into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithOriginPatterns allows cross-origin browser clients matching patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

// NewHub returns an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		codec:   MsgpackCodec,
		buffer:  defaultBuffer,
		clients: make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Codec returns the hub's wire encoding.
func (h *Hub) Codec() Codec { return h.codec }

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish encodes msg and queues it for every interested client. It never
// blocks on a client.
func (h *Hub) Publish(ctx context.Context, msg Message) error {
	data, err := h.codec.Marshal(msg)
	if err != nil {
		return err
	}
	h.broadcast(ctx, msg.Detector, data)
	return nil
}

func (h *Hub) broadcast(ctx context.Context, detector string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var dropped int64
	for c := range h.clients {
		if c.detector != "" && c.detector != detector {
			continue
		}
		select {
		case c.send <- data:
		default:
			dropped++
		}
	}
	if dropped > 0 && h.metrics != nil {
		h.metrics.FeedDropped.Add(ctx, dropped)
	}
}

// ServeHTTP upgrades the request to a websocket and streams messages until
// the client disconnects or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.Warn("feed: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(context.Background())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &client{
		detector: r.URL.Query().Get("detector"),
		send:     make(chan []byte, h.buffer),
		cancel:   cancel,
	}
	if !h.add(c) {
		conn.Close(websocket.StatusGoingAway, "feed closed")
		return
	}
	defer h.remove(c)

	slog.Debug("feed: client connected", "remote", r.RemoteAddr, "detector", c.detector)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case data := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, h.codec.Type, data)
			wcancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Debug("feed: write failed", "remote", r.RemoteAddr, "err", err)
				}
				return
			}
		}
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.metrics != nil {
		h.metrics.FeedClients.Add(context.Background(), 1)
	}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if h.metrics != nil {
		h.metrics.FeedClients.Add(context.Background(), -1)
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.cancel()
	}
}
