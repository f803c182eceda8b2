// Package statusfeed broadcasts the sync status signal to WebSocket
// clients. Each client receives the current status on connect and every
// later change. A slow client only ever sees the newest status; stale
// ones are dropped rather than queued.
package statusfeed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alexjbarnes/kanban-sync/board"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// Hub fans status updates out to connected clients. It implements
// http.Handler.
type Hub struct {
	logger         *slog.Logger
	originPatterns []string

	mu      sync.Mutex
	current board.Status
	subs    map[chan board.Status]struct{}
}

// NewHub creates a hub. originPatterns is passed to websocket.Accept;
// nil allows same-origin requests only.
func NewHub(initial board.Status, originPatterns []string, logger *slog.Logger) *Hub {
	return &Hub{
		logger:         logger,
		originPatterns: originPatterns,
		current:        initial,
		subs:           make(map[chan board.Status]struct{}),
	}
}

// Publish records st as the current status and offers it to every
// client. It never blocks, so it is safe to call from Engine.OnStatus.
func (h *Hub) Publish(st board.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current = st

	for ch := range h.subs {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

// Current returns the last published status.
func (h *Hub) Current() board.Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.current
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}

func (h *Hub) subscribe() (chan board.Status, board.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan board.Status, 1)
	h.subs[ch] = struct{}{}

	return ch, h.current
}

func (h *Hub) unsubscribe(ch chan board.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs, ch)
}

// ServeHTTP upgrades the request and streams status updates until the
// client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Debug("status feed upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	ch, current := h.subscribe()
	defer h.unsubscribe(ch)

	h.logger.Debug("status feed client connected", slog.Int("clients", h.Clients()))

	// Client messages are ignored; CloseRead handles control frames and
	// cancels ctx when the peer disconnects.
	ctx := conn.CloseRead(r.Context())

	if err := h.write(ctx, conn, current); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("status feed client disconnected")
			return
		case st := <-ch:
			if err := h.write(ctx, conn, st); err != nil {
				h.logger.Debug("status feed write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, st board.Status) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return wsjson.Write(ctx, conn, st)
}
