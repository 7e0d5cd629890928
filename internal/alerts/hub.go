package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

// Hub pushes incidents to websocket subscribers (the local dashboard).
// It implements both Sink and http.Handler.
type Hub struct {
	mu    sync.Mutex
	subs  map[*subscriber]struct{}
	close chan struct{}
	once  sync.Once
}

type subscriber struct {
	msgs chan []byte
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:  make(map[*subscriber]struct{}),
		close: make(chan struct{}),
	}
}

// Notify implements Sink. Slow subscribers drop messages rather than
// stalling the caller.
func (h *Hub) Notify(inc Incident) {
	data, err := json.Marshal(inc)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.msgs <- data:
		default:
		}
	}
}

// ServeHTTP upgrades the connection and streams incidents until the client
// disconnects or the hub shuts down.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("alert websocket accept failed")
		return
	}
	defer conn.CloseNow()

	sub := &subscriber{msgs: make(chan []byte, 16)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.close:
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		case msg := <-sub.msgs:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// Shutdown disconnects all subscribers.
func (h *Hub) Shutdown() {
	h.once.Do(func() { close(h.close) })
}
