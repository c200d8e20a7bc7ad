package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vpc-mesh/pkg/events"
)

const writeWait = 5 * time.Second

// Hub fans progress events out to websocket subscribers. It implements events.Observer.
type Hub struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn  *websocket.Conn
	runID string // empty: every run
	send  chan events.Event
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:  log,
		subs: map[*subscriber]struct{}{},
	}
}

// HandleEvents upgrades the request and streams events; ?run=<id> limits the stream to one run.
func (h *Hub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	sub := &subscriber{conn: c, runID: r.URL.Query().Get("run"), send: make(chan events.Event, 64)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.log.Debug().Str("remote", r.RemoteAddr).Msg("event subscriber connected")
	go h.writeLoop(sub)
	go h.readLoop(sub)
}

// Observe queues e for every matching subscriber. Slow subscribers drop events.
func (h *Hub) Observe(e events.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.runID != "" && sub.runID != e.RunID {
			continue
		}
		select {
		case sub.send <- e:
		default:
			h.log.Warn().Str("kind", string(e.Kind)).Msg("event subscriber too slow, dropping event")
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) writeLoop(sub *subscriber) {
	for e := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sub.conn.WriteJSON(e); err != nil {
			h.remove(sub)
			return
		}
	}
}

// readLoop discards client frames and removes the subscriber once the connection closes.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.remove(sub)
	for {
		if _, _, err := sub.conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
	h.mu.Unlock()
	_ = sub.conn.Close()
}
