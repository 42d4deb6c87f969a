package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vasprail/offchain/pkg/logging"
)

// NudgeHub pushes "you have something pending, retransmit now" nudges to
// connected peers, grounded on the teacher's WSHub
// (internal/rpc/websocket.go) but carrying a single fixed message type
// instead of a subscribable event taxonomy: spec.md §4.C's get_retransmit
// poll remains the correctness mechanism, this is purely a latency
// optimization (SPEC_FULL.md §4.F).
type NudgeHub struct {
	clients    map[*nudgeClient]string // client -> peer address string
	register   chan *nudgeClient
	unregister chan *nudgeClient
	nudge      chan string // peer address string to nudge
	log        *logging.Logger
	mu         sync.RWMutex
}

// NewNudgeHub returns an unstarted hub; call Run to drive it.
func NewNudgeHub() *NudgeHub {
	return &NudgeHub{
		clients:    make(map[*nudgeClient]string),
		register:   make(chan *nudgeClient),
		unregister: make(chan *nudgeClient),
		nudge:      make(chan string, 256),
		log:        logging.GetDefault().Component("transport.nudge"),
	}
}

// Run drives the hub's event loop until the process exits; call it in its
// own goroutine.
func (h *NudgeHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = c.peer
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case peer := <-h.nudge:
			h.mu.RLock()
			for c, p := range h.clients {
				if p != peer {
					continue
				}
				select {
				case c.send <- struct{}{}:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Nudge asks any connected client registered for peer to retransmit now.
func (h *NudgeHub) Nudge(peer string) {
	select {
	case h.nudge <- peer:
	default:
		h.log.Warn("nudge channel full, dropping", "peer", peer)
	}
}

var nudgeUpgrader = websocket.Upgrader{
	ReadBufferSize:  256,
	WriteBufferSize: 256,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type nudgeClient struct {
	conn *websocket.Conn
	peer string
	send chan struct{}
}

// handleNudgeWS upgrades a peer's connection and pushes one "retransmit" text
// frame per Nudge call for that peer's address (query parameter "peer").
func (s *HTTPServer) handleNudgeWS(w http.ResponseWriter, r *http.Request) {
	peer := r.URL.Query().Get("peer")
	if peer == "" {
		http.Error(w, "missing peer query parameter", http.StatusBadRequest)
		return
	}

	conn, err := nudgeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("nudge websocket upgrade failed", "error", err)
		return
	}

	c := &nudgeClient{conn: conn, peer: peer, send: make(chan struct{}, 4)}
	s.hub.register <- c

	go c.writePump(s.hub)
	c.readPump(s.hub)
}

func (c *nudgeClient) writePump(hub *NudgeHub) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case _, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte("retransmit")); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only drains the connection to detect close; the nudge channel is
// one-directional.
func (c *nudgeClient) readPump(hub *NudgeHub) {
	defer func() {
		hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
