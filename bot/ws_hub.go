package main

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxWSConnections = 100

// StatusHub fans the scheduler status out to admin websocket clients.
// One broadcaster ticks for everyone instead of a ticker per connection.
type StatusHub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	api        *API
	upgrader   websocket.Upgrader
}

func NewStatusHub(api *API) *StatusHub {
	return &StatusHub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		api:        api,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Run is the hub's main loop; it owns the client set.
func (h *StatusHub) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				conn.Close()
				log.Printf("websocket rejected: max connections (%d) reached", maxWSConnections)
				continue
			}
			h.clients[conn] = struct{}{}
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case <-ticker.C:
			h.broadcast(ctx)
		}
	}
}

func (h *StatusHub) broadcast(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}
	status, err := h.api.status(ctx)
	if err != nil {
		log.Printf("status collect for broadcast failed: %v", err)
		return
	}
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(status); err != nil {
			log.Printf("websocket write: %v", err)
			go h.Unregister(conn)
		}
	}
}

func (h *StatusHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

func (h *StatusHub) Register(conn *websocket.Conn)   { h.register <- conn }
func (h *StatusHub) Unregister(conn *websocket.Conn) { h.unregister <- conn }

// handleWS upgrades the connection and parks a read pump that detects
// client disconnects.
func (h *StatusHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}
	h.Register(conn)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.Unregister(conn)
				return
			}
		}
	}()
}
