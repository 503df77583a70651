// websocket.go
package calendar

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSClient is one live-notification connection. There is no per-user
// scoping: the spec has no authenticated users, so every connected viewer
// receives every calendar delta.
//
// Adapted from the teacher's websocket.go: the register/unregister run
// loop and ping/pong keepalive carry over structurally intact; the
// JWT-gated per-user fan-out is replaced with a flat broadcast set, since
// this spec has no authentication (explicit Non-goal).
type WSClient struct {
	manager *WSManager
	conn    *websocket.Conn
	send    chan []byte
}

// WSManager fans calendar deltas out to every connected client.
type WSManager struct {
	clients    map[*WSClient]bool
	mux        sync.RWMutex
	register   chan *WSClient
	unregister chan *WSClient
	closed     chan struct{}
}

func NewWSManager() *WSManager {
	return &WSManager{
		clients:    make(map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		closed:     make(chan struct{}),
	}
}

func (m *WSManager) Run() {
	for {
		select {
		case c := <-m.register:
			m.mux.Lock()
			m.clients[c] = true
			m.mux.Unlock()
		case c := <-m.unregister:
			m.mux.Lock()
			if _, ok := m.clients[c]; ok {
				delete(m.clients, c)
				close(c.send)
			}
			m.mux.Unlock()
		case <-m.closed:
			m.mux.Lock()
			for c := range m.clients {
				c.conn.Close()
				close(c.send)
			}
			m.clients = make(map[*WSClient]bool)
			m.mux.Unlock()
			return
		}
	}
}

func (m *WSManager) Stop() { close(m.closed) }

// Broadcast fans a calendar-delta notification out to every connected
// client, called from the replica whenever V/C change locally or via an
// applied gossip message.
func (m *WSManager) Broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		Logger().Warn("ws_marshal_failed", "err", err)
		return
	}
	m.mux.RLock()
	defer m.mux.RUnlock()
	for c := range m.clients {
		select {
		case c.send <- data:
		default:
			go func(cl *WSClient) {
				m.unregister <- cl
				cl.conn.Close()
			}(c)
		}
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.manager.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades the connection and registers the client; no auth gate,
// per this spec's Non-goals.
func ServeWS(manager *WSManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			Logger().Warn("ws_upgrade_failed", "err", err)
			return
		}
		client := &WSClient{manager: manager, conn: conn, send: make(chan []byte, 256)}
		manager.register <- client
		go client.writePump()
		go client.readPump()
	}
}
