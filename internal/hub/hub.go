// Package hub fans session snapshots out to connected websocket clients.
// Every state change is broadcast to all connections subscribed to the
// session, which is how both parties observe an auto-start without polling.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/advicelink/sessiond/internal/models"
)

// Conn is one participant's websocket subscription to a session topic.
type Conn struct {
	ID        string
	SessionID uuid.UUID
	Role      models.Role
	WS        *websocket.Conn
	Send      chan []byte
}

// Hub manages all websocket connections, indexed by session.
type Hub struct {
	mu sync.RWMutex

	connections map[string]*Conn
	sessions    map[uuid.UUID]map[string]*Conn

	register   chan *Conn
	unregister chan *Conn
	broadcast  chan topicMessage

	done chan struct{}
}

type topicMessage struct {
	sessionID uuid.UUID
	data      []byte
}

// New creates a hub. Call Run in its own goroutine.
func New() *Hub {
	return &Hub{
		connections: make(map[string]*Conn),
		sessions:    make(map[uuid.UUID]map[string]*Conn),
		register:    make(chan *Conn),
		unregister:  make(chan *Conn),
		broadcast:   make(chan topicMessage, 256),
		done:        make(chan struct{}),
	}
}

// Run drains the hub's channels until Close.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.add(conn)
		case conn := <-h.unregister:
			h.remove(conn)
		case msg := <-h.broadcast:
			h.fanout(msg)
		case <-h.done:
			return
		}
	}
}

// Close stops the run loop and closes every connection's send channel.
func (h *Hub) Close() {
	close(h.done)

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.connections {
		close(conn.Send)
		delete(h.connections, id)
	}
	h.sessions = make(map[uuid.UUID]map[string]*Conn)
}

// NewConn wraps a websocket for a session topic.
func (h *Hub) NewConn(ws *websocket.Conn, sessionID uuid.UUID, role models.Role) *Conn {
	return &Conn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		WS:        ws,
		Send:      make(chan []byte, 64),
	}
}

// Register subscribes a connection to its session topic.
func (h *Hub) Register(conn *Conn) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// Unregister drops a connection.
func (h *Hub) Unregister(conn *Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// BroadcastJSON marshals v and sends it to every connection on the session
// topic. Never blocks the caller.
func (h *Hub) BroadcastJSON(sessionID uuid.UUID, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal broadcast payload")
		return
	}
	select {
	case h.broadcast <- topicMessage{sessionID: sessionID, data: data}:
	case <-h.done:
	default:
		log.Warn().Str("session_id", sessionID.String()).Msg("hub broadcast queue full, dropping")
	}
}

func (h *Hub) add(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[conn.ID] = conn
	if h.sessions[conn.SessionID] == nil {
		h.sessions[conn.SessionID] = make(map[string]*Conn)
	}
	h.sessions[conn.SessionID][conn.ID] = conn

	log.Debug().
		Str("conn_id", conn.ID).
		Str("session_id", conn.SessionID.String()).
		Str("role", string(conn.Role)).
		Msg("websocket registered")
}

func (h *Hub) remove(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[conn.ID]; !ok {
		return
	}
	delete(h.connections, conn.ID)
	if topic := h.sessions[conn.SessionID]; topic != nil {
		delete(topic, conn.ID)
		if len(topic) == 0 {
			delete(h.sessions, conn.SessionID)
		}
	}
	close(conn.Send)

	log.Debug().
		Str("conn_id", conn.ID).
		Str("session_id", conn.SessionID.String()).
		Msg("websocket unregistered")
}

func (h *Hub) fanout(msg topicMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.sessions[msg.sessionID] {
		select {
		case conn.Send <- msg.data:
		default:
			// Slow consumer: drop it rather than stall the topic.
			log.Warn().Str("conn_id", conn.ID).Msg("websocket send buffer full, dropping connection")
			go h.Unregister(conn)
		}
	}
}
