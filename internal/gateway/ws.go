package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/advicelink/sessiond/internal/hub"
	"github.com/advicelink/sessiond/internal/models"
	"github.com/advicelink/sessiond/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the fronting proxy.
		return true
	},
}

// Subscribe upgrades to a websocket and binds the connection to the session's
// broadcast topic. The upgrade doubles as the participant's connect event and
// the socket closing as their disconnect, so presence is transport-level.
// GET /v1/sessions/:session_id/ws?role=expert|client
func (h *Handler) Subscribe(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return h.writeError(c, err)
	}

	role := models.Role(c.QueryParam("role"))
	if !role.Valid() {
		return badRequest(c, "unknown role")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	conn := h.hub.NewConn(ws, coord.SessionID(), role)
	h.hub.Register(conn)

	// The subscription is the connect event. On failure (terminal session)
	// tell the client why and drop the socket.
	snap, err := coord.Connect(context.Background(), role)
	if err != nil {
		h.hub.Unregister(conn)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(wsWriteTimeout))
		ws.Close()
		return nil
	}

	// Seed the new subscriber with the current view; subsequent snapshots
	// arrive via hub broadcast.
	h.hub.BroadcastJSON(coord.SessionID(), snap)

	go h.writePump(conn)
	go h.readPump(conn, coord)

	return nil
}

func (h *Handler) readPump(conn *hub.Conn, coord *session.Coordinator) {
	defer func() {
		h.hub.Unregister(conn)
		conn.WS.Close()
		if _, err := coord.Disconnect(context.Background(), conn.Role); err != nil {
			log.Debug().
				Str("session_id", conn.SessionID.String()).
				Str("role", string(conn.Role)).
				Err(err).
				Msg("disconnect on socket close rejected")
		}
	}()

	conn.WS.SetReadLimit(4 * 1024)
	_ = conn.WS.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.WS.SetPongHandler(func(string) error {
		return conn.WS.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		// Clients only listen on this socket; reads exist to observe close.
		if _, _, err := conn.WS.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("conn_id", conn.ID).Msg("websocket read error")
			}
			return
		}
	}
}

func (h *Handler) writePump(conn *hub.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		conn.WS.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			_ = conn.WS.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = conn.WS.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WS.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.WS.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WS.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
