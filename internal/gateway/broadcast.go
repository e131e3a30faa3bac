package gateway

import (
	"context"

	"github.com/advicelink/sessiond/internal/hub"
	"github.com/advicelink/sessiond/internal/session"
)

// Sink pushes every lifecycle event's snapshot onto the session's websocket
// topic. This is how both parties observe an auto-start without polling.
type Sink struct {
	hub *hub.Hub
}

// NewSink wraps a hub as a session event sink.
func NewSink(h *hub.Hub) *Sink {
	return &Sink{hub: h}
}

// Publish broadcasts the event's snapshot to all subscribers of the session.
func (s *Sink) Publish(ctx context.Context, ev session.Event) {
	s.hub.BroadcastJSON(ev.SessionID, ev.Snapshot)
}
