package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/advicelink/sessiond/internal/models"
)

// EventType labels a lifecycle event emitted by the coordinator.
type EventType string

const (
	EventCreated          EventType = "session.created"
	EventPreflightOpened  EventType = "session.preflight_opened"
	EventWaitingRoom      EventType = "session.waiting_room"
	EventReadinessChanged EventType = "session.readiness_changed"
	EventStarted          EventType = "session.started"
	EventCompleted        EventType = "session.completed"
	EventCancelled        EventType = "session.cancelled"
	EventExpired          EventType = "session.expired"
)

// Event is the coordinator's outbound notification. Every event carries the
// full post-transition snapshot so consumers converge on state, not diffs.
type Event struct {
	Type       EventType       `json:"type"`
	SessionID  uuid.UUID       `json:"sessionId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Reason     string          `json:"reason,omitempty"`
	Snapshot   Snapshot        `json:"snapshot"`
}

// Sink consumes lifecycle events. Sinks must not block the coordinator;
// slow consumers buffer or drop on their own side.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// ParticipantView is the public slice of a participant's state included in
// every snapshot. Both parties see each other's view.
type ParticipantView struct {
	UserID      uuid.UUID              `json:"userId"`
	Role        models.Role            `json:"role"`
	Online      bool                   `json:"online"`
	Ready       bool                   `json:"ready"`
	Devices     models.DeviceStatus    `json:"devices"`
	Permissions models.Permissions     `json:"permissions"`
	Network     *models.NetworkQuality `json:"network,omitempty"`
}

// Snapshot is the complete session view returned by every gateway call and
// broadcast on every state change. Identical commands yield identical
// snapshots, so clients can apply them idempotently.
type Snapshot struct {
	SessionID            uuid.UUID       `json:"sessionId"`
	DisplayID            string          `json:"displayId"`
	Medium               models.Medium   `json:"medium"`
	Status               models.Status   `json:"status"`
	Phase                models.Phase    `json:"phase"`
	TimeRemainingSeconds int64           `json:"timeRemainingSeconds"`
	ScheduledStart       time.Time       `json:"scheduledStart"`
	ScheduledEnd         time.Time       `json:"scheduledEnd"`
	ActualStart          *time.Time      `json:"actualStart,omitempty"`
	ActualEnd            *time.Time      `json:"actualEnd,omitempty"`
	CancelReason         string          `json:"cancelReason,omitempty"`
	Expert               ParticipantView `json:"expert"`
	Client               ParticipantView `json:"client"`
}
