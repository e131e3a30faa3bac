package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/advicelink/sessiond/internal/session"
)

const (
	meterName = "github.com/advicelink/sessiond"
)

// Metrics holds the OpenTelemetry metric instruments for session outcomes.
type Metrics struct {
	SessionsCreatedTotal   metric.Int64Counter
	SessionsStartedTotal   metric.Int64Counter
	SessionsCompletedTotal metric.Int64Counter
	SessionsCancelledTotal metric.Int64Counter
	SessionsExpiredTotal   metric.Int64Counter

	// WaitingRoomDuration measures scheduled start to actual start in
	// seconds (negative for early starts), the number disputes ask about.
	WaitingRoomDuration metric.Float64Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}
	m.SessionsCreatedTotal, _ = meter.Int64Counter("sessions_created_total",
		metric.WithDescription("Sessions created from confirmed reservations"))
	m.SessionsStartedTotal, _ = meter.Int64Counter("sessions_started_total",
		metric.WithDescription("Sessions that reached ACTIVE"))
	m.SessionsCompletedTotal, _ = meter.Int64Counter("sessions_completed_total",
		metric.WithDescription("Sessions that ended normally"))
	m.SessionsCancelledTotal, _ = meter.Int64Counter("sessions_cancelled_total",
		metric.WithDescription("Sessions cancelled, labelled by reason"))
	m.SessionsExpiredTotal, _ = meter.Int64Counter("sessions_expired_total",
		metric.WithDescription("Sessions that never started before their scheduled end"))
	m.WaitingRoomDuration, _ = meter.Float64Histogram("waiting_room_duration_seconds",
		metric.WithDescription("Actual start relative to scheduled start, in seconds"))

	return m
}

// Sink counts lifecycle events. Registered with the session manager like any
// other event consumer.
type Sink struct {
	m *Metrics
}

// NewSink returns the metrics event sink.
func NewSink() *Sink {
	return &Sink{m: GetMetrics()}
}

// Publish records the event on the matching instrument.
func (s *Sink) Publish(ctx context.Context, ev session.Event) {
	switch ev.Type {
	case session.EventCreated:
		s.m.SessionsCreatedTotal.Add(ctx, 1)
	case session.EventStarted:
		s.m.SessionsStartedTotal.Add(ctx, 1)
		if ev.Snapshot.ActualStart != nil {
			delta := ev.Snapshot.ActualStart.Sub(ev.Snapshot.ScheduledStart)
			s.m.WaitingRoomDuration.Record(ctx, delta.Seconds())
		}
	case session.EventCompleted:
		s.m.SessionsCompletedTotal.Add(ctx, 1)
	case session.EventCancelled:
		s.m.SessionsCancelledTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("reason", ev.Reason)))
	case session.EventExpired:
		s.m.SessionsExpiredTotal.Add(ctx, 1)
	}
}
