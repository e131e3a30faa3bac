// Package notify delivers lifecycle events to the downstream collaborators:
// the credit-ledger settlement consumer and the notification dispatcher.
// The coordinator does not know about either; it only sees a Sink.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/advicelink/sessiond/internal/session"
)

// Exchange names. Both are fanout: this service does not care who consumes.
const (
	LifecycleExchange  = "session.lifecycle"
	SettlementExchange = "session.settlement"
)

// Publisher abstracts the broker so the sink tests with a fake.
type Publisher interface {
	Publish(ctx context.Context, exchange string, body []byte) error
	Close() error
}

// AMQPPublisher publishes JSON messages over RabbitMQ.
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPPublisher connects to the broker and declares both exchanges.
func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	for _, exchange := range []string{LifecycleExchange, SettlementExchange} {
		if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}

	return &AMQPPublisher{conn: conn, channel: ch}, nil
}

// Publish sends one message to the given exchange.
func (p *AMQPPublisher) Publish(ctx context.Context, exchange string, body []byte) error {
	return p.channel.PublishWithContext(ctx, exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NoopPublisher is used when no broker is configured (development, tests).
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, exchange string, body []byte) error { return nil }
func (NoopPublisher) Close() error                                                    { return nil }

// SettlementMessage is the billing hook payload emitted on completion, fed to
// the credit-ledger debit downstream.
type SettlementMessage struct {
	SessionID       string    `json:"sessionId"`
	ActualStart     time.Time `json:"actualStart"`
	ActualEnd       time.Time `json:"actualEnd"`
	DurationMinutes int       `json:"durationMinutes"`
}

// Sink adapts a Publisher to the coordinator's event stream.
type Sink struct {
	publisher Publisher
}

// NewSink wraps a publisher as a session event sink.
func NewSink(publisher Publisher) *Sink {
	return &Sink{publisher: publisher}
}

// Publish forwards the event. Start, cancel and expiry go to the notification
// dispatcher; completion additionally emits the settlement payload. Broker
// failures are logged and dropped: notification delivery never gates a
// session transition.
func (s *Sink) Publish(ctx context.Context, ev session.Event) {
	switch ev.Type {
	case session.EventStarted, session.EventCancelled, session.EventExpired:
		s.send(ctx, LifecycleExchange, ev)
	case session.EventCompleted:
		s.send(ctx, LifecycleExchange, ev)
		s.settle(ctx, ev)
	}
}

func (s *Sink) send(ctx context.Context, exchange string, ev session.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal lifecycle event")
		return
	}
	if err := s.publisher.Publish(ctx, exchange, body); err != nil {
		log.Error().
			Str("session_id", ev.SessionID.String()).
			Str("exchange", exchange).
			Err(err).
			Msg("failed to publish lifecycle event")
	}
}

func (s *Sink) settle(ctx context.Context, ev session.Event) {
	snap := ev.Snapshot
	if snap.ActualStart == nil || snap.ActualEnd == nil {
		log.Warn().Str("session_id", ev.SessionID.String()).Msg("completed session missing actual times, skipping settlement")
		return
	}

	msg := SettlementMessage{
		SessionID:       ev.SessionID.String(),
		ActualStart:     *snap.ActualStart,
		ActualEnd:       *snap.ActualEnd,
		DurationMinutes: int(snap.ActualEnd.Sub(*snap.ActualStart).Round(time.Minute) / time.Minute),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal settlement message")
		return
	}
	if err := s.publisher.Publish(ctx, SettlementExchange, body); err != nil {
		log.Error().
			Str("session_id", ev.SessionID.String()).
			Err(err).
			Msg("failed to publish settlement message")
	}
}
