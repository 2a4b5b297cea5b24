// Package eventing publishes fire-and-forget domain events to RabbitMQ
// (SPEC_FULL.md §4.18): database.created, database.restored,
// snapshot.captured, token.revoked. Grounded on the teacher's amqp091-go
// connection-setup conventions (exchange declaration, bounded retry on
// the initial connection dial via cenkalti/backoff), generalized from the
// teacher's transactional event bus to this core's simpler at-most-once
// publish.
package eventing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/marcua/ayb/common"
	"github.com/marcua/ayb/common/logging"
)

// Event routing keys published by this core. No consumer of these events
// lives in this repository (SPEC_FULL.md §4.18).
const (
	EventDatabaseCreated  = "database.created"
	EventDatabaseRestored = "database.restored"
	EventSnapshotCaptured = "snapshot.captured"
	EventTokenRevoked     = "token.revoked"
)

// Publisher publishes event, JSON-encoded, under routingKey.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any)
}

// AMQPPublisher is the real implementation, backed by a single long-lived
// connection and channel.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   logging.Logger
}

// Connect dials url and declares exchange as a topic exchange, retrying
// the initial connection with bounded exponential backoff (the one place
// this package retries; a publish that fails afterward is logged and
// dropped, not retried).
func Connect(url, exchange string, logger logging.Logger) (*AMQPPublisher, error) {
	var conn *amqp.Connection

	operation := func() error {
		var err error
		conn, err = amqp.Dial(url)
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, common.Wrap(common.KindIO, "connecting to event broker", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, common.Wrap(common.KindIO, "opening event channel", err)
	}

	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, common.Wrap(common.KindIO, "declaring event exchange", err)
	}

	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange, logger: logger}, nil
}

// Publish fire-and-forgets event under routingKey. A publish failure is
// logged and dropped: this core provides no exactly-once delivery or
// outbox, per SPEC_FULL.md §4.18.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, event any) {
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("failed to encode event", "routing_key", routingKey, "error", err.Error())
		return
	}

	publishCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(publishCtx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
	if err != nil {
		p.logger.Warn("failed to publish event", "routing_key", routingKey, "error", err.Error())
	}
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.channel.Close()

	if err := p.conn.Close(); err != nil {
		return common.Wrap(common.KindIO, "closing event broker connection", err)
	}

	return nil
}

// NullPublisher is the no-op implementation used when eventing isn't
// configured.
type NullPublisher struct{}

func (NullPublisher) Publish(context.Context, string, any) {}
