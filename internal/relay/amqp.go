package relay

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange is the fanout exchange every server instance publishes to and
// consumes from.
const Exchange = "order_events"

// AMQP is a Transport over one RabbitMQ connection with a private,
// auto-deleted queue bound to Exchange.
type AMQP struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func Dial(url string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	a := &AMQP{conn: conn, ch: ch}
	if err := a.declare(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *AMQP) declare() error {
	if err := a.ch.ExchangeDeclare(Exchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := a.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := a.ch.QueueBind(q.Name, "", Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	a.queue = q.Name
	return nil
}

func (a *AMQP) Publish(ctx context.Context, msg amqp.Publishing) error {
	return a.ch.PublishWithContext(ctx, Exchange, "", false, false, msg)
}

// Consume auto-acks: relayed events are transient and a lost one is caught up
// by client polling.
func (a *AMQP) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	return a.ch.ConsumeWithContext(ctx, a.queue, "", true, true, false, false, nil)
}

func (a *AMQP) Close() error {
	if a.ch != nil && !a.ch.IsClosed() {
		if err := a.ch.Close(); err != nil {
			return fmt.Errorf("close rabbitmq channel: %w", err)
		}
	}
	if a.conn != nil && !a.conn.IsClosed() {
		if err := a.conn.Close(); err != nil {
			return fmt.Errorf("close rabbitmq connection: %w", err)
		}
	}
	return nil
}
