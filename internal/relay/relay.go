package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"orderdesk/internal/events"
	"orderdesk/internal/metrics"
)

const (
	originHeader   = "origin"
	outboxSize     = 256
	publishTimeout = 5 * time.Second
)

var ErrNotDomainEvent = errors.New("only order events are relayed")

// Transport moves relay messages between instances.
type Transport interface {
	Publish(ctx context.Context, msg amqp.Publishing) error
	Consume(ctx context.Context) (<-chan amqp.Delivery, error)
	Close() error
}

// Relay is an events.Publisher that fans order events out locally and to
// every other instance, and replays what the other instances send into the
// local broker.
type Relay struct {
	local  events.Publisher
	t      Transport
	origin string
	outbox chan events.Event
}

func New(local events.Publisher, t Transport, origin string) *Relay {
	return &Relay{
		local:  local,
		t:      t,
		origin: origin,
		outbox: make(chan events.Event, outboxSize),
	}
}

// Publish never blocks on the network. When the outbox is full the event still
// reaches local subscribers and the remote copy is dropped.
func (r *Relay) Publish(ev events.Event) {
	r.local.Publish(ev)
	if !events.Domain(ev) {
		return
	}
	select {
	case r.outbox <- ev:
	default:
		metrics.RelayMessages.WithLabelValues("dropped").Inc()
		slog.Warn("relay outbox full, dropping", "event", ev.Kind(), "order", events.OrderID(ev))
	}
}

// Run pumps the outbox and the inbound queue until ctx is done or the
// transport fails.
func (r *Relay) Run(ctx context.Context) error {
	deliveries, err := r.t.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume relay queue: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.send(ctx) })
	g.Go(func() error { return r.receive(ctx, deliveries) })

	slog.Info("event relay started", "origin", r.origin)
	err = g.Wait()
	slog.Info("event relay stopped")
	return err
}

func (r *Relay) send(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.outbox:
			msg, err := Marshal(r.origin, ev)
			if err != nil {
				slog.Error("relay encode failed", "event", ev.Kind(), "error", err)
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err = r.t.Publish(pctx, msg)
			cancel()
			if err != nil {
				return fmt.Errorf("relay publish: %w", err)
			}
			metrics.RelayMessages.WithLabelValues("out").Inc()
		}
	}
}

func (r *Relay) receive(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("relay queue closed")
			}
			origin, ev, err := Unmarshal(d)
			if err != nil {
				slog.Warn("skipping relay message", "error", err)
				continue
			}
			if origin == r.origin {
				continue
			}
			metrics.RelayMessages.WithLabelValues("in").Inc()
			r.local.Publish(ev)
		}
	}
}

func (r *Relay) Close() error {
	return r.t.Close()
}

// Marshal wraps an order event for the exchange. The event kind travels as
// the message type and the sending instance as a header.
func Marshal(origin string, ev events.Event) (amqp.Publishing, error) {
	if !events.Domain(ev) {
		return amqp.Publishing{}, fmt.Errorf("%w: %s", ErrNotDomainEvent, ev.Kind())
	}
	body, err := events.Encode(ev)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Transient,
		ContentType:  "application/json",
		Type:         string(ev.Kind()),
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{originHeader: origin},
		Body:         body,
	}, nil
}

func Unmarshal(d amqp.Delivery) (string, events.Event, error) {
	origin, _ := d.Headers[originHeader].(string)
	ev, err := events.Decode(events.Kind(d.Type), d.Body)
	if err != nil {
		return origin, nil, err
	}
	if !events.Domain(ev) {
		return origin, nil, fmt.Errorf("%w: %s", ErrNotDomainEvent, ev.Kind())
	}
	return origin, ev, nil
}
