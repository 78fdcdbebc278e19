package events

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"orderdesk/internal/metrics"
)

// Conn is one open push connection as seen by the broker. Send must not block.
type Conn interface {
	Send(ev Event) error
	Close() error
}

// Publisher is what order mutations use to announce themselves.
type Publisher interface {
	Publish(ev Event)
}

// Broker is the subscription registry and fan-out publisher. One instance is
// owned by the server process for its lifetime.
type Broker struct {
	mu    sync.RWMutex
	conns map[string]Conn

	// pubMu serializes fan-outs so every connection sees events in the order
	// Publish was called.
	pubMu sync.Mutex
}

func NewBroker() *Broker {
	return &Broker{conns: make(map[string]Conn)}
}

// Subscribe sends the connected greeting and registers c. The returned handle
// is used to unsubscribe. A connection that cannot take the greeting is closed
// and never registered.
func (b *Broker) Subscribe(c Conn) (string, error) {
	if err := send(c, Connected{}); err != nil {
		_ = c.Close()
		return "", fmt.Errorf("greet subscriber: %w", err)
	}

	id := uuid.NewString()
	b.mu.Lock()
	b.conns[id] = c
	n := len(b.conns)
	b.mu.Unlock()

	metrics.Subscribers.Set(float64(n))
	slog.Debug("subscriber registered", "subscription", id, "active", n)
	return id, nil
}

// Unsubscribe removes and closes the connection behind id. Unknown handles are
// ignored, so it is safe to call after the broker already dropped it.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	c, ok := b.conns[id]
	delete(b.conns, id)
	n := len(b.conns)
	b.mu.Unlock()

	if !ok {
		return
	}
	_ = c.Close()
	metrics.Subscribers.Set(float64(n))
	slog.Debug("subscriber removed", "subscription", id, "active", n)
}

// Publish delivers ev to every registered connection. A connection whose send
// fails is unregistered and closed; the others still get the event.
func (b *Broker) Publish(ev Event) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.mu.RLock()
	targets := make(map[string]Conn, len(b.conns))
	for id, c := range b.conns {
		targets[id] = c
	}
	b.mu.RUnlock()

	var failed []string
	for id, c := range targets {
		if err := send(c, ev); err != nil {
			slog.Warn("dropping subscriber", "subscription", id, "event", ev.Kind(), "error", err)
			failed = append(failed, id)
		}
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Kind())).Inc()

	for _, id := range failed {
		b.Unsubscribe(id)
		metrics.SubscribersDropped.Inc()
	}
}

func (b *Broker) Heartbeat() {
	b.Publish(Heartbeat{})
}

func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// Close unregisters and closes every connection.
func (b *Broker) Close() {
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[string]Conn)
	b.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	metrics.Subscribers.Set(0)
}

func send(c Conn, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return c.Send(ev)
}
