// Package subscriber keeps one logical push connection open for a mounted
// view. Events invalidate the local order cache before reaching the view's
// callbacks; broken connections are retried with exponential backoff.
package subscriber

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"orderdesk/internal/events"
)

const (
	BaseDelay   = time.Second
	MaxDelay    = 30 * time.Second
	MaxAttempts = 10
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

// Delay is the wait before reconnect attempt n (zero based):
// min(BaseDelay * 2^n, MaxDelay).
func Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= MaxDelay {
			return MaxDelay
		}
	}
	return d
}

// Stream is one open connection. Next blocks until a frame arrives or the
// stream breaks; Close must unblock it.
type Stream interface {
	Next() (events.Event, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Handlers are the view's callbacks. They run one at a time and any of them
// may be nil.
type Handlers struct {
	OnConnected     func()
	OnDisconnected  func(err error)
	OnOrderCreated  func(events.OrderCreated)
	OnStatusChanged func(events.OrderStatusChanged)
	OnAssigned      func(events.OrderAssigned)
}

// Timer is a pending scheduled reconnect.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. The subscriber owns at most one pending
// timer at a time.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clock struct{}

func (clock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Option func(*Subscriber)

func WithScheduler(s Scheduler) Option {
	return func(sub *Subscriber) { sub.sched = s }
}

type Subscriber struct {
	dialer Dialer
	inval  Invalidator
	h      Handlers
	sched  Scheduler

	mu      sync.Mutex
	state   State
	attempt int
	gen     uint64
	cancel  context.CancelFunc
	stream  Stream
	timer   Timer
	closed  bool

	// cbMu serializes callbacks across connection generations.
	cbMu sync.Mutex
}

func New(d Dialer, inv Invalidator, h Handlers, opts ...Option) *Subscriber {
	s := &Subscriber{dialer: d, inval: inv, h: h, sched: clock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscriber) Live() bool {
	return s.State() == Connected
}

// Attempt is the number of automatic reconnects scheduled since the last
// successful greeting.
func (s *Subscriber) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Exhausted reports that automatic reconnection gave up. Reconnect still
// works.
func (s *Subscriber) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.state == Disconnected && s.timer == nil && s.attempt >= MaxAttempts
}

// Connect opens the connection. It is a no-op unless the subscriber is
// disconnected, and it does not preempt a scheduled reconnect.
func (s *Subscriber) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != Disconnected || s.timer != nil {
		return
	}
	s.startLocked()
}

// Reconnect drops whatever connection or pending retry exists, resets the
// attempt counter and dials again right away.
func (s *Subscriber) Reconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	st := s.teardownLocked()
	s.attempt = 0
	s.startLocked()
	s.mu.Unlock()

	closeStream(st)
}

// Close cancels any pending reconnect and closes the active connection.
// Callbacks stop once it returns, apart from one already under way. It is
// safe to call from inside a callback.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	st := s.teardownLocked()
	s.gen++
	s.mu.Unlock()

	closeStream(st)
}

func (s *Subscriber) startLocked() {
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = Connecting
	go s.run(ctx, gen)
}

// teardownLocked stops the timer and cancels the connection, returning the
// stream for the caller to close outside the lock.
func (s *Subscriber) teardownLocked() Stream {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	st := s.stream
	s.stream = nil
	s.state = Disconnected
	return st
}

func (s *Subscriber) run(ctx context.Context, gen uint64) {
	st, err := s.dialer.Dial(ctx)
	if err != nil {
		s.fail(gen, err)
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		closeStream(st)
		return
	}
	s.stream = st
	s.mu.Unlock()

	for {
		ev, err := st.Next()
		if err != nil {
			s.fail(gen, err)
			return
		}
		s.dispatch(ctx, gen, ev)
	}
}

func (s *Subscriber) dispatch(ctx context.Context, gen uint64, ev events.Event) {
	switch e := ev.(type) {
	case events.Connected:
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.state = Connected
		s.attempt = 0
		s.mu.Unlock()
		slog.Info("push stream connected")
		s.deliver(gen, func() {
			if s.h.OnConnected != nil {
				s.h.OnConnected()
			}
		})
	case events.Heartbeat:
		slog.Debug("heartbeat")
	case events.OrderCreated:
		s.deliver(gen, func() {
			s.invalidate(ctx)
			if s.h.OnOrderCreated != nil {
				s.h.OnOrderCreated(e)
			}
		})
	case events.OrderStatusChanged:
		s.deliver(gen, func() {
			s.invalidate(ctx)
			if s.h.OnStatusChanged != nil {
				s.h.OnStatusChanged(e)
			}
		})
	case events.OrderAssigned:
		s.deliver(gen, func() {
			s.invalidate(ctx)
			if s.h.OnAssigned != nil {
				s.h.OnAssigned(e)
			}
		})
	}
}

func (s *Subscriber) fail(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	st := s.teardownLocked()
	s.mu.Unlock()

	closeStream(st)
	if !errors.Is(cause, context.Canceled) {
		slog.Warn("push stream lost", "error", cause)
	}
	s.deliver(gen, func() {
		if s.h.OnDisconnected != nil {
			s.h.OnDisconnected(cause)
		}
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed || s.state != Disconnected {
		return
	}
	if s.attempt >= MaxAttempts {
		slog.Warn("giving up on push stream", "attempts", s.attempt)
		return
	}
	d := Delay(s.attempt)
	s.attempt++
	slog.Info("scheduling reconnect", "attempt", s.attempt, "delay", d)
	s.timer = s.sched.AfterFunc(d, func() { s.retry(gen) })
}

func (s *Subscriber) retry(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen || s.state != Disconnected {
		return
	}
	s.timer = nil
	s.startLocked()
}

// deliver runs fn unless the generation it belongs to has been superseded.
func (s *Subscriber) deliver(gen uint64, fn func()) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	s.mu.Lock()
	current := gen == s.gen && !s.closed
	s.mu.Unlock()
	if current {
		fn()
	}
}

func (s *Subscriber) invalidate(ctx context.Context) {
	if s.inval == nil {
		return
	}
	if err := s.inval.Invalidate(ctx); err != nil {
		slog.Warn("order cache invalidation failed", "error", err)
	}
}

func closeStream(st Stream) {
	if st == nil {
		return
	}
	if err := st.Close(); err != nil {
		slog.Debug("close push stream", "error", err)
	}
}
