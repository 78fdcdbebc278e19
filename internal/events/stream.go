package events

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	ErrSubscriberClosed = errors.New("subscriber closed")
	ErrSlowSubscriber   = errors.New("subscriber buffer full")
)

// Stream is a Conn backed by a single buffered channel, drained by whoever
// writes to the network (the push handler).
type Stream struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 1
	}
	return &Stream{ch: make(chan Event, buffer)}
}

func (s *Stream) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriberClosed
	}
	select {
	case s.ch <- ev:
		return nil
	default:
		return ErrSlowSubscriber
	}
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// Events is closed once the stream is closed.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// WriteSSE writes ev as one server-sent-events frame.
func WriteSSE(w io.Writer, ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind(), data)
	return err
}
