package subscriber

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"orderdesk/internal/events"
)

const (
	// DefaultIdleTimeout is two and a half heartbeat periods.
	DefaultIdleTimeout = 75 * time.Second

	maxLineSize  = 64 << 10
	maxFrameSize = 256 << 10
)

var (
	ErrUnexpectedStatus = errors.New("unexpected push stream status")
	ErrNotEventStream   = errors.New("response is not an event stream")
	ErrIdleTimeout      = errors.New("push stream idle")
	ErrFrameTooLarge    = errors.New("push frame too large")
)

// HTTPDialer opens the server-sent-events endpoint. Client must not carry an
// overall request timeout; IdleTimeout bounds the gap between frames instead.
type HTTPDialer struct {
	URL         string
	Client      *http.Client
	Token       func() string
	IdleTimeout time.Duration
}

func (d *HTTPDialer) Dial(ctx context.Context) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if d.Token != nil {
		if tok := d.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d, body: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %q", ErrNotEventStream, mt)
	}

	idle := d.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return newSSEStream(resp.Body, idle), nil
}

type sseStream struct {
	body    io.ReadCloser
	sc      *bufio.Scanner
	idle    time.Duration
	timer   *time.Timer
	expired atomic.Bool
	once    sync.Once
}

func newSSEStream(body io.ReadCloser, idle time.Duration) *sseStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	s := &sseStream{body: body, sc: sc, idle: idle}
	s.timer = time.AfterFunc(idle, func() {
		s.expired.Store(true)
		s.body.Close()
	})
	return s
}

// Next returns the next recognised event. Unknown event names and comment
// lines are skipped. Lines over maxLineSize and frames over maxFrameSize end
// the stream.
func (s *sseStream) Next() (events.Event, error) {
	var (
		name string
		data []string
		size int
	)
	for {
		if !s.sc.Scan() {
			err := s.sc.Err()
			switch {
			case s.expired.Load():
				return nil, ErrIdleTimeout
			case err == nil:
				return nil, io.ErrUnexpectedEOF
			case errors.Is(err, bufio.ErrTooLong):
				return nil, fmt.Errorf("%w: line over %d bytes", ErrFrameTooLarge, maxLineSize)
			}
			return nil, err
		}
		s.timer.Reset(s.idle)

		line := s.sc.Text()
		if line == "" {
			if name == "" && len(data) == 0 {
				continue
			}
			ev, err := events.Decode(events.Kind(name), []byte(strings.Join(data, "\n")))
			name, data, size = "", nil, 0
			if err != nil {
				slog.Debug("skipping push frame", "error", err)
				continue
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			if size += len(value); size > maxFrameSize {
				return nil, fmt.Errorf("%w: over %d bytes", ErrFrameTooLarge, maxFrameSize)
			}
			data = append(data, value)
		}
	}
}

func (s *sseStream) Close() error {
	var err error
	s.once.Do(func() {
		s.timer.Stop()
		err = s.body.Close()
	})
	return err
}
