package subscriber

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderdesk/internal/events"
	"orderdesk/internal/model"
)

func sseServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, f := range frames {
			fmt.Fprint(w, f)
		}
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialer(url string, idle time.Duration) *HTTPDialer {
	return &HTTPDialer{URL: url, Token: func() string { return "tok" }, IdleTimeout: idle}
}

func TestHTTPDialer_ParsesFrames(t *testing.T) {
	srv := sseServer(t,
		": keep-alive comment\n\n",
		"event: connected\ndata: {}\n\n",
		"event: order_status_changed\r\ndata: {\"orderId\":\"o-1\",\r\ndata: \"status\":\"dispatched\"}\r\n\r\n",
		"event: mystery\ndata: {}\n\n",
		"data: no event name\n\n",
		"event: heartbeat\ndata: {}\n\n",
	)

	st, err := dialer(srv.URL, time.Second).Dial(context.Background())
	require.NoError(t, err)
	defer st.Close()

	ev, err := st.Next()
	require.NoError(t, err)
	assert.Equal(t, events.Connected{}, ev)

	ev, err = st.Next()
	require.NoError(t, err)
	assert.Equal(t, events.OrderStatusChanged{OrderID: "o-1", Status: model.StatusDispatched}, ev)

	ev, err = st.Next()
	require.NoError(t, err)
	assert.Equal(t, events.Heartbeat{}, ev)
}

func TestHTTPDialer_IdleTimeout(t *testing.T) {
	srv := sseServer(t, "event: connected\ndata: {}\n\n")

	st, err := dialer(srv.URL, 50*time.Millisecond).Dial(context.Background())
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Next()
	require.NoError(t, err)

	_, err = st.Next()
	assert.ErrorIs(t, err, ErrIdleTimeout)
}

func TestHTTPDialer_OversizedLineEndsStream(t *testing.T) {
	srv := sseServer(t,
		"event: connected\ndata: {}\n\n",
		"event: order_created\ndata: "+strings.Repeat("x", maxLineSize+1)+"\n\n",
	)

	st, err := dialer(srv.URL, time.Second).Dial(context.Background())
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Next()
	require.NoError(t, err)

	_, err = st.Next()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestHTTPDialer_OversizedFrameEndsStream(t *testing.T) {
	line := "data: " + strings.Repeat("x", 1024) + "\n"
	srv := sseServer(t, "event: order_created\n"+strings.Repeat(line, maxFrameSize/1024+1)+"\n")

	st, err := dialer(srv.URL, time.Second).Dial(context.Background())
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Next()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestHTTPDialer_Rejections(t *testing.T) {
	srv := sseServer(t)

	d := dialer(srv.URL, time.Second)
	d.Token = nil
	_, err := d.Dial(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedStatus)

	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	}))
	defer plain.Close()
	_, err = dialer(plain.URL, time.Second).Dial(context.Background())
	assert.ErrorIs(t, err, ErrNotEventStream)
}

func TestHTTPDialer_CloseUnblocksNext(t *testing.T) {
	srv := sseServer(t, "event: connected\ndata: {}\n\n")

	st, err := dialer(srv.URL, time.Minute).Dial(context.Background())
	require.NoError(t, err)
	_, err = st.Next()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := st.Next()
		done <- err
	}()
	require.NoError(t, st.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestSubscriber_OverHTTP(t *testing.T) {
	srv := sseServer(t,
		"event: connected\ndata: {}\n\n",
		"event: order_created\ndata: {\"orderId\":\"o-42\"}\n\n",
	)
	rec := &recorder{}
	s := New(dialer(srv.URL, time.Second), rec, rec.handlers())
	defer s.Close()

	s.Connect()
	require.Eventually(t, func() bool { return len(rec.entries()) == 3 }, waitFor, tick)
	assert.Equal(t, []string{"connected", "invalidate", "created:o-42"}, rec.entries())
	assert.Equal(t, Connected, s.State())
}
