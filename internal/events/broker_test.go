package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderdesk/internal/model"
)

type recordingConn struct {
	mu     sync.Mutex
	got    []Event
	closed bool
}

func (c *recordingConn) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSubscriberClosed
	}
	c.got = append(c.got, ev)
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.got...)
}

// brokenConn accepts the greeting and fails every later send.
type brokenConn struct {
	recordingConn
	sends int
}

func (c *brokenConn) Send(ev Event) error {
	c.sends++
	if c.sends > 1 {
		return errors.New("broken pipe")
	}
	return c.recordingConn.Send(ev)
}

type panickingConn struct {
	recordingConn
	armed bool
}

func (c *panickingConn) Send(ev Event) error {
	if c.armed {
		panic("boom")
	}
	c.armed = true
	return c.recordingConn.Send(ev)
}

func TestSubscribe_SendsConnectedFirst(t *testing.T) {
	b := NewBroker()
	c := &recordingConn{}

	id, err := b.Subscribe(c)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, b.Count())
	assert.Equal(t, []Event{Connected{}}, c.events())
}

func TestSubscribe_GreetFailureNotRegistered(t *testing.T) {
	b := NewBroker()
	c := &recordingConn{closed: true}

	_, err := b.Subscribe(c)
	require.Error(t, err)
	assert.Equal(t, 0, b.Count())
}

func TestPublish_ReachesEveryConnection(t *testing.T) {
	b := NewBroker()
	conns := []*recordingConn{{}, {}, {}}
	for _, c := range conns {
		_, err := b.Subscribe(c)
		require.NoError(t, err)
	}

	ev := OrderStatusChanged{OrderID: "o-1", Status: model.StatusReady}
	b.Publish(ev)

	for _, c := range conns {
		got := c.events()
		require.Len(t, got, 2)
		assert.Equal(t, ev, got[1])
	}
}

func TestPublish_FailedConnectionIsDroppedOthersStillServed(t *testing.T) {
	b := NewBroker()
	healthy := &recordingConn{}
	broken := &brokenConn{}
	panicky := &panickingConn{}
	_, err := b.Subscribe(healthy)
	require.NoError(t, err)
	_, err = b.Subscribe(broken)
	require.NoError(t, err)
	_, err = b.Subscribe(panicky)
	require.NoError(t, err)
	require.Equal(t, 3, b.Count())

	assert.NotPanics(t, func() { b.Publish(OrderCreated{OrderID: "o-1"}) })
	assert.Equal(t, 1, b.Count())
	assert.True(t, broken.closed)
	assert.True(t, panicky.closed)

	assert.NotPanics(t, func() { b.Publish(OrderCreated{OrderID: "o-2"}) })
	assert.Equal(t, []Event{Connected{}, OrderCreated{OrderID: "o-1"}, OrderCreated{OrderID: "o-2"}}, healthy.events())
}

func TestPublish_PreservesOrderPerConnection(t *testing.T) {
	b := NewBroker()
	c := &recordingConn{}
	_, err := b.Subscribe(c)
	require.NoError(t, err)

	want := []Event{Connected{}}
	for _, st := range []model.Status{model.StatusAccepted, model.StatusPreparing, model.StatusReady, model.StatusDispatched} {
		ev := OrderStatusChanged{OrderID: "o-1", Status: st}
		want = append(want, ev)
		b.Publish(ev)
	}
	b.Heartbeat()
	want = append(want, Heartbeat{})

	assert.Equal(t, want, c.events())
}

func TestUnsubscribe_ClosesAndIgnoresUnknown(t *testing.T) {
	b := NewBroker()
	c := &recordingConn{}
	id, err := b.Subscribe(c)
	require.NoError(t, err)

	b.Unsubscribe(id)
	b.Unsubscribe(id)
	b.Unsubscribe("nope")

	assert.Equal(t, 0, b.Count())
	assert.True(t, c.closed)
}

func TestBroker_ConcurrentSubscribeUnsubscribeDuringPublish(t *testing.T) {
	b := NewBroker()
	stable := &recordingConn{}
	_, err := b.Subscribe(stable)
	require.NoError(t, err)

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers * 2)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			id, err := b.Subscribe(&recordingConn{})
			if err == nil {
				b.Unsubscribe(id)
			}
		}()
		go func() {
			defer wg.Done()
			b.Publish(OrderCreated{OrderID: "o"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, b.Count())
	assert.Len(t, stable.events(), workers+1)
}

func TestBroker_CloseClosesAll(t *testing.T) {
	b := NewBroker()
	a, c := &recordingConn{}, &recordingConn{}
	_, _ = b.Subscribe(a)
	_, _ = b.Subscribe(c)

	b.Close()

	assert.Equal(t, 0, b.Count())
	assert.True(t, a.closed)
	assert.True(t, c.closed)
}

func TestBroker_SlowStreamIsDropped(t *testing.T) {
	b := NewBroker()
	s := NewStream(2)
	_, err := b.Subscribe(s)
	require.NoError(t, err)

	b.Publish(OrderCreated{OrderID: "1"})
	b.Publish(OrderCreated{OrderID: "2"})

	assert.Equal(t, 0, b.Count())
	var got []Event
	for ev := range s.Events() {
		got = append(got, ev)
	}
	assert.Equal(t, []Event{Connected{}, OrderCreated{OrderID: "1"}}, got)
}
