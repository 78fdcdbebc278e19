package events

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderdesk/internal/model"
)

func TestDecode_DomainEvents(t *testing.T) {
	ev, err := Decode(KindOrderStatusChanged, []byte(`{"orderId":"o-9","status":"arrived"}`))
	require.NoError(t, err)
	assert.Equal(t, OrderStatusChanged{OrderID: "o-9", Status: model.StatusArrived}, ev)

	ev, err = Decode(KindOrderAssigned, []byte(`{"orderId":"o-9","motoboyId":"m-1"}`))
	require.NoError(t, err)
	assert.Equal(t, OrderAssigned{OrderID: "o-9", MotoboyID: "m-1"}, ev)

	ev, err = Decode(KindHeartbeat, nil)
	require.NoError(t, err)
	assert.Equal(t, Heartbeat{}, ev)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode("order_deleted", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = Decode(KindOrderCreated, []byte(`{"orderId":`))
	assert.Error(t, err)
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSSE(&buf, OrderCreated{OrderID: "o-1"}))
	require.NoError(t, WriteSSE(&buf, Connected{}))

	assert.Equal(t,
		"event: order_created\ndata: {\"orderId\":\"o-1\"}\n\n"+
			"event: connected\ndata: {}\n\n",
		buf.String())
}

func TestDomainAndOrderID(t *testing.T) {
	assert.True(t, Domain(OrderAssigned{OrderID: "x"}))
	assert.False(t, Domain(Heartbeat{}))
	assert.Equal(t, "x", OrderID(OrderAssigned{OrderID: "x"}))
	assert.Empty(t, OrderID(Connected{}))
}

func TestStream_SendAfterClose(t *testing.T) {
	s := NewStream(1)
	require.NoError(t, s.Send(Heartbeat{}))
	assert.ErrorIs(t, s.Send(Heartbeat{}), ErrSlowSubscriber)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Send(Heartbeat{}), ErrSubscriberClosed)
}
