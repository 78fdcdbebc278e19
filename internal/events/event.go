// Package events holds the order notification core: the closed set of push
// events, their wire encoding and the broker that fans them out to every open
// subscriber connection.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"orderdesk/internal/model"
)

type Kind string

const (
	KindConnected          Kind = "connected"
	KindHeartbeat          Kind = "heartbeat"
	KindOrderCreated       Kind = "order_created"
	KindOrderStatusChanged Kind = "order_status_changed"
	KindOrderAssigned      Kind = "order_assigned"
)

var ErrUnknownKind = errors.New("unknown event kind")

// Event is implemented only by the types in this file.
type Event interface {
	Kind() Kind
	isEvent()
}

type Connected struct{}

type Heartbeat struct{}

type OrderCreated struct {
	OrderID string `json:"orderId"`
}

type OrderStatusChanged struct {
	OrderID string       `json:"orderId"`
	Status  model.Status `json:"status"`
}

type OrderAssigned struct {
	OrderID   string `json:"orderId"`
	MotoboyID string `json:"motoboyId"`
}

func (Connected) Kind() Kind          { return KindConnected }
func (Heartbeat) Kind() Kind          { return KindHeartbeat }
func (OrderCreated) Kind() Kind       { return KindOrderCreated }
func (OrderStatusChanged) Kind() Kind { return KindOrderStatusChanged }
func (OrderAssigned) Kind() Kind      { return KindOrderAssigned }

func (Connected) isEvent()          {}
func (Heartbeat) isEvent()          {}
func (OrderCreated) isEvent()       {}
func (OrderStatusChanged) isEvent() {}
func (OrderAssigned) isEvent()      {}

// Domain reports whether ev describes an order change, as opposed to stream
// housekeeping.
func Domain(ev Event) bool {
	switch ev.(type) {
	case OrderCreated, OrderStatusChanged, OrderAssigned:
		return true
	}
	return false
}

// OrderID returns the order an event refers to, empty for housekeeping events.
func OrderID(ev Event) string {
	switch e := ev.(type) {
	case OrderCreated:
		return e.OrderID
	case OrderStatusChanged:
		return e.OrderID
	case OrderAssigned:
		return e.OrderID
	}
	return ""
}

func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Decode turns a named payload from the wire into its typed event.
func Decode(kind Kind, data []byte) (Event, error) {
	if len(data) == 0 {
		data = []byte("{}")
	}
	var (
		ev  Event
		err error
	)
	switch kind {
	case KindConnected:
		ev = Connected{}
	case KindHeartbeat:
		ev = Heartbeat{}
	case KindOrderCreated:
		var e OrderCreated
		err = json.Unmarshal(data, &e)
		ev = e
	case KindOrderStatusChanged:
		var e OrderStatusChanged
		err = json.Unmarshal(data, &e)
		ev = e
	case KindOrderAssigned:
		var e OrderAssigned
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return ev, nil
}
