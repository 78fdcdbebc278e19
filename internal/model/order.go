package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderType string

const (
	OrderTypeDelivery OrderType = "delivery"
	OrderTypeCounter  OrderType = "counter"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeDelivery || t == OrderTypeCounter
}

type Order struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	Status        Status          `json:"status"`
	OrderType     OrderType       `json:"orderType"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DeliveryFee   decimal.Decimal `json:"deliveryFee"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"paymentMethod"`
	Neighborhood  string          `json:"neighborhood,omitempty"`
	ZoneCode      *string         `json:"zoneCode"`
	Address       string          `json:"address,omitempty"`
	MotoboyID     *string         `json:"motoboyId"`
	Items         []OrderItem     `json:"items"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	AcceptedAt    *time.Time      `json:"acceptedAt"`
	PreparingAt   *time.Time      `json:"preparingAt"`
	ReadyAt       *time.Time      `json:"readyAt"`
	DispatchedAt  *time.Time      `json:"dispatchedAt"`
	ArrivedAt     *time.Time      `json:"arrivedAt"`
	DeliveredAt   *time.Time      `json:"deliveredAt"`
	CancelledAt   *time.Time      `json:"cancelledAt"`
}

// StampOf returns the transition timestamp recorded for s, nil when unset.
func (o *Order) StampOf(s Status) *time.Time {
	switch s {
	case StatusAccepted:
		return o.AcceptedAt
	case StatusPreparing:
		return o.PreparingAt
	case StatusReady:
		return o.ReadyAt
	case StatusDispatched:
		return o.DispatchedAt
	case StatusArrived:
		return o.ArrivedAt
	case StatusDelivered:
		return o.DeliveredAt
	case StatusCancelled:
		return o.CancelledAt
	}
	return nil
}

// OrderItem is a frozen line snapshot. ComboID is the combo instance the line
// was expanded from, empty for freestanding lines.
type OrderItem struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"productId,omitempty"`
	ProductName string          `json:"productName"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int             `json:"quantity"`
	ComboID     string          `json:"comboId,omitempty"`
}

type OrderFilter struct {
	IDs       []string
	UserID    string
	MotoboyID string
	Statuses  []Status
	Limit     int
}

type NewOrderItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int             `json:"quantity"`
}

type NewCombo struct {
	ComboID         string          `json:"comboId"`
	Name            string          `json:"name"`
	OriginalTotal   decimal.Decimal `json:"originalTotal"`
	DiscountedTotal decimal.Decimal `json:"discountedTotal"`
	Items           []NewOrderItem  `json:"items"`
}

type NewOrder struct {
	OrderType     OrderType      `json:"orderType"`
	PaymentMethod string         `json:"paymentMethod"`
	Neighborhood  string         `json:"neighborhood"`
	Address       string         `json:"address"`
	Items         []NewOrderItem `json:"items"`
	Combos        []NewCombo     `json:"combos"`
}
