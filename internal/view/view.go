package view

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"orderdesk/internal/events"
	"orderdesk/internal/model"
	"orderdesk/internal/subscriber"
)

// Source is the order read side, normally the cached API client.
type Source interface {
	ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, error)
}

var (
	kitchenStatuses = []model.Status{model.StatusPending, model.StatusAccepted, model.StatusPreparing, model.StatusReady}
	courierStatuses = []model.Status{model.StatusReady, model.StatusDispatched, model.StatusArrived}
)

// Query is the server-side filter a role's list starts from.
func Query(role model.Role, userID string) model.OrderFilter {
	switch role {
	case model.RoleKitchen:
		return model.OrderFilter{Statuses: kitchenStatuses}
	case model.RoleMotoboy:
		return model.OrderFilter{Statuses: courierStatuses}
	case model.RoleCustomer:
		return model.OrderFilter{UserID: userID}
	}
	return model.OrderFilter{}
}

// Relevant reports whether o belongs on the role's screen.
func Relevant(role model.Role, userID string, o model.Order) bool {
	switch role {
	case model.RoleKitchen:
		return slices.Contains(kitchenStatuses, o.Status)
	case model.RoleMotoboy:
		if o.OrderType != model.OrderTypeDelivery || o.Status.Terminal() {
			return false
		}
		if o.MotoboyID == nil {
			return o.Status == model.StatusReady
		}
		return *o.MotoboyID == userID
	case model.RoleCustomer:
		return o.UserID == userID
	}
	return true
}

type Option func(*View)

func WithAlert(a *Alert) Option {
	return func(v *View) { v.alert = a }
}

func WithClock(now func() time.Time) Option {
	return func(v *View) { v.now = now }
}

// View keeps one role's order list and redraws it on every change. Failed
// fetches keep the last data and mark it stale.
type View struct {
	src    Source
	role   model.Role
	userID string
	out    io.Writer
	alert  *Alert
	now    func() time.Time

	mu      sync.Mutex
	orders  []model.Order
	updated time.Time
	stale   bool
	live    bool
}

func New(src Source, role model.Role, userID string, out io.Writer, opts ...Option) *View {
	v := &View{src: src, role: role, userID: userID, out: out, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Refresh refetches the list and silences a ringing alert.
func (v *View) Refresh(ctx context.Context) error {
	if v.alert != nil {
		v.alert.Stop()
	}
	return v.refresh(ctx)
}

func (v *View) refresh(ctx context.Context) error {
	orders, err := v.src.ListOrders(ctx, Query(v.role, v.userID))

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.stale = true
		v.renderLocked()
		return fmt.Errorf("refresh %s view: %w", v.role, err)
	}

	kept := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if Relevant(v.role, v.userID, o) {
			kept = append(kept, o)
		}
	}
	sortFor(v.role, kept)
	v.orders = kept
	v.updated = v.now()
	v.stale = false
	v.renderLocked()
	return nil
}

// Orders returns the last fetched list.
func (v *View) Orders() []model.Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]model.Order(nil), v.orders...)
}

func (v *View) Stale() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stale
}

func (v *View) SetLive(live bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.live = live
	v.renderLocked()
}

func (v *View) renderLocked() {
	err := Render(v.out, Snapshot{
		Role:    v.role,
		Live:    v.live,
		Stale:   v.stale,
		Updated: v.updated,
		Orders:  v.orders,
	}, v.now())
	if err != nil {
		slog.Warn("render failed", "error", err)
	}
}

// Handlers wires the view to a push subscriber. Every callback refetches; the
// subscriber has already invalidated the cache by then. A new order rings the
// alert and its own refetch leaves it ringing.
func (v *View) Handlers(ctx context.Context) subscriber.Handlers {
	refresh := func() {
		if err := v.Refresh(ctx); err != nil {
			slog.Warn("refresh after push failed", "error", err)
		}
	}
	return subscriber.Handlers{
		OnConnected: func() {
			v.SetLive(true)
			refresh()
		},
		OnDisconnected: func(err error) {
			slog.Info("push stream lost", "error", err)
			v.SetLive(false)
		},
		OnOrderCreated: func(ev events.OrderCreated) {
			if v.alert != nil {
				v.alert.Ring("new order " + short(ev.OrderID))
			}
			if err := v.refresh(ctx); err != nil {
				slog.Warn("refresh after push failed", "error", err)
			}
		},
		OnStatusChanged: func(events.OrderStatusChanged) { refresh() },
		OnAssigned:      func(events.OrderAssigned) { refresh() },
	}
}

// Close stops the alert, if any.
func (v *View) Close() {
	if v.alert != nil {
		v.alert.Close()
	}
}

func sortFor(role model.Role, orders []model.Order) {
	newestFirst := role == model.RoleCustomer || role == model.RoleAdmin
	sort.SliceStable(orders, func(i, j int) bool {
		if newestFirst {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}
