package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"orderdesk/internal/cart"
	"orderdesk/internal/delivery"
	"orderdesk/internal/events"
	"orderdesk/internal/metrics"
	"orderdesk/internal/model"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOrderClosed       = errors.New("order is closed")
	ErrNotMotoboy        = errors.New("user is not a motoboy")
	ErrForbidden         = errors.New("forbidden")
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

const orderColumns = `id, user_id, status, order_type, subtotal, delivery_fee, discount, total,
	payment_method, neighborhood, zone_code, address, motoboy_id, created_at, updated_at,
	accepted_at, preparing_at, ready_at, dispatched_at, arrived_at, delivered_at, cancelled_at`

var stampColumns = map[model.Status]string{
	model.StatusAccepted:   "accepted_at",
	model.StatusPreparing:  "preparing_at",
	model.StatusReady:      "ready_at",
	model.StatusDispatched: "dispatched_at",
	model.StatusArrived:    "arrived_at",
	model.StatusDelivered:  "delivered_at",
	model.StatusCancelled:  "cancelled_at",
}

type FeeResolver interface {
	Resolve(neighborhood string, fallback decimal.Decimal) delivery.Quote
}

type OrderService struct {
	db          *sql.DB
	pub         events.Publisher
	fees        FeeResolver
	fallbackFee decimal.Decimal
	now         func() time.Time
}

func NewOrderService(db *sql.DB, pub events.Publisher, fees FeeResolver, fallbackFee decimal.Decimal) *OrderService {
	return &OrderService{
		db:          db,
		pub:         pub,
		fees:        fees,
		fallbackFee: fallbackFee,
		now:         time.Now,
	}
}

// Create prices the order from its lines and combos, stores it with its item
// snapshots in one transaction and announces it.
func (s *OrderService) Create(ctx context.Context, actor model.Actor, in model.NewOrder) (*model.Order, error) {
	o, err := s.price(actor, in)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, status, order_type, subtotal, delivery_fee, discount, total,
			payment_method, neighborhood, zone_code, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`,
		o.ID, o.UserID, string(o.Status), string(o.OrderType), o.Subtotal, o.DeliveryFee, o.Discount, o.Total,
		o.PaymentMethod, o.Neighborhood, o.ZoneCode, o.Address, o.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		err = tx.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, position, product_id, product_name, unit_price, quantity, combo_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			o.ID, i, it.ProductID, it.ProductName, it.UnitPrice, it.Quantity, it.ComboID,
		).Scan(&it.ID)
		if err != nil {
			return nil, fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.pub.Publish(events.OrderCreated{OrderID: o.ID})
	slog.Info("order created", "order", o.ID, "user", o.UserID, "type", o.OrderType, "total", o.Total.StringFixed(2))
	return o, nil
}

func (s *OrderService) price(actor model.Actor, in model.NewOrder) (*model.Order, error) {
	if !in.OrderType.Valid() {
		return nil, fmt.Errorf("%w: order type %q", ErrInvalidOrder, in.OrderType)
	}
	if strings.TrimSpace(in.PaymentMethod) == "" {
		return nil, fmt.Errorf("%w: payment method required", ErrInvalidOrder)
	}
	if len(in.Items) == 0 && len(in.Combos) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidOrder)
	}

	c := cart.New()
	for _, it := range in.Items {
		if err := c.AddItem(cartItem(it)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
		}
	}
	for _, nc := range in.Combos {
		combo := cart.Combo{
			ID:              nc.ComboID,
			Name:            nc.Name,
			OriginalTotal:   nc.OriginalTotal,
			DiscountedTotal: nc.DiscountedTotal,
		}
		for _, it := range nc.Items {
			combo.Items = append(combo.Items, cartItem(it))
		}
		if _, err := c.AddCombo(combo); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
		}
	}

	totals := c.Totals()
	if totals.ComboDiscount.GreaterThan(totals.Subtotal) {
		return nil, fmt.Errorf("%w: discount exceeds subtotal", ErrInvalidOrder)
	}

	now := s.now().UTC()
	o := &model.Order{
		ID:            uuid.NewString(),
		UserID:        actor.UserID,
		Status:        model.StatusPending,
		OrderType:     in.OrderType,
		Subtotal:      totals.Subtotal.Round(2),
		Discount:      totals.ComboDiscount.Round(2),
		DeliveryFee:   decimal.Zero,
		PaymentMethod: strings.TrimSpace(in.PaymentMethod),
		Neighborhood:  strings.TrimSpace(in.Neighborhood),
		Address:       strings.TrimSpace(in.Address),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.OrderType == model.OrderTypeDelivery {
		q := s.fees.Resolve(in.Neighborhood, s.fallbackFee)
		o.DeliveryFee = q.Fee.Round(2)
		o.ZoneCode = q.ZoneCode
	}
	o.Total = o.Subtotal.Sub(o.Discount).Add(o.DeliveryFee)

	for _, l := range c.Lines() {
		o.Items = append(o.Items, model.OrderItem{
			ProductID:   l.ProductID,
			ProductName: l.Name,
			UnitPrice:   l.UnitPrice,
			Quantity:    l.Quantity,
			ComboID:     l.ComboInstance,
		})
	}
	return o, nil
}

func cartItem(it model.NewOrderItem) cart.Item {
	return cart.Item{ProductID: it.ProductID, Name: it.ProductName, UnitPrice: it.UnitPrice, Quantity: it.Quantity}
}

// Get returns one order with its items. Customers only see their own.
func (s *OrderService) Get(ctx context.Context, actor model.Actor, id string) (*model.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrOrderNotFound
	}

	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if actor.Role == model.RoleCustomer && o.UserID != actor.UserID {
		return nil, ErrOrderNotFound
	}

	orders := []model.Order{o}
	if err := loadItems(ctx, s.db, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// List filters orders newest first. Customers are always restricted to their
// own orders.
func (s *OrderService) List(ctx context.Context, actor model.Actor, f model.OrderFilter) ([]model.Order, error) {
	if actor.Role == model.RoleCustomer {
		f.UserID = actor.UserID
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.IDs) > 0 {
		ids := make([]string, 0, len(f.IDs))
		for _, id := range f.IDs {
			if _, err := uuid.Parse(id); err == nil {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return []model.Order{}, nil
		}
		where = append(where, "id = ANY("+arg(ids)+"::uuid[])")
	}
	if f.UserID != "" {
		if _, err := uuid.Parse(f.UserID); err != nil {
			return []model.Order{}, nil
		}
		where = append(where, "user_id = "+arg(f.UserID))
	}
	if f.MotoboyID != "" {
		if _, err := uuid.Parse(f.MotoboyID); err != nil {
			return []model.Order{}, nil
		}
		where = append(where, "motoboy_id = "+arg(f.MotoboyID))
	}
	if len(f.Statuses) > 0 {
		ss := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			ss[i] = string(st)
		}
		where = append(where, "status = ANY("+arg(ss)+"::text[])")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT " + arg(limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	if err := loadItems(ctx, s.db, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatus moves an order to target and emits exactly one
// order_status_changed once the change is committed. Edges are enforced
// unless an admin forces the move. Every stage of the path up to target gets
// its timestamp if it has none yet, all with the same instant, and that
// instant is never earlier than the order's last update.
func (s *OrderService) UpdateStatus(ctx context.Context, actor model.Actor, id string, target model.Status, force bool) (*model.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrOrderNotFound
	}
	if force && actor.Role != model.RoleAdmin {
		return nil, fmt.Errorf("%w: only admins may force a transition", ErrForbidden)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		current model.Status
		typ     model.OrderType
		owner   string
	)
	err = tx.QueryRowContext(ctx, `SELECT status, order_type, user_id FROM orders WHERE id = $1 FOR UPDATE`, id).
		Scan(&current, &typ, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}

	if actor.Role == model.RoleCustomer {
		if owner != actor.UserID {
			return nil, ErrOrderNotFound
		}
		if target != model.StatusCancelled || current != model.StatusPending {
			return nil, fmt.Errorf("%w: customers may only cancel pending orders", ErrForbidden)
		}
	}

	stamps := model.StampsFor(typ, target)
	if stamps == nil {
		return nil, fmt.Errorf("%w: %s is not a stage of %s orders", ErrInvalidTransition, target, typ)
	}
	if !force && !model.CanTransition(typ, current, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
	}

	set := []string{"status = $1", "updated_at = GREATEST($2, updated_at)"}
	for _, st := range stamps {
		col := stampColumns[st]
		set = append(set, fmt.Sprintf("%s = COALESCE(%s, GREATEST($2, updated_at))", col, col))
	}
	query := `UPDATE orders SET ` + strings.Join(set, ", ") + ` WHERE id = $3 RETURNING ` + orderColumns

	o, err := scanOrder(tx.QueryRowContext(ctx, query, string(target), s.now().UTC(), id))
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	orders := []model.Order{o}
	if err := loadItems(ctx, tx, orders); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.pub.Publish(events.OrderStatusChanged{OrderID: o.ID, Status: o.Status})
	metrics.StatusTransitions.WithLabelValues(string(target)).Inc()
	slog.Info("order status changed", "order", o.ID, "from", current, "to", target, "forced", force, "by", actor.UserID)
	return &orders[0], nil
}

// Assign sets the courier of an open order. Couriers may only assign
// themselves; customers may not assign at all.
func (s *OrderService) Assign(ctx context.Context, actor model.Actor, id, motoboyID string) (*model.Order, error) {
	switch actor.Role {
	case model.RoleCustomer:
		return nil, fmt.Errorf("%w: customers cannot assign couriers", ErrForbidden)
	case model.RoleMotoboy:
		if motoboyID != actor.UserID {
			return nil, fmt.Errorf("%w: couriers may only assign themselves", ErrForbidden)
		}
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrOrderNotFound
	}
	if _, err := uuid.Parse(motoboyID); err != nil {
		return nil, ErrNotMotoboy
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current model.Status
	err = tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	if current.Terminal() {
		return nil, ErrOrderClosed
	}

	var role model.Role
	err = tx.QueryRowContext(ctx, `SELECT role FROM users WHERE id = $1`, motoboyID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && role != model.RoleMotoboy) {
		return nil, ErrNotMotoboy
	}
	if err != nil {
		return nil, fmt.Errorf("get courier: %w", err)
	}

	o, err := scanOrder(tx.QueryRowContext(ctx, `
		UPDATE orders SET motoboy_id = $1, updated_at = GREATEST($2, updated_at)
		WHERE id = $3
		RETURNING `+orderColumns,
		motoboyID, s.now().UTC(), id,
	))
	if err != nil {
		return nil, fmt.Errorf("assign order: %w", err)
	}
	orders := []model.Order{o}
	if err := loadItems(ctx, tx, orders); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.pub.Publish(events.OrderAssigned{OrderID: o.ID, MotoboyID: motoboyID})
	slog.Info("order assigned", "order", o.ID, "motoboy", motoboyID, "by", actor.UserID)
	return &orders[0], nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (model.Order, error) {
	var o model.Order
	err := r.Scan(
		&o.ID, &o.UserID, &o.Status, &o.OrderType, &o.Subtotal, &o.DeliveryFee, &o.Discount, &o.Total,
		&o.PaymentMethod, &o.Neighborhood, &o.ZoneCode, &o.Address, &o.MotoboyID, &o.CreatedAt, &o.UpdatedAt,
		&o.AcceptedAt, &o.PreparingAt, &o.ReadyAt, &o.DispatchedAt, &o.ArrivedAt, &o.DeliveredAt, &o.CancelledAt,
	)
	return o, err
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// loadItems fills Items of every order in place, in their stored order.
func loadItems(ctx context.Context, q querier, orders []model.Order) error {
	if len(orders) == 0 {
		return nil
	}
	idx := make(map[string]int, len(orders))
	ids := make([]string, len(orders))
	for i := range orders {
		idx[orders[i].ID] = i
		ids[i] = orders[i].ID
		orders[i].Items = []model.OrderItem{}
	}

	rows, err := q.QueryContext(ctx, `
		SELECT order_id, id, product_id, product_name, unit_price, quantity, combo_id
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position`, ids)
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			it      model.OrderItem
		)
		if err := rows.Scan(&orderID, &it.ID, &it.ProductID, &it.ProductName, &it.UnitPrice, &it.Quantity, &it.ComboID); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if i, ok := idx[orderID]; ok {
			orders[i].Items = append(orders[i].Items, it)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration failed: %w", err)
	}
	return nil
}
