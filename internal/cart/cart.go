// Package cart holds the storefront cart: freestanding product lines plus
// combos that expand into tagged lines sold at a bundled price.
package cart

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidItem  = errors.New("invalid cart item")
	ErrInvalidCombo = errors.New("invalid combo")
	ErrItemNotFound = errors.New("item not in cart")
)

type Item struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Combo is a catalog bundle. OriginalTotal is what its lines cost separately.
type Combo struct {
	ID              string
	Name            string
	OriginalTotal   decimal.Decimal
	DiscountedTotal decimal.Decimal
	Items           []Item
}

// Line is one cart row. ComboInstance is empty for freestanding lines.
type Line struct {
	ID            string
	ProductID     string
	Name          string
	UnitPrice     decimal.Decimal
	Quantity      int
	ComboInstance string
}

func (l Line) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Totals struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	ComboDiscount decimal.Decimal `json:"comboDiscount"`
	Total         decimal.Decimal `json:"total"`
}

type appliedCombo struct {
	instance string
	combo    Combo
}

// Cart is safe for concurrent use. Listeners are called after every change,
// outside the lock, in subscription order.
type Cart struct {
	mu        sync.Mutex
	lines     []Line
	combos    []appliedCombo
	listeners []listener
	nextID    int
}

type listener struct {
	id int
	fn func(Totals)
}

func New() *Cart {
	return &Cart{}
}

// AddItem adds a freestanding line, merging with an existing freestanding
// line of the same product. Combo lines are never merged into.
func (c *Cart) AddItem(it Item) error {
	if err := validItem(it); err != nil {
		return err
	}

	c.mu.Lock()
	merged := false
	for i := range c.lines {
		l := &c.lines[i]
		if l.ComboInstance == "" && l.ProductID == it.ProductID {
			l.Quantity += it.Quantity
			merged = true
			break
		}
	}
	if !merged {
		c.lines = append(c.lines, Line{
			ID:        uuid.NewString(),
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		})
	}
	c.mu.Unlock()

	c.notify()
	return nil
}

// SetQuantity changes a freestanding line; zero removes it.
func (c *Cart) SetQuantity(productID string, qty int) error {
	if qty < 0 {
		return fmt.Errorf("%w: negative quantity", ErrInvalidItem)
	}

	c.mu.Lock()
	idx := -1
	for i, l := range c.lines {
		if l.ComboInstance == "" && l.ProductID == productID {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrItemNotFound, productID)
	}
	if qty == 0 {
		c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
	} else {
		c.lines[idx].Quantity = qty
	}
	c.mu.Unlock()

	c.notify()
	return nil
}

// AddCombo expands combo into lines tagged with a fresh instance id, which
// is returned for RemoveCombo.
func (c *Cart) AddCombo(combo Combo) (string, error) {
	if len(combo.Items) == 0 {
		return "", fmt.Errorf("%w: %q has no items", ErrInvalidCombo, combo.Name)
	}
	if combo.OriginalTotal.IsNegative() || combo.DiscountedTotal.IsNegative() {
		return "", fmt.Errorf("%w: %q has a negative price", ErrInvalidCombo, combo.Name)
	}
	if combo.DiscountedTotal.GreaterThan(combo.OriginalTotal) {
		return "", fmt.Errorf("%w: %q costs more than its parts", ErrInvalidCombo, combo.Name)
	}
	parts := decimal.Zero
	for _, it := range combo.Items {
		if err := validItem(it); err != nil {
			return "", fmt.Errorf("%w: %q: %w", ErrInvalidCombo, combo.Name, err)
		}
		parts = parts.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if !parts.Equal(combo.OriginalTotal) {
		return "", fmt.Errorf("%w: %q lists %s but its lines add up to %s",
			ErrInvalidCombo, combo.Name, combo.OriginalTotal, parts)
	}

	instance := uuid.NewString()
	c.mu.Lock()
	for _, it := range combo.Items {
		c.lines = append(c.lines, Line{
			ID:            uuid.NewString(),
			ProductID:     it.ProductID,
			Name:          it.Name,
			UnitPrice:     it.UnitPrice,
			Quantity:      it.Quantity,
			ComboInstance: instance,
		})
	}
	c.combos = append(c.combos, appliedCombo{instance: instance, combo: combo})
	c.mu.Unlock()

	c.notify()
	return instance, nil
}

// RemoveCombo drops exactly the lines tagged with instance. It reports
// whether the combo was in the cart.
func (c *Cart) RemoveCombo(instance string) bool {
	c.mu.Lock()
	found := false
	for i, ac := range c.combos {
		if ac.instance == instance {
			c.combos = append(c.combos[:i], c.combos[i+1:]...)
			found = true
			break
		}
	}
	if found {
		kept := c.lines[:0]
		for _, l := range c.lines {
			if l.ComboInstance != instance {
				kept = append(kept, l)
			}
		}
		c.lines = kept
	}
	c.mu.Unlock()

	if found {
		c.notify()
	}
	return found
}

func (c *Cart) Clear() {
	c.mu.Lock()
	c.lines = nil
	c.combos = nil
	c.mu.Unlock()
	c.notify()
}

func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Line(nil), c.lines...)
}

// Combos returns the applied combos keyed by instance id.
func (c *Cart) Combos() map[string]Combo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Combo, len(c.combos))
	for _, ac := range c.combos {
		out[ac.instance] = ac.combo
	}
	return out
}

func (c *Cart) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines) == 0
}

func (c *Cart) Totals() Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalsLocked()
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (c *Cart) Subscribe(fn func(Totals)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

func (c *Cart) totalsLocked() Totals {
	subtotal := decimal.Zero
	for _, l := range c.lines {
		subtotal = subtotal.Add(l.Amount())
	}
	discount := decimal.Zero
	for _, ac := range c.combos {
		discount = discount.Add(ac.combo.OriginalTotal.Sub(ac.combo.DiscountedTotal))
	}
	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return Totals{Subtotal: subtotal, ComboDiscount: discount, Total: total}
}

func (c *Cart) notify() {
	c.mu.Lock()
	t := c.totalsLocked()
	fns := make([]func(Totals), len(c.listeners))
	for i, l := range c.listeners {
		fns[i] = l.fn
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
}

func validItem(it Item) error {
	switch {
	case it.ProductID == "" && it.Name == "":
		return fmt.Errorf("%w: missing product", ErrInvalidItem)
	case it.Quantity <= 0:
		return fmt.Errorf("%w: quantity %d", ErrInvalidItem, it.Quantity)
	case it.UnitPrice.IsNegative():
		return fmt.Errorf("%w: negative price", ErrInvalidItem)
	}
	return nil
}
