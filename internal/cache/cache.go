// Package cache keeps fetched order collections on the client side, keyed by
// the query that produced them. Any order event invalidates all of them.
package cache

import (
	"context"
	"errors"

	"orderdesk/internal/model"
)

// OrderCache stores order lists under a query key.
type OrderCache interface {
	Get(ctx context.Context, query string) ([]model.Order, error)
	Set(ctx context.Context, query string, orders []model.Order) error
	// Invalidate drops every cached order collection.
	Invalidate(ctx context.Context) error
}

var ErrCacheMiss = errors.New("cache miss")
