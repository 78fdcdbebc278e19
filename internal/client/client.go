// Package client talks to the order API on behalf of a role view. Reads go
// through the local order cache; every request passes a circuit breaker so
// a failing server degrades to stale data instead of a request storm.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"orderdesk/internal/cache"
	"orderdesk/internal/delivery"
	"orderdesk/internal/model"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("order not found")
	ErrRejected     = errors.New("request rejected")
	ErrServer       = errors.New("server error")
	ErrUnavailable  = errors.New("order api unavailable")
)

type Session struct {
	Token  string
	UserID string
	Role   model.Role
}

type Option func(*API)

// WithHTTPClient replaces the request/response client. Its transport is used
// as is.
func WithHTTPClient(c *http.Client) Option {
	return func(a *API) { a.http = c }
}

func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(a *API) { a.breakerSettings = st }
}

type API struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
	cache   cache.OrderCache

	breakerSettings gobreaker.Settings
	cb              *gobreaker.CircuitBreaker[*http.Response]
	sf              singleflight.Group

	mu      sync.RWMutex
	session Session

	// epoch counts invalidations. A list fetched in an older epoch is
	// returned to its callers but never written back to the cache.
	epoch   atomic.Uint64
	epochMu sync.RWMutex
}

func New(baseURL string, c cache.OrderCache, opts ...Option) *API {
	transport := otelhttp.NewTransport(http.DefaultTransport)
	a := &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second, Transport: transport},
		stream:  &http.Client{Transport: transport},
		cache:   c,
		breakerSettings: gobreaker.Settings{
			Name:        "order-api",
			MaxRequests: 1,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		},
	}
	if a.cache == nil {
		a.cache = cache.NewMemoryCache()
	}
	for _, opt := range opts {
		opt(a)
	}
	a.breakerSettings.OnStateChange = func(name string, from, to gobreaker.State) {
		slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	}
	a.cb = gobreaker.NewCircuitBreaker[*http.Response](a.breakerSettings)
	return a
}

// StreamClient is for the push stream: same transport, no overall timeout.
func (a *API) StreamClient() *http.Client { return a.stream }

func (a *API) EventsURL() string { return a.baseURL + "/api/events" }

func (a *API) Session() Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

func (a *API) Token() string {
	return a.Session().Token
}

// Degraded reports that the breaker is refusing requests.
func (a *API) Degraded() bool {
	return a.cb.State() == gobreaker.StateOpen
}

// Invalidate drops every cached order collection. Reads issued after it
// returns never join a fetch that started before it.
func (a *API) Invalidate(ctx context.Context) error {
	a.epochMu.Lock()
	defer a.epochMu.Unlock()
	a.epoch.Add(1)
	return a.cache.Invalidate(ctx)
}

type credentials struct {
	Login    string     `json:"login"`
	Password string     `json:"password"`
	Role     model.Role `json:"role,omitempty"`
}

func (a *API) Login(ctx context.Context, login, password string) (Session, error) {
	return a.authenticate(ctx, "/api/user/login", credentials{Login: login, Password: password})
}

func (a *API) Register(ctx context.Context, login, password string, role model.Role) (Session, error) {
	return a.authenticate(ctx, "/api/user/register", credentials{Login: login, Password: password, Role: role})
}

func (a *API) authenticate(ctx context.Context, path string, creds credentials) (Session, error) {
	resp, err := a.do(ctx, http.MethodPost, path, creds)
	if err != nil {
		return Session{}, err
	}
	defer resp.Body.Close()

	tok, ok := strings.CutPrefix(resp.Header.Get("Authorization"), "Bearer ")
	if !ok || tok == "" {
		return Session{}, fmt.Errorf("%w: no token in response", ErrUnauthorized)
	}
	sess, err := ParseSession(tok)
	if err != nil {
		return Session{}, err
	}

	a.mu.Lock()
	a.session = sess
	a.mu.Unlock()
	slog.Info("logged in", "user", sess.UserID, "role", sess.Role)
	return sess, nil
}

// ParseSession reads the identity claims of a token without verifying it;
// the server does that on every request.
func ParseSession(token string) (Session, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Session{}, fmt.Errorf("parse token: %w", err)
	}
	userID, _ := claims["user_id"].(string)
	role, _ := claims["role"].(string)
	if userID == "" {
		return Session{}, fmt.Errorf("%w: user_id not found in token", ErrUnauthorized)
	}
	return Session{Token: token, UserID: userID, Role: model.Role(role)}, nil
}

// ListOrders serves from cache when possible. Concurrent misses for the same
// query in the same invalidation epoch share one request.
func (a *API) ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, error) {
	query := FilterQuery(f)
	key := a.cacheKey(query)
	epoch := a.epoch.Load()

	v, err, _ := a.sf.Do(strconv.FormatUint(epoch, 10)+"|"+key, func() (interface{}, error) {
		orders, err := a.cache.Get(ctx, key)
		if err == nil {
			return orders, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			slog.Warn("order cache read failed", "error", err)
		}

		orders, err = a.fetchOrders(ctx, query)
		if err != nil {
			return nil, err
		}
		a.store(ctx, epoch, key, orders)
		return orders, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Order), nil
}

// store caches orders unless an invalidation happened since the fetch began.
func (a *API) store(ctx context.Context, epoch uint64, key string, orders []model.Order) {
	a.epochMu.RLock()
	defer a.epochMu.RUnlock()
	if a.epoch.Load() != epoch {
		slog.Debug("dropping order list fetched before invalidation", "key", key)
		return
	}
	if err := a.cache.Set(ctx, key, orders); err != nil {
		slog.Warn("order cache write failed", "error", err)
	}
}

// cacheKey scopes a list query to the signed-in user, since the server
// filters lists by the caller's role.
func (a *API) cacheKey(query string) string {
	return a.Session().UserID + ":" + query
}

func (a *API) fetchOrders(ctx context.Context, query string) ([]model.Order, error) {
	path := "/api/orders"
	if query != "" {
		path += "?" + query
	}
	resp, err := a.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var orders []model.Order
	if err := json.NewDecoder(resp.Body).Decode(&orders); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return orders, nil
}

func (a *API) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return a.orderCall(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(id), nil)
}

func (a *API) CreateOrder(ctx context.Context, in model.NewOrder) (*model.Order, error) {
	return a.mutate(ctx, "/api/orders", in)
}

type statusRequest struct {
	Status model.Status `json:"status"`
	Force  bool         `json:"force,omitempty"`
}

// UpdateStatus asks the server to move an order. force is honoured for admins
// only.
func (a *API) UpdateStatus(ctx context.Context, id string, status model.Status, force bool) (*model.Order, error) {
	return a.mutate(ctx, "/api/orders/"+url.PathEscape(id)+"/status", statusRequest{Status: status, Force: force})
}

type assignRequest struct {
	MotoboyID string `json:"motoboyId"`
}

func (a *API) Assign(ctx context.Context, id, motoboyID string) (*model.Order, error) {
	return a.mutate(ctx, "/api/orders/"+url.PathEscape(id)+"/assign", assignRequest{MotoboyID: motoboyID})
}

func (a *API) Fee(ctx context.Context, neighborhood string) (delivery.Quote, error) {
	resp, err := a.do(ctx, http.MethodGet, "/api/delivery/fee?neighborhood="+url.QueryEscape(neighborhood), nil)
	if err != nil {
		return delivery.Quote{}, err
	}
	defer resp.Body.Close()

	var q delivery.Quote
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return delivery.Quote{}, fmt.Errorf("decode response: %w", err)
	}
	return q, nil
}

func (a *API) mutate(ctx context.Context, path string, body any) (*model.Order, error) {
	o, err := a.orderCall(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	if err := a.Invalidate(ctx); err != nil {
		slog.Warn("order cache invalidation failed", "error", err)
	}
	return o, nil
}

func (a *API) orderCall(ctx context.Context, method, path string, body any) (*model.Order, error) {
	resp, err := a.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var o model.Order
	if err := json.NewDecoder(resp.Body).Decode(&o); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &o, nil
}

// do sends one request through the breaker and maps non-2xx answers to the
// package errors. Only transport failures and 5xx count against the breaker.
func (a *API) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	resp, err := a.cb.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if tok := a.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}

		resp, err := a.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("do request: %w", err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			msg := readError(resp)
			return nil, fmt.Errorf("%w: %d, body: %s", ErrServer, resp.StatusCode, msg)
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode < 300:
		return resp, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, readError(resp))
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrForbidden, readError(resp))
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, readError(resp))
	default:
		return nil, fmt.Errorf("%w: %d, body: %s", ErrRejected, resp.StatusCode, readError(resp))
	}
}

func readError(resp *http.Response) string {
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return strings.TrimSpace(string(b))
}

// FilterQuery encodes f as the list endpoint's query string. The encoding is
// canonical, so together with the user id it forms the cache key.
func FilterQuery(f model.OrderFilter) string {
	v := url.Values{}
	if len(f.IDs) > 0 {
		v.Set("ids", strings.Join(f.IDs, ","))
	}
	if f.UserID != "" {
		v.Set("user", f.UserID)
	}
	if f.MotoboyID != "" {
		v.Set("motoboy", f.MotoboyID)
	}
	if len(f.Statuses) > 0 {
		ss := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			ss[i] = string(s)
		}
		v.Set("status", strings.Join(ss, ","))
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	return v.Encode()
}
