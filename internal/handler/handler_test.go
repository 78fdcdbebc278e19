package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderdesk/internal/delivery"
	"orderdesk/internal/events"
	"orderdesk/internal/model"
	"orderdesk/internal/mw"
	"orderdesk/internal/service"
	"orderdesk/internal/subscriber"
)

const secret = "handler-secret"

type fakeAccounts struct {
	users map[string]*model.User
}

func (f *fakeAccounts) Register(_ context.Context, login, _ string, role model.Role) (*model.User, error) {
	if _, ok := f.users[login]; ok {
		return nil, service.ErrLoginTaken
	}
	if role == "" {
		role = model.RoleCustomer
	}
	if !role.Valid() {
		return nil, service.ErrInvalidRole
	}
	u := &model.User{ID: "u-" + login, Login: login, Role: role}
	f.users[login] = u
	return u, nil
}

func (f *fakeAccounts) Authenticate(_ context.Context, login, password string) (*model.User, error) {
	u, ok := f.users[login]
	if !ok || password != "pw" {
		return nil, service.ErrInvalidCredentials
	}
	return u, nil
}

type fakeStore struct {
	mu       sync.Mutex
	err      error
	actor    model.Actor
	filter   model.OrderFilter
	target   model.Status
	force    bool
	assignee string
}

func (f *fakeStore) record(a model.Actor) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actor = a
	if f.err != nil {
		return nil, f.err
	}
	return &model.Order{ID: "o-1", UserID: a.UserID, Status: model.StatusPending}, nil
}

func (f *fakeStore) Create(_ context.Context, a model.Actor, _ model.NewOrder) (*model.Order, error) {
	return f.record(a)
}

func (f *fakeStore) Get(_ context.Context, a model.Actor, id string) (*model.Order, error) {
	if id != "o-1" {
		return nil, service.ErrOrderNotFound
	}
	return f.record(a)
}

func (f *fakeStore) List(_ context.Context, a model.Actor, flt model.OrderFilter) ([]model.Order, error) {
	f.filter = flt
	o, err := f.record(a)
	if err != nil {
		return nil, err
	}
	return []model.Order{*o}, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, a model.Actor, _ string, target model.Status, force bool) (*model.Order, error) {
	f.target, f.force = target, force
	return f.record(a)
}

func (f *fakeStore) Assign(_ context.Context, a model.Actor, _ string, motoboyID string) (*model.Order, error) {
	f.assignee = motoboyID
	return f.record(a)
}

func bearer(t *testing.T, userID string, role model.Role) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    string(role),
		"exp":     jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + s
}

func router(store OrderStore) http.Handler {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(mw.AuthMiddleware(secret))
		r.Post("/api/orders", CreateOrderHandler(store))
		r.Get("/api/orders", ListOrdersHandler(store))
		r.Get("/api/orders/{id}", GetOrderHandler(store))
		r.Post("/api/orders/{id}/status", UpdateStatusHandler(store))
		r.Post("/api/orders/{id}/assign", AssignHandler(store))
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, auth, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRegisterAndLogin(t *testing.T) {
	accts := &fakeAccounts{users: map[string]*model.User{}}
	register := RegisterHandler(accts, secret, "back-of-house")
	login := LoginHandler(accts, secret)

	rec := do(t, register, http.MethodPost, "/", "", `{"login":"ana","password":"pw","role":"kitchen","staffCode":"back-of-house"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Authorization"), "Bearer "))

	tok := strings.TrimPrefix(rec.Header().Get("Authorization"), "Bearer ")
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) { return []byte(secret), nil })
	require.NoError(t, err)
	assert.Equal(t, "u-ana", claims["user_id"])
	assert.Equal(t, "kitchen", claims["role"])

	assert.Equal(t, http.StatusConflict, do(t, register, http.MethodPost, "/", "", `{"login":"ana","password":"pw"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, register, http.MethodPost, "/", "", `{"login":"bo","password":"pw","role":"chef"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, register, http.MethodPost, "/", "", `{"login":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, register, http.MethodPost, "/", "", `{`).Code)

	assert.Equal(t, http.StatusOK, do(t, login, http.MethodPost, "/", "", `{"login":"ana","password":"pw"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, login, http.MethodPost, "/", "", `{"login":"ana","password":"nope"}`).Code)
}

func TestRegister_StaffRolesNeedCode(t *testing.T) {
	accts := &fakeAccounts{users: map[string]*model.User{}}
	register := RegisterHandler(accts, secret, "back-of-house")

	assert.Equal(t, http.StatusForbidden, do(t, register, http.MethodPost, "/", "", `{"login":"eve","password":"pw","role":"admin"}`).Code)
	assert.Equal(t, http.StatusForbidden, do(t, register, http.MethodPost, "/", "", `{"login":"eve","password":"pw","role":"kitchen","staffCode":"guess"}`).Code)
	assert.NotContains(t, accts.users, "eve")

	assert.Equal(t, http.StatusOK, do(t, register, http.MethodPost, "/", "", `{"login":"cli","password":"pw","role":"customer"}`).Code)
	assert.Equal(t, http.StatusOK, do(t, register, http.MethodPost, "/", "", `{"login":"rider","password":"pw","role":"motoboy"}`).Code)
	assert.Equal(t, http.StatusOK, do(t, register, http.MethodPost, "/", "", `{"login":"boss","password":"pw","role":"admin","staffCode":"back-of-house"}`).Code)

	closed := RegisterHandler(accts, secret, "")
	assert.Equal(t, http.StatusForbidden, do(t, closed, http.MethodPost, "/", "", `{"login":"eve","password":"pw","role":"admin","staffCode":""}`).Code)
}

func TestOrderHandlers_PassActorAndArguments(t *testing.T) {
	store := &fakeStore{}
	h := router(store)
	auth := bearer(t, "k-1", model.RoleKitchen)

	rec := do(t, h, http.MethodPost, "/api/orders", auth, `{"orderType":"counter","paymentMethod":"pix","items":[]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, model.Actor{UserID: "k-1", Role: model.RoleKitchen}, store.actor)

	rec = do(t, h, http.MethodGet, "/api/orders?status=pending,ready&motoboy=m-1&limit=5&ids=a,,b", auth, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.OrderFilter{
		IDs:       []string{"a", "b"},
		MotoboyID: "m-1",
		Statuses:  []model.Status{model.StatusPending, model.StatusReady},
		Limit:     5,
	}, store.filter)
	var list []model.Order
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list, 1)

	rec = do(t, h, http.MethodPost, "/api/orders/o-1/status", auth, `{"status":"accepted","force":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusAccepted, store.target)
	assert.True(t, store.force)

	motoboy := bearer(t, "m-9", model.RoleMotoboy)
	rec = do(t, h, http.MethodPost, "/api/orders/o-1/assign", motoboy, `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "m-9", store.assignee, "empty motoboyId assigns the caller")

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/orders/o-1", auth, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/orders/missing", auth, "").Code)
}

func TestOrderHandlers_BadRequests(t *testing.T) {
	h := router(&fakeStore{})
	auth := bearer(t, "k-1", model.RoleKitchen)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/orders", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/orders?status=lost", auth, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/orders?limit=-1", auth, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/orders", auth, "not json").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/orders/o-1/status", auth, `{"status":"teleported"}`).Code)
}

func TestOrderHandlers_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrOrderNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: no items", service.ErrInvalidOrder), http.StatusUnprocessableEntity},
		{service.ErrNotMotoboy, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: pending -> delivered", service.ErrInvalidTransition), http.StatusConflict},
		{service.ErrOrderClosed, http.StatusConflict},
		{service.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("query: connection reset"), http.StatusInternalServerError},
	}

	auth := bearer(t, "c-1", model.RoleCustomer)
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := router(&fakeStore{err: tt.err})
			rec := do(t, h, http.MethodPost, "/api/orders/o-1/status", auth, `{"status":"cancelled"}`)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestFeeHandler(t *testing.T) {
	h := FeeHandler(delivery.Default(), decimal.NewFromInt(20))

	tests := []struct {
		query    string
		fee      string
		zone     *string
		unlisted bool
	}{
		{"neighborhood=Vila+da+Saude", "4", strPtr("S"), false},
		{"neighborhood=VILA+DA+SAUDE", "4", strPtr("S"), false},
		{"neighborhood=Nonexistent+Place", "20", nil, true},
		{"", "20", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/api/delivery/fee?"+tt.query, "", "")
			require.Equal(t, http.StatusOK, rec.Code)

			var q delivery.Quote
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&q))
			assert.True(t, q.Fee.Equal(decimal.RequireFromString(tt.fee)), q.Fee.String())
			assert.Equal(t, tt.zone, q.ZoneCode)
			assert.Equal(t, tt.unlisted, q.IsUnlisted)
		})
	}
}

func TestZonesHandler(t *testing.T) {
	rec := do(t, ZonesHandler(delivery.Default()), http.MethodGet, "/api/delivery/zones", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var zones []delivery.Listing
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&zones))
	assert.NotEmpty(t, zones)
}

func strPtr(s string) *string { return &s }

// eventRecorder collects subscriber callbacks.
type eventRecorder struct {
	mu  sync.Mutex
	got []string
}

func (r *eventRecorder) add(s string) {
	r.mu.Lock()
	r.got = append(r.got, s)
	r.mu.Unlock()
}

func (r *eventRecorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func (r *eventRecorder) Invalidate(context.Context) error {
	r.add("invalidate")
	return nil
}

func TestEventsHandler_EndToEnd(t *testing.T) {
	broker := events.NewBroker()
	defer broker.Close()

	r := chi.NewRouter()
	r.With(mw.AuthMiddleware(secret)).Get("/api/events", EventsHandler(broker))
	r.Get("/health", HealthHandler(broker))
	srv := httptest.NewServer(r)
	defer srv.Close()

	tok := strings.TrimPrefix(bearer(t, "m-1", model.RoleMotoboy), "Bearer ")
	rec := &eventRecorder{}
	sub := subscriber.New(&subscriber.HTTPDialer{
		URL:         srv.URL + "/api/events",
		Client:      srv.Client(),
		Token:       func() string { return tok },
		IdleTimeout: 5 * time.Second,
	}, rec, subscriber.Handlers{
		OnConnected: func() { rec.add("connected") },
		OnStatusChanged: func(ev events.OrderStatusChanged) {
			rec.add("status:" + ev.OrderID + ":" + string(ev.Status))
		},
		OnAssigned: func(ev events.OrderAssigned) { rec.add("assigned:" + ev.MotoboyID) },
	})
	defer sub.Close()

	sub.Connect()
	require.Eventually(t, func() bool { return broker.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	broker.Heartbeat()
	broker.Publish(events.OrderStatusChanged{OrderID: "o-7", Status: model.StatusReady})
	broker.Publish(events.OrderAssigned{OrderID: "o-7", MotoboyID: "m-1"})

	require.Eventually(t, func() bool { return len(rec.entries()) == 5 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{
		"connected",
		"invalidate", "status:o-7:ready",
		"invalidate", "assigned:m-1",
	}, rec.entries())

	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 1, health["subscribers"])

	sub.Close()
	require.Eventually(t, func() bool { return broker.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventsHandler_RequiresToken(t *testing.T) {
	broker := events.NewBroker()
	r := chi.NewRouter()
	r.With(mw.AuthMiddleware(secret)).Get("/api/events", EventsHandler(broker))

	rec := do(t, r, http.MethodGet, "/api/events", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, broker.Count())
}
