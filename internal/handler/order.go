package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"orderdesk/internal/model"
	"orderdesk/internal/mw"
	"orderdesk/internal/service"
)

const maxBody = 64 << 10

// OrderStore is the order service as seen by the handlers.
type OrderStore interface {
	Create(ctx context.Context, actor model.Actor, in model.NewOrder) (*model.Order, error)
	Get(ctx context.Context, actor model.Actor, id string) (*model.Order, error)
	List(ctx context.Context, actor model.Actor, f model.OrderFilter) ([]model.Order, error)
	UpdateStatus(ctx context.Context, actor model.Actor, id string, target model.Status, force bool) (*model.Order, error)
	Assign(ctx context.Context, actor model.Actor, id, motoboyID string) (*model.Order, error)
}

func CreateOrderHandler(store OrderStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.ActorFrom(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req model.NewOrder
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		order, err := store.Create(r.Context(), actor, req)
		if err != nil {
			writeStoreError(w, "order create failed", err)
			return
		}

		writeJSON(w, http.StatusCreated, order)
	}
}

func ListOrdersHandler(store OrderStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.ActorFrom(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		f, err := parseFilter(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		orders, err := store.List(r.Context(), actor, f)
		if err != nil {
			writeStoreError(w, "order list failed", err)
			return
		}

		writeJSON(w, http.StatusOK, orders)
	}
}

func GetOrderHandler(store OrderStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.ActorFrom(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		order, err := store.Get(r.Context(), actor, chi.URLParam(r, "id"))
		if err != nil {
			writeStoreError(w, "order get failed", err)
			return
		}

		writeJSON(w, http.StatusOK, order)
	}
}

type statusRequest struct {
	Status string `json:"status"`
	Force  bool   `json:"force"`
}

func UpdateStatusHandler(store OrderStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.ActorFrom(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req statusRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		target, ok := model.ParseStatus(req.Status)
		if !ok {
			http.Error(w, "unknown status", http.StatusBadRequest)
			return
		}

		order, err := store.UpdateStatus(r.Context(), actor, chi.URLParam(r, "id"), target, req.Force)
		if err != nil {
			writeStoreError(w, "status update failed", err)
			return
		}

		writeJSON(w, http.StatusOK, order)
	}
}

type assignRequest struct {
	MotoboyID string `json:"motoboyId"`
}

func AssignHandler(store OrderStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.ActorFrom(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req assignRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.MotoboyID == "" {
			req.MotoboyID = actor.UserID
		}

		order, err := store.Assign(r.Context(), actor, chi.URLParam(r, "id"), req.MotoboyID)
		if err != nil {
			writeStoreError(w, "assign failed", err)
			return
		}

		writeJSON(w, http.StatusOK, order)
	}
}

func parseFilter(r *http.Request) (model.OrderFilter, error) {
	q := r.URL.Query()
	f := model.OrderFilter{
		IDs:       splitList(q.Get("ids")),
		UserID:    q.Get("user"),
		MotoboyID: q.Get("motoboy"),
	}
	for _, s := range splitList(q.Get("status")) {
		st, ok := model.ParseStatus(s)
		if !ok {
			return f, errors.New("unknown status " + strconv.Quote(s))
		}
		f.Statuses = append(f.Statuses, st)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("invalid limit")
		}
		f.Limit = n
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeStoreError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		http.Error(w, "order not found", http.StatusNotFound)
	case errors.Is(err, service.ErrInvalidOrder), errors.Is(err, service.ErrNotMotoboy):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrOrderClosed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		slog.Error(msg, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
