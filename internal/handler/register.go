package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"orderdesk/internal/model"
	"orderdesk/internal/service"
)

type registerRequest struct {
	Login     string     `json:"login"`
	Password  string     `json:"password"`
	Role      model.Role `json:"role"`
	StaffCode string     `json:"staffCode"`
}

// RegisterHandler opens customer and motoboy sign-up to anyone. Kitchen and
// admin accounts need staffCode; an empty staffCode closes them entirely.
func RegisterHandler(authSvc Accounts, secret, staffCode string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		if req.Login == "" || req.Password == "" {
			http.Error(w, "login and password required", http.StatusBadRequest)
			return
		}

		if privileged(req.Role) && !validStaffCode(staffCode, req.StaffCode) {
			http.Error(w, "staff code required for this role", http.StatusForbidden)
			return
		}

		user, err := authSvc.Register(r.Context(), req.Login, req.Password, req.Role)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrLoginTaken):
				http.Error(w, "login already exists", http.StatusConflict)
			case errors.Is(err, service.ErrInvalidRole):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				slog.Error("register failed", "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		writeToken(w, user, secret)
	}
}

func privileged(role model.Role) bool {
	return role == model.RoleKitchen || role == model.RoleAdmin
}

func validStaffCode(want, got string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
