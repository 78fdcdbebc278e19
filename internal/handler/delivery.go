package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"orderdesk/internal/delivery"
)

func FeeHandler(resolver *delivery.Resolver, fallback decimal.Decimal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, resolver.Resolve(r.URL.Query().Get("neighborhood"), fallback))
	}
}

func ZonesHandler(resolver *delivery.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, resolver.Zones())
	}
}
