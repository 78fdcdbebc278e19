package handler

import (
	"log/slog"
	"net/http"
	"time"

	"orderdesk/internal/events"
)

// streamBuffer bounds how far a push connection may lag before the broker
// drops it.
const streamBuffer = 64

// EventsHandler holds the request open as a server-sent-events stream and
// forwards every event the broker publishes until the client goes away.
func EventsHandler(broker *events.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := http.NewResponseController(w)
		// streams outlive any server write timeout
		if err := rc.SetWriteDeadline(time.Time{}); err != nil {
			slog.Debug("clear write deadline", "error", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		stream := events.NewStream(streamBuffer)
		id, err := broker.Subscribe(stream)
		if err != nil {
			slog.Error("subscribe failed", "error", err)
			return
		}
		defer broker.Unsubscribe(id)

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-stream.Events():
				if !ok {
					return
				}
				if err := events.WriteSSE(w, ev); err != nil {
					slog.Debug("push write failed", "subscription", id, "error", err)
					return
				}
				if err := rc.Flush(); err != nil {
					slog.Debug("push flush failed", "subscription", id, "error", err)
					return
				}
			}
		}
	}
}

func HealthHandler(broker *events.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"subscribers": broker.Count(),
		})
	}
}
