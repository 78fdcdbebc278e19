package worker

import (
	"context"
	"log/slog"
	"time"
)

const DefaultHeartbeatInterval = 30 * time.Second

// Beater is the broker side of the heartbeat.
type Beater interface {
	Heartbeat()
	Count() int
}

// HeartbeatWorker keeps idle push connections alive and lets clients notice
// dead ones.
type HeartbeatWorker struct {
	broker   Beater
	interval time.Duration
}

func NewHeartbeatWorker(broker Beater, interval time.Duration) *HeartbeatWorker {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &HeartbeatWorker{broker: broker, interval: interval}
}

func (w *HeartbeatWorker) Start(ctx context.Context) {
	slog.Info("starting heartbeat worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("heartbeat worker stopped")
			return
		case <-ticker.C:
			w.broker.Heartbeat()
			slog.Debug("heartbeat sent", "subscribers", w.broker.Count())
		}
	}
}
