package worker

import (
	"context"
	"log/slog"
	"time"
)

const (
	DisconnectedPollInterval = 5 * time.Second
	ConnectedPollInterval    = 30 * time.Second
)

// Refresher reloads a view's order list.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Link reports whether the push stream is currently up.
type Link interface {
	Live() bool
}

// Invalidator drops cached order lists before a poll.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Gate reports whether the backend is being short-circuited.
type Gate interface {
	Degraded() bool
}

// Poller is the fallback for missed pushes: it refreshes the view every
// DisconnectedPollInterval while the push link is down and every
// ConnectedPollInterval while it is up.
type Poller struct {
	view  Refresher
	link  Link
	inval Invalidator
	gate  Gate

	Disconnected time.Duration
	Connected    time.Duration
}

func NewPoller(view Refresher, link Link, inval Invalidator, gate Gate) *Poller {
	return &Poller{
		view:         view,
		link:         link,
		inval:        inval,
		gate:         gate,
		Disconnected: DisconnectedPollInterval,
		Connected:    ConnectedPollInterval,
	}
}

func (p *Poller) interval() time.Duration {
	if p.link.Live() {
		return p.Connected
	}
	return p.Disconnected
}

func (p *Poller) Start(ctx context.Context) {
	slog.Info("starting poller")
	timer := time.NewTimer(p.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("poller stopped")
			return
		case <-timer.C:
			p.poll(ctx)
			timer.Reset(p.interval())
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	if p.gate != nil && p.gate.Degraded() {
		slog.Debug("backend degraded, keeping last data")
		return
	}
	if err := p.inval.Invalidate(ctx); err != nil {
		slog.Warn("cache invalidation failed", "error", err)
	}
	if err := p.view.Refresh(ctx); err != nil {
		slog.Warn("poll refresh failed", "error", err)
	}
}
