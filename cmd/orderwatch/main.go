package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"orderdesk/internal/cache"
	"orderdesk/internal/client"
	"orderdesk/internal/config"
	"orderdesk/internal/model"
	"orderdesk/internal/subscriber"
	"orderdesk/internal/view"
	"orderdesk/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("orderwatch failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.NewWatch()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orders, closeCache, err := openCache(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer closeCache()

	api := client.New(cfg.APIAddress, orders)
	session, err := api.Login(ctx, cfg.Login, cfg.Password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if session.Role != cfg.Role && session.Role != model.RoleAdmin {
		slog.Warn("account role differs from view", "account", session.Role, "view", cfg.Role)
	}

	var opts []view.Option
	if cfg.Role == model.RoleKitchen {
		opts = append(opts, view.WithAlert(view.NewAlert(os.Stdout, view.DefaultAlertShots, view.DefaultAlertInterval)))
	}
	v := view.New(api, cfg.Role, session.UserID, os.Stdout, opts...)
	defer v.Close()

	sub := subscriber.New(&subscriber.HTTPDialer{
		URL:    api.EventsURL(),
		Client: api.StreamClient(),
		Token:  api.Token,
	}, api, v.Handlers(ctx))
	defer sub.Close()

	if err := v.Refresh(ctx); err != nil {
		slog.Warn("initial load failed", "error", err)
	}
	sub.Connect()

	slog.Info("watching orders", "role", cfg.Role, "user", session.UserID)
	worker.NewPoller(v, sub, api, api).Start(ctx)
	return nil
}

func openCache(ctx context.Context, addr string) (cache.OrderCache, func(), error) {
	if addr == "" {
		return cache.NewMemoryCache(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return cache.NewRedisCache(rdb, 0), func() { _ = rdb.Close() }, nil
}
