package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"orderdesk/internal/config"
	"orderdesk/internal/database"
	"orderdesk/internal/delivery"
	"orderdesk/internal/events"
	"orderdesk/internal/handler"
	"orderdesk/internal/metrics"
	"orderdesk/internal/model"
	"orderdesk/internal/mw"
	"orderdesk/internal/relay"
	"orderdesk/internal/service"
	"orderdesk/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("orderdesk failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(ctx, cfg.DatabaseURI)
	if err != nil {
		return err
	}
	defer database.CloseDB(db)

	if err := database.InitSchema(ctx, db); err != nil {
		return err
	}

	zones, err := loadZones(cfg.ZonesFile)
	if err != nil {
		return err
	}

	metrics.Register()
	broker := events.NewBroker()
	defer broker.Close()

	var (
		publisher events.Publisher = broker
		rel       *relay.Relay
	)
	if cfg.AMQPURL != "" {
		t, err := relay.Dial(cfg.AMQPURL)
		if err != nil {
			return err
		}
		rel = relay.New(broker, t, cfg.InstanceID)
		defer rel.Close()
		publisher = rel
	}

	// Services
	authSvc := service.NewAuthService(db)
	orderSvc := service.NewOrderService(db, publisher, zones, cfg.FallbackDeliveryFee)

	// Router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Cache-Control"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes
	r.Get("/health", handler.HealthHandler(broker))
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/user/register", handler.RegisterHandler(authSvc, cfg.JWTSecret, cfg.StaffCode))
	r.Post("/api/user/login", handler.LoginHandler(authSvc, cfg.JWTSecret))
	r.Get("/api/delivery/fee", handler.FeeHandler(zones, cfg.FallbackDeliveryFee))
	r.Get("/api/delivery/zones", handler.ZonesHandler(zones))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(mw.AuthMiddleware(cfg.JWTSecret))

		r.Get("/api/events", handler.EventsHandler(broker))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(10 * time.Second))

			r.Post("/api/orders", handler.CreateOrderHandler(orderSvc))
			r.Get("/api/orders", handler.ListOrdersHandler(orderSvc))
			r.Get("/api/orders/{id}", handler.GetOrderHandler(orderSvc))
			r.Post("/api/orders/{id}/status", handler.UpdateStatusHandler(orderSvc))
			r.With(mw.RequireRole(model.RoleKitchen, model.RoleAdmin, model.RoleMotoboy)).
				Post("/api/orders/{id}/assign", handler.AssignHandler(orderSvc))
		})
	})

	srv := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// no WriteTimeout: /api/events responses stay open
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		worker.NewHeartbeatWorker(broker, cfg.HeartbeatInterval).Start(gctx)
		return nil
	})
	if rel != nil {
		g.Go(func() error { return rel.Run(gctx) })
	}
	g.Go(func() error {
		slog.Info("starting server", "addr", cfg.RunAddress, "instance", cfg.InstanceID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		// open push streams would hold Shutdown until its deadline
		broker.Close()
		ctxShut, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShut()
		if err := srv.Shutdown(ctxShut); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("server stopped")
	return err
}

func loadZones(path string) (*delivery.Resolver, error) {
	if path == "" {
		return delivery.Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	table, err := delivery.LoadTable(f)
	if err != nil {
		return nil, err
	}
	return delivery.NewResolver(table)
}
