package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/sharebook/exchange-engine/internal/api"
	"github.com/sharebook/exchange-engine/internal/exchange"
	"github.com/sharebook/exchange-engine/internal/metrics"
	"github.com/sharebook/exchange-engine/internal/payment"
	"github.com/sharebook/exchange-engine/internal/registry"
	"github.com/sharebook/exchange-engine/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Settlement collaborators ---
	// In-process ledgers stand in for the external payment asset and
	// royalty side channel; production deployments substitute adapters.
	asset := payment.NewMemoryAsset()
	side := payment.NewMemorySideChannel()

	root := os.Getenv("REGISTRY_ROOT")
	if root == "" {
		root = "registry-root"
	}
	reg := registry.New(root, side)

	royalty := envDecimal("ROYALTY_FEE", "10000000")
	issueFee := envDecimal("ISSUE_FEE", "100000000")
	if err := reg.SetFee(root, royalty, issueFee); err != nil {
		slog.Error("fee configuration failed", "err", err)
		os.Exit(1)
	}

	// --- Restore persisted instances ---
	snaps, err := st.ListExchanges(context.Background())
	if err != nil {
		slog.Error("failed to list persisted exchanges", "err", err)
		os.Exit(1)
	}
	for i := range snaps {
		x, err := exchange.FromSnapshot(snaps[i], asset, side, reg)
		if err != nil {
			slog.Error("failed to restore exchange", "symbol", snaps[i].Symbol, "err", err)
			continue
		}
		if err := reg.Adopt(x); err != nil {
			slog.Error("failed to register restored exchange", "symbol", x.Symbol(), "err", err)
			continue
		}
		metrics.ActiveExchanges.Inc()
	}
	slog.Info("exchanges restored", "count", len(reg.List()))

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- API service ---
	svc := api.NewService(reg, asset, st, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"exchange-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time trade/order events.
		r.Get("/ws", wsHub.HandleWS)
		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("exchange-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down exchange-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("exchange-engine stopped")
}

// envDecimal reads a decimal environment variable with a fallback.
func envDecimal(key, fallback string) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		slog.Error("invalid decimal env value", "key", key, "value", v)
		os.Exit(1)
	}
	return d
}
