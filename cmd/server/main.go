package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/trademaster/signal-engine/internal/engine"
	"github.com/trademaster/signal-engine/internal/metrics"
	"github.com/trademaster/signal-engine/internal/risk"
	"github.com/trademaster/signal-engine/internal/store"
	"github.com/trademaster/signal-engine/internal/trading"
)

func main() {
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
		slog.Warn("DATABASE_URL not set, using in-memory store (state will not survive restarts)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Random source ---
	// RAND_SEED pins the evaluator draws for reproducible demo runs.
	var rng *rand.Rand
	if seedStr := os.Getenv("RAND_SEED"); seedStr != "" {
		seed, err := strconv.ParseUint(seedStr, 10, 64)
		if err != nil {
			slog.Error("invalid RAND_SEED", "err", err)
			os.Exit(1)
		}
		rng = rand.New(rand.NewPCG(seed, seed))
		slog.Info("random source seeded", "seed", seed)
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	// --- WebSocket hub ---
	wsHub := trading.NewWSHub()
	go wsHub.Run()

	// --- Engine and HTTP service ---
	eng := engine.New(st, rng)

	// Optional notional exposure caps on manual execution. Unset means
	// unrestricted, matching the default demo behavior.
	if perSymbol, total := os.Getenv("MAX_SYMBOL_EXPOSURE"), os.Getenv("MAX_TOTAL_EXPOSURE"); perSymbol != "" || total != "" {
		eng.SetExposureLimiter(risk.NewExposureLimiter(parseExposure(perSymbol), parseExposure(total)))
		slog.Info("exposure limits enabled", "per_symbol", perSymbol, "total", total)
	}

	svc := trading.NewService(eng, st, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for dashboard cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"signal-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time signal events.
		r.Get("/ws", wsHub.HandleWS)

		// Signal generation and manual execution.
		r.Get("/signals", svc.GetSignals)
		r.Post("/signals", svc.ExecuteSignal)
		r.Put("/signals", svc.UpdateSignal)

		// Strategy management.
		r.Get("/strategies", svc.ListStrategies)
		r.Post("/strategies", svc.CreateStrategy)
		r.Put("/strategies", svc.UpdateStrategy)
		r.Delete("/strategies", svc.DeleteStrategy)

		// Position queries.
		r.Get("/positions", svc.GetPositions)
		r.Post("/positions/refresh", svc.RefreshPositions)
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
		slog.Info("signal-engine listening", "port", port)
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

	slog.Info("shutting down signal-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("signal-engine stopped")
}

// parseExposure reads a decimal limit from an env value. Empty or malformed
// values yield zero, which disables that check.
func parseExposure(v string) decimal.Decimal {
	if v == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		slog.Warn("ignoring malformed exposure limit", "value", v, "err", err)
		return decimal.Zero
	}
	return d
}
