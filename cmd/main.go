package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kkkkikiki/couponguard/internal/api"
	"github.com/kkkkikiki/couponguard/internal/config"
	"github.com/kkkkikiki/couponguard/internal/database"
	"github.com/kkkkikiki/couponguard/internal/lock"
	"github.com/kkkkikiki/couponguard/internal/logger"
	"github.com/kkkkikiki/couponguard/internal/repository"
	"github.com/kkkkikiki/couponguard/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "coupon service: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration from environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.App)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting coupon service",
		zap.String("db_backend", cfg.Database.Backend),
		zap.String("lock_backend", cfg.Lock.Backend), zap.Duration("lock_ttl", cfg.Lock.TTL))

	// Initialize database connections
	db, err := database.NewDB(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("error closing database connections", zap.Error(err))
		}
	}()

	executor := lock.NewExecutor(newLockProvider(cfg, db, log), log, cfg.Lock.ReleaseTimeout)
	store := newStore(cfg, db, log)
	couponServer := service.NewCouponServer(store, executor, service.WithLogger(log))

	// Create HTTP mux
	mux := http.NewServeMux()

	// Register coupon service handler
	path, handler := api.NewCouponServiceHandler(couponServer)
	mux.Handle(path, handler)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		hostname, _ := os.Hostname()
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"service":  "coupon-system",
			"hostname": hostname,
		})
	})

	mux.HandleFunc("/health/db", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			log.Warn("store health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "message": "store unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": cfg.Database.Backend})
	})

	mux.HandleFunc("/health/redis", func(w http.ResponseWriter, r *http.Request) {
		if db.Redis == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "redis": "not configured"})
			return
		}
		if err := db.Redis.Ping(r.Context()).Err(); err != nil {
			log.Warn("redis health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "message": "redis unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "redis": "connected"})
	})

	// Add Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:           cfg.Server.GetServerAddr(),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		// Use h2c so we can serve HTTP/2 without TLS
		Handler: h2c.NewHandler(mux, &http2.Server{
			MaxConcurrentStreams: 1000,
		}),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited gracefully")
	return nil
}

func newLockProvider(cfg *config.Config, db *database.DB, log *zap.Logger) lock.Provider {
	if cfg.Lock.Backend == "redis" {
		return lock.NewRedis(db.Redis, cfg.Lock.TTL)
	}
	log.Warn("using process-local locks, run a single instance only")
	return lock.NewInMemory(cfg.Lock.TTL)
}

func newStore(cfg *config.Config, db *database.DB, log *zap.Logger) repository.Store {
	if cfg.Database.Backend == "postgres" {
		return repository.NewPostgresStore(db.Postgres)
	}
	log.Warn("using in-memory store, data is lost on restart")
	return repository.NewMemoryStore()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
