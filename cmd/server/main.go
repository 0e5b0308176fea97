package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"mall/internal/domain/audit"
	"mall/internal/domain/consent"
	"mall/internal/domain/lifecycle"
	"mall/internal/domain/policy"
	"mall/internal/domain/ratelimit"
	"mall/internal/platform/config"
	"mall/internal/platform/crypto"
	"mall/internal/platform/db"
	"mall/internal/platform/email"
	"mall/internal/platform/jobs"
	"mall/internal/platform/logsink"
	"mall/internal/platform/metrics"
	compliancehandler "mall/internal/transport/http/handlers/compliance"
	"mall/internal/transport/http/middleware"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("dotenv load failed", "error", err)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, "migrations"); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
	}

	encryptor, err := crypto.New(cfg.DataEncryptionKey)
	if err != nil {
		log.Fatalf("encryption setup failed: %v", err)
	}

	auditLog := audit.New(logsink.New(cfg.LogDir))

	var counters ratelimit.CounterStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		counters = ratelimit.NewRedisCounters(client)
		slog.Info("usage counters backed by redis", "addr", cfg.RedisAddr)
	} else {
		counters = ratelimit.NewMemoryCounters()
	}

	rates := ratelimit.NewService(cfg, counters, auditLog)
	consents := consent.NewService(consent.NewPGStore(pool), auditLog)
	lifecycleSvc := lifecycle.NewService(cfg, lifecycle.NewPGStore(pool), auditLog, encryptor)
	validator := consent.NewValidator(cfg)
	mailer := email.New(cfg)
	policySvc := policy.New(rates, consents, lifecycleSvc, auditLog, validator, mailer)

	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.New()
	}

	background := jobs.New(cfg, rates, lifecycleSvc, pool)
	jobsCtx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()
	background.Start(jobsCtx)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(collector))
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.SecureHeaders(cfg.Environment == "production"))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.Auth(cfg.JWTSecret))
	router.Use(middleware.RateLimit(cfg.APIRateLimit, time.Minute))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if collector != nil {
		router.With(middleware.RequireAdmin).Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(collector.Snapshot()); err != nil {
				slog.Warn("metrics write failed", "error", err)
			}
		})
	}

	router.Route("/api/v1", func(r chi.Router) {
		handler := compliancehandler.NewHandler(policySvc, collector)
		handler.RegisterRoutes(r)
	})

	slog.Info("compliance server listening", "addr", cfg.Addr, "env", cfg.Environment)
	if err := http.ListenAndServe(cfg.Addr, router); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
