package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/atmx/position-engine/internal/alerts"
	"github.com/atmx/position-engine/internal/api"
	"github.com/atmx/position-engine/internal/config"
	"github.com/atmx/position-engine/internal/feed"
	"github.com/atmx/position-engine/internal/ledger"
	"github.com/atmx/position-engine/internal/metrics"
	"github.com/atmx/position-engine/internal/risk"
	"github.com/atmx/position-engine/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the position engine HTTP server",
	Long: `Serve starts the HTTP API and WebSocket hub, polls Redis for prices when
REDIS_URL is set, mirrors transactions and alerts into PostgreSQL
(DATABASE_URL) or SQLite (SQLITE_PATH), and streams alerts to Kafka when
KAFKA_BROKERS is set.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Initialize journal ---
	journal, journalName, err := openJournal(ctx, cfg, &cleanup)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, func() {
		if err := journal.Close(); err != nil {
			slog.Error("journal close failed", "err", err)
		}
	})

	// Background workers drain on cancel; wait for them before the
	// journal and clients are closed.
	var workers sync.WaitGroup
	runCtx, cancelWorkers := context.WithCancel(context.Background())
	cleanup = append(cleanup, func() {
		cancelWorkers()
		workers.Wait()
	})
	spawn := func(fn func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			fn(runCtx)
		}()
	}

	recorder := store.NewRecorder(journal, journalName, 4096)
	spawn(recorder.Run)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	spawn(wsHub.Run)

	// --- Alert dispatch ---
	history := alerts.NewHistory(alerts.DefaultHistoryLimit)
	sinks := alerts.Fanout{alerts.LogSink{Log: logger}, history, wsHub, recorder}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := alerts.NewKafkaSink(alerts.NewKafkaWriter(cfg.KafkaBrokers, cfg.AlertTopic), 1024)
		spawn(kafkaSink.Run)
		sinks = append(sinks, kafkaSink)
		slog.Info("kafka alert stream enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.AlertTopic)
	}

	// --- Ledger ---
	engine := risk.NewEngine(cfg.Risk, nil)
	l, err := ledger.New(cfg.Ledger, engine,
		ledger.WithTxSink(recorder),
		ledger.WithAlertSink(sinks),
		ledger.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	// --- Price feed ---
	var publisher api.PricePublisher
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })

		prices := store.NewRedisPrices(rdb, cfg.PriceHash)
		publisher = prices
		poller := &feed.Poller{Source: prices, Marker: l, Interval: cfg.PriceInterval, Log: logger}
		spawn(func(ctx context.Context) { poller.Run(ctx) })
		slog.Info("redis price feed enabled", "hash", cfg.PriceHash, "interval", cfg.PriceInterval)
	} else {
		slog.Warn("REDIS_URL not set, prices arrive only through POST /api/v1/prices")
	}

	svc := api.NewService(l, history, wsHub, publisher)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"position-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("position-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down position-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	cancelWorkers()
	workers.Wait()
	return nil
}

// openJournal picks PostgreSQL, then SQLite, then the in-memory journal.
func openJournal(ctx context.Context, cfg config.Config, cleanup *[]func()) (store.Journal, string, error) {
	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("database connection failed: %w", err)
		}
		*cleanup = append(*cleanup, pool.Close)
		j, err := store.NewPostgresJournal(ctx, pool)
		if err != nil {
			return nil, "", fmt.Errorf("postgres journal: %w", err)
		}
		slog.Info("connected to PostgreSQL")
		return j, "postgres", nil

	case cfg.SQLitePath != "":
		j, err := store.NewSQLiteJournal(cfg.SQLitePath)
		if err != nil {
			return nil, "", fmt.Errorf("sqlite journal: %w", err)
		}
		slog.Info("sqlite journal enabled", "path", cfg.SQLitePath)
		return j, "sqlite", nil
	}

	slog.Warn("DATABASE_URL and SQLITE_PATH not set, journaling in memory (data will not persist)")
	return store.NewMemoryJournal(), "memory", nil
}
