package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gymapp/main-service/internal/app/training"
	"github.com/gymapp/main-service/internal/app/workload"
	"github.com/gymapp/main-service/internal/circuitbreaker"
	"github.com/gymapp/main-service/internal/config"
	"github.com/gymapp/main-service/internal/platform/auth"
	"github.com/gymapp/main-service/internal/platform/dbpool"
	"github.com/gymapp/main-service/internal/platform/logging"
	"github.com/gymapp/main-service/internal/platform/metrics"
	"github.com/gymapp/main-service/internal/platform/natsutil"
	"github.com/gymapp/main-service/internal/platform/txid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.Error("main-service stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := dbpool.New(runCtx, cfg.DatabaseURL, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := training.NewPostgresRepository(pool)
	if err := waitForSchema(runCtx, logger, repo, 30*time.Second); err != nil {
		return fmt.Errorf("training schema: %w", err)
	}

	var sink metrics.Sink = metrics.NoopSink{}
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		sink = metrics.NewPrometheusSink(reg, logger)
		metricsHandler = metrics.Handler(reg)
	}

	var natsConn *nats.Conn
	var notifier workload.Notifier
	switch cfg.WorkloadTransport {
	case config.TransportQueue:
		client, err := natsutil.ConnectJetStreamWithRetry(cfg.NATSURL, cfg.ServiceName, 20*time.Second)
		if err != nil {
			return err
		}
		defer client.Close()
		natsConn = client.Conn

		q := workload.NewQueueNotifier(natsutil.JetStreamPublisher{JS: client.JS})
		q.Timeout = cfg.WorkloadTimeout
		q.Logger = logger.With("component", "workload-queue")
		q.Metrics = sink
		notifier = q
	default:
		if cfg.InsecureSecret() {
			logger.Warn("using the development service token secret, set SERVICE_TOKEN_SECRET")
		}
		tokens := auth.NewManager(cfg.ServiceTokenSecret, cfg.ServiceTokenTTL)
		tokens.Issuer = cfg.ServiceTokenIssuer

		breakerLogger := logger.With("component", "workload-breaker")
		breaker := circuitbreaker.New(cfg.Breaker).OnStateChange(func(from, to circuitbreaker.State) {
			breakerLogger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
			sink.BreakerStateChanged(to.String())
		})

		h := workload.NewHTTPNotifier(cfg.WorkloadServiceURL, tokens, cfg.ServiceName, breaker)
		h.Timeout = cfg.WorkloadTimeout
		h.Logger = logger.With("component", "workload-http")
		h.Metrics = sink
		notifier = h
	}
	logger.Info("workload transport selected", "transport", cfg.WorkloadTransport)

	dispatcher := workload.NewDispatcher(notifier, cfg.WorkloadDispatchTimeout, logger.With("component", "workload-dispatcher"), sink)
	service := training.NewService(repo, dispatcher, logger.With("component", "training"), sink)
	handler := training.NewHandler(service, logger.With("component", "http"))

	ready := func(ctx context.Context) error {
		return checkReadiness(ctx, pool, natsConn, cfg.WorkloadTransport)
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           routes(handler.Router(), ready, metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("main-service listening", "addr", cfg.HTTPAddr)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http graceful shutdown failed", "error", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Error("workload notifications still in flight at shutdown", "error", err)
	}
	return nil
}

// routes mounts the health checks, metrics and the API under one transaction scope, so
// every response carries X-Transaction-ID.
func routes(api http.Handler, ready func(context.Context) error, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := ready(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.Handle("/", api)
	return txid.Middleware(mux)
}

func waitForSchema(ctx context.Context, logger *slog.Logger, repo *training.PostgresRepository, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = repo.EnsureSchema(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		logger.Warn("waiting for training schema readiness", "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return lastErr
}

func checkReadiness(ctx context.Context, pool *pgxpool.Pool, conn *nats.Conn, transport string) error {
	if transport == config.TransportQueue {
		if conn == nil {
			return errors.New("nats connection is nil")
		}
		if conn.Status() != nats.CONNECTED {
			return fmt.Errorf("nats is not connected: %s", conn.Status().String())
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	if err := pool.Ping(checkCtx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}
