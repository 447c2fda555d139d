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

	"github.com/gymapp/main-service/internal/app/workloadsink"
	"github.com/gymapp/main-service/internal/messaging"
	"github.com/gymapp/main-service/internal/platform/auth"
	"github.com/gymapp/main-service/internal/platform/dbpool"
	"github.com/gymapp/main-service/internal/platform/env"
	"github.com/gymapp/main-service/internal/platform/logging"
	"github.com/gymapp/main-service/internal/platform/natsutil"
	"github.com/nats-io/nats.go"
)

const consumerName = "workload-sink"

func main() {
	logger := logging.New(os.Stdout, env.String("LOG_LEVEL", "info"), env.String("LOG_FORMAT", "json"))
	if err := run(logger); err != nil {
		logger.Error("workload-sink stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := env.String("SINK_HTTP_ADDR", ":8082")
	secret := env.String("SERVICE_TOKEN_SECRET", "dev-insecure-change-me")
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	pool, err := dbpool.New(runCtx, env.String("DATABASE_URL", env.DefaultDatabaseURL), consumerName)
	if err != nil {
		return err
	}
	defer pool.Close()

	repository := workloadsink.NewPostgresRepository(pool)
	if err := waitForPostgres(runCtx, logger, repository, 30*time.Second); err != nil {
		return fmt.Errorf("workload schema: %w", err)
	}
	service := workloadsink.NewService(repository, logger.With("component", "workload-sink"))

	if env.Bool("SINK_QUEUE_ENABLED", true) {
		client, err := natsutil.ConnectJetStreamWithRetry(env.String("NATS_URL", env.DefaultNATSURL), consumerName, 20*time.Second)
		if err != nil {
			return err
		}
		defer client.Close()

		sub, err := client.JS.QueueSubscribe(messaging.WorkloadSubjects(), consumerName, service.MsgHandler(runCtx),
			nats.ManualAck(),
			nats.Durable(consumerName),
			nats.AckWait(30*time.Second),
			nats.MaxDeliver(10),
		)
		if err != nil {
			return err
		}
		logger.Info("workload-sink subscribed", "subject", sub.Subject, "stream", messaging.WorkloadStream)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           workloadsink.NewHandler(service, auth.NewManager(secret, 0)).Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("workload-sink listening", "addr", addr)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http graceful shutdown failed", "error", err)
	}
	return nil
}

func waitForPostgres(ctx context.Context, logger *slog.Logger, repository *workloadsink.PostgresRepository, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = repository.Pool.Ping(attemptCtx)
		if lastErr == nil {
			lastErr = repository.EnsureSchema(attemptCtx)
		}
		cancel()

		if lastErr == nil {
			return nil
		}
		logger.Warn("waiting for postgres readiness", "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return lastErr
}
