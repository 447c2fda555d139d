// Command load-generator drives main-service with simulated trainers that record
// and cancel trainings, so workload delivery can be watched under load.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gymapp/main-service/internal/platform/env"
	"github.com/gymapp/main-service/internal/platform/logging"
	"github.com/gymapp/main-service/internal/platform/metrics"
	"github.com/gymapp/main-service/internal/platform/txid"
	"github.com/prometheus/client_golang/prometheus"
)

var trainingTypes = []string{"FITNESS", "YOGA", "ZUMBA", "STRETCHING", "RESISTANCE"}

type config struct {
	MainServiceBase         string
	Trainers                int
	SetupConcurrency        int
	StartupWait             time.Duration
	Duration                time.Duration
	RampUp                  time.Duration
	ActionsPerTrainerPerSec float64
	RequestTimeout          time.Duration
	MetricsAddr             string
}

type createResponse struct {
	ID int64 `json:"id"`
}

type simulatedTrainer struct {
	Index   int
	Trainer string
	Trainee string

	mu        sync.Mutex
	trainings []int64
}

type runner struct {
	cfg    config
	runID  string
	client *http.Client
	logger *slog.Logger
	seq    atomic.Int64

	requestsTotal *prometheus.CounterVec
	actionsTotal  *prometheus.CounterVec
	activeGauge   prometheus.Gauge

	requestsSuccess atomic.Int64
	requestsError   atomic.Int64
	activeTrainers  atomic.Int64
}

func main() {
	logger := logging.New(os.Stdout, env.String("LOG_LEVEL", "info"), env.String("LOG_FORMAT", "text"))
	cfg := loadConfig()
	if cfg.Trainers <= 0 || cfg.SetupConcurrency <= 0 {
		logger.Error("LOADGEN_TRAINERS and LOADGEN_SETUP_CONCURRENCY must be > 0")
		os.Exit(1)
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	reg := prometheus.NewRegistry()
	r := newRunner(cfg, logger, reg)
	go runMetricsServer(logger, cfg.MetricsAddr, reg)

	if err := r.waitForReady(ctx); err != nil {
		logger.Error("main-service not ready", "error", err)
		os.Exit(1)
	}

	trainers := r.setupTrainers(ctx)
	if len(trainers) == 0 {
		logger.Error("failed to initialize any trainers")
		os.Exit(1)
	}
	logger.Info("load generator initialized",
		"trainers", len(trainers), "duration", cfg.Duration.String(), "rate_per_trainer", cfg.ActionsPerTrainerPerSec)

	go r.logProgress(ctx)

	var wg sync.WaitGroup
	for _, tr := range trainers {
		wg.Add(1)
		go func(tr *simulatedTrainer) {
			defer wg.Done()
			r.runTrainer(ctx, tr)
		}(tr)
	}
	<-ctx.Done()
	wg.Wait()

	logger.Info("load test complete", "success_requests", r.requestsSuccess.Load(), "error_requests", r.requestsError.Load())
}

func loadConfig() config {
	return config{
		MainServiceBase:         strings.TrimRight(strings.TrimSpace(env.String("LOADGEN_MAIN_SERVICE_BASE", "http://localhost:8080")), "/"),
		Trainers:                env.Int("LOADGEN_TRAINERS", 50),
		SetupConcurrency:        env.Int("LOADGEN_SETUP_CONCURRENCY", 10),
		StartupWait:             env.Duration("LOADGEN_STARTUP_WAIT", 2*time.Minute),
		Duration:                env.Duration("LOADGEN_DURATION", 5*time.Minute),
		RampUp:                  env.Duration("LOADGEN_RAMP_UP", 30*time.Second),
		ActionsPerTrainerPerSec: env.Float("LOADGEN_ACTIONS_PER_TRAINER_PER_SECOND", 0.5),
		RequestTimeout:          env.Duration("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:             env.String("LOADGEN_METRICS_ADDR", ":9099"),
	}
}

func newRunner(cfg config, logger *slog.Logger, reg prometheus.Registerer) *runner {
	r := &runner{
		cfg:    cfg,
		runID:  strconv.FormatInt(time.Now().UTC().UnixNano(), 36),
		logger: logger,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.Trainers * 2,
				MaxIdleConnsPerHost: cfg.Trainers * 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gym_loadgen_requests_total",
			Help: "HTTP requests sent by the load generator.",
		}, []string{"endpoint", "method", "status", "outcome"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gym_loadgen_actions_total",
			Help: "Training actions executed by the load generator.",
		}, []string{"action", "outcome"}),
		activeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gym_loadgen_active_trainers",
			Help: "Simulated trainers currently sending actions.",
		}),
	}
	reg.MustRegister(r.requestsTotal, r.actionsTotal, r.activeGauge)
	return r
}

func (r *runner) waitForReady(ctx context.Context) error {
	deadline := time.Now().Add(r.cfg.StartupWait)
	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.MainServiceBase+"/readyz", nil)
		if err != nil {
			return err
		}
		resp, err := r.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("status=%d", resp.StatusCode)
		}
		lastErr = err
		time.Sleep(1200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
}

func (r *runner) setupTrainers(ctx context.Context) []*simulatedTrainer {
	sem := make(chan struct{}, r.cfg.SetupConcurrency)
	var mu sync.Mutex
	var wg sync.WaitGroup
	trainers := make([]*simulatedTrainer, 0, r.cfg.Trainers)
	failures := 0

	for i := 0; i < r.cfg.Trainers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			tr, err := r.setupTrainer(ctx, idx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				r.logger.Warn("trainer setup failed", "index", idx, "error", err)
				return
			}
			trainers = append(trainers, tr)
		}(i)
	}
	wg.Wait()
	r.logger.Info("trainer setup complete", "success", len(trainers), "failed", failures)
	return trainers
}

func (r *runner) setupTrainer(ctx context.Context, idx int) (*simulatedTrainer, error) {
	tr := &simulatedTrainer{
		Index:   idx,
		Trainer: fmt.Sprintf("load-trainer-%s-%04d", r.runID, idx),
		Trainee: fmt.Sprintf("load-trainee-%s-%04d", r.runID, idx),
	}
	profile := map[string]any{"firstName": "Load", "lastName": strconv.Itoa(idx)}
	if _, err := r.requestJSON(ctx, "register_trainer", http.MethodPut, "/api/v1/trainers/"+tr.Trainer, profile, nil, http.StatusNoContent); err != nil {
		return nil, fmt.Errorf("register trainer %s: %w", tr.Trainer, err)
	}
	if _, err := r.requestJSON(ctx, "register_trainee", http.MethodPut, "/api/v1/trainees/"+tr.Trainee, profile, nil, http.StatusNoContent); err != nil {
		return nil, fmt.Errorf("register trainee %s: %w", tr.Trainee, err)
	}
	return tr, nil
}

func (r *runner) runTrainer(ctx context.Context, tr *simulatedTrainer) {
	if r.cfg.RampUp > 0 {
		delay := time.Duration(float64(r.cfg.RampUp) / float64(r.cfg.Trainers) * float64(tr.Index))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	r.activeGauge.Inc()
	r.activeTrainers.Add(1)
	defer r.activeGauge.Dec()
	defer r.activeTrainers.Add(-1)

	interval := time.Second
	if r.cfg.ActionsPerTrainerPerSec > 0 {
		interval = max(time.Duration(float64(time.Second)/r.cfg.ActionsPerTrainerPerSec), 25*time.Millisecond)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(tr.Index*7)))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			id, ok := tr.randomTraining(rng)
			if !ok || rng.Float64() < 0.7 {
				r.createTraining(ctx, tr, rng)
			} else {
				r.deleteTraining(ctx, tr, id)
			}
		}
	}
}

func (r *runner) createTraining(ctx context.Context, tr *simulatedTrainer, rng *rand.Rand) {
	date := time.Now().UTC().AddDate(0, 0, -rng.Intn(90))
	var resp createResponse
	_, err := r.requestJSON(ctx, "create_training", http.MethodPost, "/api/v1/trainings", map[string]any{
		"trainerUsername":  tr.Trainer,
		"traineeUsername":  tr.Trainee,
		"trainingName":     fmt.Sprintf("Load session %d", rng.Intn(1_000_000)),
		"trainingDate":     date.Format("2006-01-02"),
		"trainingTypeName": trainingTypes[rng.Intn(len(trainingTypes))],
		"trainingDuration": 15 + rng.Intn(8)*15,
	}, &resp, http.StatusCreated)
	if err != nil {
		r.actionsTotal.WithLabelValues("create", "error").Inc()
		return
	}
	tr.addTraining(resp.ID)
	r.actionsTotal.WithLabelValues("create", "success").Inc()
}

func (r *runner) deleteTraining(ctx context.Context, tr *simulatedTrainer, id int64) {
	_, err := r.requestJSON(ctx, "delete_training", http.MethodDelete, "/api/v1/trainings/"+strconv.FormatInt(id, 10), nil, nil, http.StatusNoContent)
	if err != nil {
		r.actionsTotal.WithLabelValues("delete", "error").Inc()
		return
	}
	tr.removeTraining(id)
	r.actionsTotal.WithLabelValues("delete", "success").Inc()
}

func (r *runner) requestJSON(ctx context.Context, endpoint, method, path string, payload, out any, expected int) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.MainServiceBase+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(txid.Header, fmt.Sprintf("loadgen-%s-%d", r.runID, r.seq.Add(1)))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.record(endpoint, method, 0, false)
		return 0, err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != expected {
		r.record(endpoint, method, resp.StatusCode, false)
		if err != nil {
			return resp.StatusCode, err
		}
		return resp.StatusCode, fmt.Errorf("unexpected status=%d body=%s", resp.StatusCode, truncate(string(responseBody), 240))
	}
	r.record(endpoint, method, resp.StatusCode, true)
	if out != nil && len(responseBody) > 0 {
		if err := json.Unmarshal(responseBody, out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (r *runner) record(endpoint, method string, status int, ok bool) {
	outcome := "error"
	if ok {
		outcome = "success"
		r.requestsSuccess.Add(1)
	} else {
		r.requestsError.Add(1)
	}
	r.requestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(status), outcome).Inc()
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.logger.Info("progress",
				"success_requests", r.requestsSuccess.Load(),
				"error_requests", r.requestsError.Load(),
				"active_trainers", r.activeTrainers.Load(),
			)
		}
	}
}

func runMetricsServer(logger *slog.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("load generator metrics endpoint listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("load generator metrics server failed", "error", err)
	}
}

func (t *simulatedTrainer) addTraining(id int64) {
	if id <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trainings = append(t.trainings, id)
}

func (t *simulatedTrainer) randomTraining(rng *rand.Rand) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.trainings) == 0 {
		return 0, false
	}
	return t.trainings[rng.Intn(len(t.trainings))], true
}

func (t *simulatedTrainer) removeTraining(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for idx, existing := range t.trainings {
		if existing != id {
			continue
		}
		t.trainings[idx] = t.trainings[len(t.trainings)-1]
		t.trainings = t.trainings[:len(t.trainings)-1]
		return
	}
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max] + "..."
}
