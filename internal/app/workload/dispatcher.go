package workload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gymapp/main-service/internal/contracts"
	"github.com/gymapp/main-service/internal/platform/logging"
	"github.com/gymapp/main-service/internal/platform/metrics"
	"github.com/gymapp/main-service/internal/platform/txid"
)

const defaultDispatchTimeout = 15 * time.Second

// Dispatcher runs notifications in the background so the request that caused
// them never waits on the workload service. Each notification keeps the
// caller's transaction id but not its cancellation.
type Dispatcher struct {
	Notifier Notifier
	Timeout  time.Duration
	Logger   *slog.Logger
	Metrics  metrics.Sink

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(notifier Notifier, timeout time.Duration, logger *slog.Logger, sink metrics.Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Dispatcher{Notifier: notifier, Timeout: timeout, Logger: logger, Metrics: sink}
}

// Dispatch returns immediately. After Shutdown the event is dropped and logged.
func (d *Dispatcher) Dispatch(ctx context.Context, event contracts.WorkloadChangeEvent) {
	bg := txid.Detach(ctx)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.Logger.WarnContext(bg, "workload notification dropped: dispatcher stopped",
			"trainer", event.TrainerUsername, "action", string(event.ActionType))
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	d.Metrics.DispatchInFlightIncr()
	go d.run(bg, event)
}

func (d *Dispatcher) run(ctx context.Context, event contracts.WorkloadChangeEvent) {
	defer d.wg.Done()
	defer d.Metrics.DispatchInFlightDecr()
	defer func() {
		if r := recover(); r != nil {
			d.Logger.ErrorContext(ctx, "workload notification panicked",
				"trainer", event.TrainerUsername, "action", string(event.ActionType), "error", fmt.Sprint(r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	outcome := d.Notifier.Notify(ctx, event)
	d.Logger.DebugContext(ctx, "workload notification finished",
		"trainer", event.TrainerUsername, "action", string(event.ActionType), "status", string(outcome.Status))
}

// Wait blocks until every dispatched notification has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown stops accepting events and waits for in-flight ones until ctx ends.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workload dispatcher shutdown: %w", ctx.Err())
	}
}
