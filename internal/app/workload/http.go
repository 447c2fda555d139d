package workload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gymapp/main-service/internal/circuitbreaker"
	"github.com/gymapp/main-service/internal/contracts"
	"github.com/gymapp/main-service/internal/platform/logging"
	"github.com/gymapp/main-service/internal/platform/metrics"
	"github.com/gymapp/main-service/internal/platform/txid"
)

// UpdatePath is the workload service endpoint receiving change events.
const UpdatePath = "/api/workload/update"

const (
	defaultTimeout  = 5 * time.Second
	maxLoggedBody   = 1 << 10
	maxDrainedBytes = 64 << 10
)

// TokenIssuer mints the bearer token sent with every call.
type TokenIssuer interface {
	Issue(subject, transactionID string) (string, error)
}

// HTTPNotifier posts events to the workload service. Every call goes through
// Breaker; while it is open no request is made.
type HTTPNotifier struct {
	Client   *http.Client
	Endpoint string
	Tokens   TokenIssuer
	Subject  string
	Breaker  *circuitbreaker.Breaker
	Timeout  time.Duration
	Logger   *slog.Logger
	Metrics  metrics.Sink
	Now      func() time.Time
}

func NewHTTPNotifier(baseURL string, tokens TokenIssuer, subject string, breaker *circuitbreaker.Breaker) *HTTPNotifier {
	return &HTTPNotifier{
		Client:   &http.Client{},
		Endpoint: strings.TrimRight(baseURL, "/") + UpdatePath,
		Tokens:   tokens,
		Subject:  subject,
		Breaker:  breaker,
		Timeout:  defaultTimeout,
		Logger:   logging.Discard(),
		Metrics:  metrics.NoopSink{},
		Now:      time.Now,
	}
}

func (n *HTTPNotifier) Notify(ctx context.Context, event contracts.WorkloadChangeEvent) Outcome {
	start := n.Now()
	outcome := n.notify(ctx, event)
	n.Metrics.NotificationOutcome(TransportHTTP, string(outcome.Status), n.Now().Sub(start))
	return outcome
}

func (n *HTTPNotifier) notify(ctx context.Context, event contracts.WorkloadChangeEvent) Outcome {
	logger := n.Logger.With("transport", TransportHTTP, "trainer", event.TrainerUsername, "action", string(event.ActionType))
	transactionID := txid.Current(ctx)

	body, err := json.Marshal(event)
	if err != nil {
		logger.ErrorContext(ctx, "workload notification not sent: encode event", "error", err)
		return Outcome{Status: StatusFailed, Err: fmt.Errorf("%w: encode: %w", ErrDeliveryFailed, err)}
	}
	token, err := n.Tokens.Issue(n.Subject, transactionID)
	if err != nil {
		logger.ErrorContext(ctx, "workload notification not sent: issue service token", "error", err)
		return Outcome{Status: StatusFailed, Err: fmt.Errorf("%w: token: %w", ErrDeliveryFailed, err)}
	}

	var statusCode int
	var outcome Outcome
	_ = n.Breaker.Execute(ctx,
		func(ctx context.Context) error {
			code, err := n.post(ctx, body, token, transactionID)
			statusCode = code
			return err
		},
		func(ctx context.Context, err error) error {
			outcome = n.fallback(ctx, logger, statusCode, err)
			return nil
		},
	)
	if outcome.Status != "" {
		return outcome
	}

	logger.InfoContext(ctx, "workload notification delivered", "status", statusCode)
	return Outcome{Status: StatusDelivered, StatusCode: statusCode}
}

// fallback turns a failed or short-circuited call into a logged outcome.
func (n *HTTPNotifier) fallback(ctx context.Context, logger *slog.Logger, statusCode int, err error) Outcome {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		logger.WarnContext(ctx, "workload notification skipped: circuit open", "error", err)
		return Outcome{Status: StatusShortCircuited, Err: err}
	}

	attrs := []any{"error", err}
	if statusCode != 0 {
		attrs = append(attrs, "status", statusCode)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Body != "" {
		attrs = append(attrs, "response_body", statusErr.Body)
	}
	logger.ErrorContext(ctx, "workload notification failed", attrs...)
	return Outcome{Status: StatusFailed, StatusCode: statusCode, Err: err}
}

func (n *HTTPNotifier) post(ctx context.Context, body []byte, token, transactionID string) (int, error) {
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: create request: %w", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if transactionID != "" {
		req.Header.Set(txid.Header, transactionID)
	}

	resp, err := n.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: send: %w", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainedBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return resp.StatusCode, nil
}
