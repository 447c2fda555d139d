package workload

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gymapp/main-service/internal/contracts"
	"github.com/gymapp/main-service/internal/platform/logging"
	"github.com/gymapp/main-service/internal/platform/metrics"
	"github.com/gymapp/main-service/internal/platform/natsutil"
	"github.com/gymapp/main-service/internal/platform/txid"
	"github.com/gymapp/main-service/internal/sharding"
	"github.com/nats-io/nuid"
)

// QueueNotifier publishes events to the workload stream, sharded by trainer.
// Delivery after the publish ack is the broker's job.
type QueueNotifier struct {
	Publisher natsutil.Publisher
	Subject   func(trainerUsername string) string
	NewMsgID  func() string
	Timeout   time.Duration
	Logger    *slog.Logger
	Metrics   metrics.Sink
	Now       func() time.Time
}

func NewQueueNotifier(publisher natsutil.Publisher) *QueueNotifier {
	return &QueueNotifier{
		Publisher: publisher,
		Subject:   sharding.GetSubject,
		NewMsgID:  nuid.Next,
		Timeout:   defaultTimeout,
		Logger:    logging.Discard(),
		Metrics:   metrics.NoopSink{},
		Now:       time.Now,
	}
}

func (n *QueueNotifier) Notify(ctx context.Context, event contracts.WorkloadChangeEvent) Outcome {
	start := n.Now()
	outcome := n.publish(ctx, event)
	n.Metrics.NotificationOutcome(TransportQueue, string(outcome.Status), n.Now().Sub(start))
	return outcome
}

func (n *QueueNotifier) publish(ctx context.Context, event contracts.WorkloadChangeEvent) Outcome {
	subject := n.Subject(event.TrainerUsername)
	logger := n.Logger.With("transport", TransportQueue, "trainer", event.TrainerUsername, "action", string(event.ActionType), "subject", subject)

	payload, err := json.Marshal(event)
	if err != nil {
		logger.ErrorContext(ctx, "workload event not published: encode event", "error", err)
		return Outcome{Status: StatusFailed, Err: fmt.Errorf("%w: encode: %w", ErrPublishFailed, err)}
	}

	msg := natsutil.Message{
		Subject: subject,
		Payload: payload,
		MsgID:   n.NewMsgID(),
	}
	if id := txid.Current(ctx); id != "" {
		msg.Headers = map[string]string{txid.Header: id}
	}

	timeout := n.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pubCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := n.Publisher.Publish(pubCtx, msg); err != nil {
		logger.ErrorContext(ctx, "workload event publish failed", "msg_id", msg.MsgID, "error", err)
		return Outcome{Status: StatusFailed, Err: fmt.Errorf("%w: %w", ErrPublishFailed, err)}
	}
	logger.InfoContext(ctx, "workload event published", "msg_id", msg.MsgID)
	return Outcome{Status: StatusPublished}
}
