package workload

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/gymapp/main-service/internal/contracts"
	"github.com/gymapp/main-service/internal/platform/txid"
)

func TestQueueNotifier_PublishesToTrainerShard(t *testing.T) {
	pub := &fakePublisher{}
	sink := &recordingSink{}
	n := NewQueueNotifier(pub)
	n.NewMsgID = func() string { return "msg-1" }
	n.Metrics = sink

	event := testEvent(t, contracts.ActionAdd)
	ctx, id := txid.Begin(context.Background(), "tx-queue")
	outcome := n.Notify(ctx, event)

	if outcome.Status != StatusPublished || outcome.Err != nil {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.msgs))
	}
	msg := pub.msgs[0]
	if msg.Subject != "workload.training.3" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if msg.MsgID != "msg-1" {
		t.Fatalf("unexpected msg id %q", msg.MsgID)
	}
	if msg.Headers[txid.Header] != id {
		t.Fatalf("transaction id header: got %q want %q", msg.Headers[txid.Header], id)
	}
	var decoded contracts.WorkloadChangeEvent
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if decoded != event {
		t.Fatalf("payload: got %+v want %+v", decoded, event)
	}
	if got := sink.outcomes(); len(got) != 1 || got[0] != "queue/published" {
		t.Fatalf("unexpected outcomes %v", got)
	}
}

func TestQueueNotifier_NoScopeNoHeader(t *testing.T) {
	pub := &fakePublisher{}
	NewQueueNotifier(pub).Notify(context.Background(), testEvent(t, contracts.ActionDelete))
	if len(pub.msgs) != 1 || pub.msgs[0].Headers != nil {
		t.Fatalf("unexpected messages %+v", pub.msgs)
	}
	if pub.msgs[0].MsgID == "" {
		t.Fatal("msg id should be generated")
	}
}

func TestQueueNotifier_PublishErrorIsAbsorbed(t *testing.T) {
	brokerDown := errors.New("no responders")
	n := NewQueueNotifier(&fakePublisher{err: brokerDown})

	outcome := n.Notify(context.Background(), testEvent(t, contracts.ActionAdd))
	if outcome.Status != StatusFailed {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if !errors.Is(outcome.Err, ErrPublishFailed) || !errors.Is(outcome.Err, brokerDown) {
		t.Fatalf("unexpected error %v", outcome.Err)
	}
}
