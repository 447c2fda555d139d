package workload

import (
	"context"
	"sync"
	"time"

	"github.com/gymapp/main-service/internal/contracts"
	"github.com/gymapp/main-service/internal/platform/natsutil"
	"github.com/gymapp/main-service/internal/platform/txid"
)

type recordingSink struct {
	mu       sync.Mutex
	recorded []string
	inFlight int
	peak     int
}

func (s *recordingSink) NotificationOutcome(transport, outcome string, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, transport+"/"+outcome)
}
func (s *recordingSink) BreakerStateChanged(string)      {}
func (s *recordingSink) TrainingMutation(string, string) {}
func (s *recordingSink) DispatchInFlightIncr() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
}
func (s *recordingSink) DispatchInFlightDecr() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
}

func (s *recordingSink) outcomes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recorded...)
}

func (s *recordingSink) gauge() (current, peak int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight, s.peak
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []natsutil.Message
	err  error
}

func (p *fakePublisher) Publish(ctx context.Context, msg natsutil.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

// blockingNotifier records what each call saw and waits for release.
type blockingNotifier struct {
	release chan struct{}
	calls   chan notifyCall
	panics  bool
}

type notifyCall struct {
	event         contracts.WorkloadChangeEvent
	transactionID string
	ctxErr        error
	hasDeadline   bool
}

func newBlockingNotifier() *blockingNotifier {
	return &blockingNotifier{release: make(chan struct{}), calls: make(chan notifyCall, 16)}
}

func (n *blockingNotifier) Notify(ctx context.Context, event contracts.WorkloadChangeEvent) Outcome {
	<-n.release
	_, hasDeadline := ctx.Deadline()
	n.calls <- notifyCall{event: event, transactionID: txid.Current(ctx), ctxErr: ctx.Err(), hasDeadline: hasDeadline}
	if n.panics {
		panic("notifier exploded")
	}
	return Outcome{Status: StatusDelivered}
}
