package workloadsink

import (
	"context"
	"errors"
	"time"

	"github.com/gymapp/main-service/internal/platform/txid"
	"github.com/nats-io/nats.go"
)

// Disposition is how a queue message is settled.
type Disposition int

const (
	Ack Disposition = iota
	// Nak asks for redelivery.
	Nak
	// Term drops a message that can never be processed.
	Term
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Nak:
		return "nak"
	case Term:
		return "term"
	default:
		return "unknown"
	}
}

const handleTimeout = 3 * time.Second

// Settle processes one queue message and decides its disposition.
func (s *Service) Settle(ctx context.Context, data []byte, header nats.Header, streamSeq uint64) Disposition {
	ctx, _ = txid.Begin(ctx, header.Get(txid.Header))
	defer txid.End(ctx)

	event, err := Decode(data)
	if err != nil {
		s.Logger.WarnContext(ctx, "discarding invalid workload event", "stream_seq", streamSeq, "error", err)
		return Term
	}

	handleCtx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()
	err = s.Handle(handleCtx, Received{
		Event:         event,
		Source:        SourceQueue,
		TransactionID: txid.Current(ctx),
		MsgID:         header.Get(nats.MsgIdHdr),
		StreamSeq:     streamSeq,
	})
	if err != nil {
		s.Logger.ErrorContext(ctx, "workload event not recorded", "stream_seq", streamSeq, "error", err)
		return Nak
	}
	return Ack
}

// MsgHandler adapts Settle to a JetStream subscription using manual acks.
func (s *Service) MsgHandler(ctx context.Context) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var seq uint64
		if meta, err := msg.Metadata(); err == nil {
			seq = meta.Sequence.Stream
		}
		var err error
		switch s.Settle(ctx, msg.Data, msg.Header, seq) {
		case Ack:
			err = msg.Ack()
		case Term:
			err = msg.Term()
		default:
			err = msg.Nak()
		}
		if err != nil && !errors.Is(err, nats.ErrMsgAlreadyAckd) {
			s.Logger.WarnContext(ctx, "settle workload message failed", "stream_seq", seq, "error", err)
		}
	}
}
