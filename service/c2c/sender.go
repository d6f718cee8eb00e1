// Package c2c carries event batches between units over NATS request/reply
// and translates the destination's reject classification into the sync
// queues' retry decisions.
package c2c

import (
	"context"
	"encoding/json"
	"time"

	"UProject/module/chat/model"
	"UProject/service/natsx"
	"UProject/service/syncq"
)

// Requester is the slice of natsx.Manager the sender needs.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte, hdr map[string]string) (*natsx.Reply, error)
}

// EnvelopeSender delivers envelope batches to one c2c operation on any
// destination unit. It implements syncq.Sender so both the grouped and the
// batched queue can dispatch through it.
type EnvelopeSender struct {
	req     Requester
	op      string
	source  model.UnitID
	timeout time.Duration
}

func NewEnvelopeSender(req Requester, op string, source model.UnitID, timeout time.Duration) *EnvelopeSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EnvelopeSender{req: req, op: op, source: source, timeout: timeout}
}

// Send posts one batch and classifies the outcome. Transport failures stay
// plain errors so the queue retries them with backoff.
func (s *EnvelopeSender) Send(ctx context.Context, dest model.UnitID, batch []model.IdempotentEnvelope) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return &syncq.SendError{Kind: syncq.Terminal, Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.req.Request(ctx, natsx.UnitSubject(dest, s.op), data, map[string]string{
		natsx.HeaderSourceUnit: string(s.source),
	})
	if err != nil {
		return err
	}
	return ClassifyReject(reply.RejectCode)
}

// ClassifyReject maps a reply's reject code to the queue's failure model.
// 409 means the destination already applied the batch, which is success
// for delivery purposes.
func ClassifyReject(code int) error {
	switch code {
	case natsx.RejectNone:
		return nil
	case natsx.RejectAlreadyApplied:
		return &syncq.SendError{Kind: syncq.AlreadyApplied, Code: code}
	case natsx.RejectBadRequest, natsx.RejectUnitNotFound:
		return &syncq.SendError{Kind: syncq.Terminal, Code: code}
	default:
		return &syncq.SendError{Kind: syncq.Retriable, Code: code}
	}
}
