// Package collab holds the narrow outbound interfaces to collaborator
// units: the ledger that finalizes payments and the storage units that
// own file blobs. Internals of those units are not this engine's concern.
package collab

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"UProject/logger"
	"UProject/module/chat/model"
	"UProject/service/c2c"
	"UProject/service/natsx"
	"UProject/service/syncq"
	"UProject/tools/errs"
)

// RetryPolicy bounds a payment job's delivery attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Timeout     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 10
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = 2 * time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 5 * time.Minute
	}
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Second
	}
	return p
}

// PaymentJob finalizes one pending payment against its ledger unit. It is
// a timer job: each failed attempt doubles the delay until the policy's
// ceiling, and the job abandons after MaxAttempts with an error log. The
// obligation is retried, never re-derived: the payment was captured once
// at event expiry.
type PaymentJob struct {
	Payment model.PendingPayment

	req      c2c.Requester
	source   model.UnitID
	policy   RetryPolicy
	attempts int
}

func NewPaymentJob(req c2c.Requester, source model.UnitID, payment model.PendingPayment, policy RetryPolicy) *PaymentJob {
	return &PaymentJob{Payment: payment, req: req, source: source, policy: policy.withDefaults()}
}

func (j *PaymentJob) Name() string { return "finalize_payment" }

func (j *PaymentJob) Execute(_ int64) (time.Duration, error) {
	data, err := json.Marshal(j.Payment)
	if err != nil {
		return 0, errs.ErrTransferFailed.WrapMsg("marshal payment", "err", err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.policy.Timeout)
	defer cancel()

	reply, err := j.req.Request(ctx, natsx.UnitSubject(j.Payment.Ledger, natsx.OpTransfer), data, map[string]string{
		natsx.HeaderSourceUnit: string(j.source),
	})
	if err == nil {
		err = c2c.ClassifyReject(reply.RejectCode)
	}
	if err == nil {
		return 0, nil
	}
	if se, ok := err.(*syncq.SendError); ok {
		switch se.Kind {
		case syncq.AlreadyApplied:
			return 0, nil
		case syncq.Terminal:
			logger.Log.Error("payment rejected by ledger",
				zap.String("ledger", string(j.Payment.Ledger)),
				zap.Uint64("amount", j.Payment.Amount),
				zap.Int("code", se.Code))
			return 0, errs.ErrTransferFailed.WrapMsg("ledger rejected transfer", "code", se.Code)
		}
	}

	j.attempts++
	if j.attempts >= j.policy.MaxAttempts {
		logger.Log.Error("payment abandoned after max attempts",
			zap.String("ledger", string(j.Payment.Ledger)),
			zap.Uint64("amount", j.Payment.Amount),
			zap.Int("attempts", j.attempts))
		return 0, errs.ErrTransferFailed.WrapMsg("abandoned", "attempts", j.attempts)
	}
	return j.retryDelay(), err
}

// Attempts reports completed failed attempts, for metrics.
func (j *PaymentJob) Attempts() int { return j.attempts }

func (j *PaymentJob) retryDelay() time.Duration {
	d := j.policy.BaseBackoff << (j.attempts - 1)
	if d <= 0 || d > j.policy.MaxBackoff {
		return j.policy.MaxBackoff
	}
	return d
}
