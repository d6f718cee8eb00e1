// Package syncq implements the outbound cross-unit delivery queues:
// batching, at-most-one-in-flight per destination, and classified retry
// with exponential backoff.
package syncq

import (
	"fmt"
	"time"
)

// FailureKind classifies a delivery failure for the retry decision.
type FailureKind int

const (
	// Retriable: transient transport trouble; retry the batch with backoff.
	Retriable FailureKind = iota
	// Terminal: the destination rejected the batch permanently; drop it.
	Terminal
	// AlreadyApplied: the destination saw this idempotency id before. The
	// effect landed in an earlier attempt, so this is a success.
	AlreadyApplied
)

func (k FailureKind) String() string {
	switch k {
	case Retriable:
		return "retriable"
	case Terminal:
		return "terminal"
	case AlreadyApplied:
		return "already_applied"
	default:
		return "unknown"
	}
}

// SendError is the classified failure a Sender reports. A Sender returning
// a plain error is treated as Retriable: transport-level trouble is the
// common case and retrying an idempotent batch is safe.
type SendError struct {
	Kind  FailureKind
	Code  int // machine-checkable reject code from the destination
	Cause error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed (%s, code=%d): %v", e.Kind, e.Code, e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }

// classify maps a Sender error to its retry decision.
func classify(err error) FailureKind {
	if se, ok := err.(*SendError); ok {
		return se.Kind
	}
	return Retriable
}

const maxBackoff = 300 * time.Second

// backoff is min(2^attempts, 300) seconds. attempts counts completed
// failed attempts, so the first retry waits 2s.
func backoff(attempts int) time.Duration {
	if attempts > 8 { // 2^9 > 300
		return maxBackoff
	}
	d := time.Duration(1<<attempts) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
