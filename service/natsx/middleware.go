package natsx

import (
	"context"
	"strconv"
	"time"

	"UProject/logger"
	"UProject/service/idem"
)

// IdemMiddleware drops redelivered messages by their Nats-Msg-Id before
// they reach the handler. Messages without an id pass through: dedup for
// those happens at the envelope layer.
func IdemMiddleware(checker idem.Checker, window time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			idStr := msg.Header[HeaderMsgID]
			if idStr == "" {
				return next(ctx, msg)
			}
			id, err := strconv.ParseUint(idStr, 16, 64)
			if err != nil {
				// Non-numeric producer ids still dedupe, via their raw form.
				id = hash64(idStr)
			}
			seen, err := checker.SeenOnce(ctx, msg.Subject, id, window)
			if err != nil {
				// Fail open: a broken dedup store must not stall delivery,
				// the envelope layer catches the duplicate.
				logger.Errorf("natsx: idem check failed subject=%s err=%v", msg.Subject, err)
				return next(ctx, msg)
			}
			if seen {
				return nil
			}
			return next(ctx, msg)
		}
	}
}

// RecoverMiddleware isolates handler panics per message.
func RecoverMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("natsx: handler panic subject=%s panic=%v", msg.Subject, r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// hash64 is FNV-1a, for non-numeric message ids.
func hash64(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
