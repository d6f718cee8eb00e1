package events

import "UProject/module/chat/model"

// ExpiryResult carries everything a sweep produced: the count of evicted
// payloads (the correctness-critical part, done exactly once here) and the
// side-effect obligations the caller hands to the job system, which may
// retry them.
type ExpiryResult struct {
	Removed int

	// FileRefs to delete from storage units.
	FileRefs []string

	// FinalPrizePayments to finalize via the escrow collaborator.
	FinalPrizePayments []model.PendingPayment

	// Threads whose root expired during this sweep; their stable-storage
	// key ranges are queued for separate GC. Replies under these roots are
	// orphaned deliberately: unreachable once the root is gone.
	Threads []model.EventIndex

	// RemovedMessages locates the evicted message payloads so their
	// stable-storage copies can be queued for the same GC.
	RemovedMessages []RemovedMessageRef

	// Ranges holds one span per contiguous run of indexes tombstoned by
	// this sweep. Live events between runs stay out of the gap record.
	Ranges []model.ExpiredRange
}

// RemovedMessageRef addresses one evicted message payload in stable
// storage: main-log key when ThreadRoot is zero, thread key otherwise.
type RemovedMessageRef struct {
	Index      model.EventIndex
	ThreadRoot model.EventIndex
}

// RemoveExpired tombstones every event whose expires_at has passed,
// collecting side-effect obligations. Payload eviction is permanent: the
// tombstone keeps only index, timestamp and expiry for gap tracking.
func (l *Log) RemoveExpired(now model.TimestampMillis) ExpiryResult {
	var result ExpiryResult

	for _, e := range l.events {
		if e.Expired || !e.IsExpired(now) {
			continue
		}

		if msg, ok := e.Payload.(*model.MessageEvent); ok {
			result.FileRefs = append(result.FileRefs, msg.Content.FileRefs...)
			if msg.Content.PrizeAmount > 0 {
				result.FinalPrizePayments = append(result.FinalPrizePayments, model.PendingPayment{
					Amount:    msg.Content.PrizeAmount,
					Ledger:    msg.Content.PrizeLedger,
					Recipient: msg.Sender,
					Reason:    "prize_refund",
				})
			}
			delete(l.messageIDs, msg.MessageID)
			result.RemovedMessages = append(result.RemovedMessages, RemovedMessageRef{
				Index:      e.Index,
				ThreadRoot: msg.ThreadRoot,
			})
			if _, isRoot := l.threads[e.Index]; isRoot {
				result.Threads = append(result.Threads, e.Index)
				delete(l.threads, e.Index)
			}
		}

		e.Payload = nil
		e.Expired = true
		result.Removed++

		if n := len(result.Ranges); n > 0 && result.Ranges[n-1].To+1 == e.Index {
			result.Ranges[n-1].To = e.Index
		} else {
			result.Ranges = append(result.Ranges, model.ExpiredRange{From: e.Index, To: e.Index})
		}
	}

	for _, rng := range result.Ranges {
		l.expiredRanges = appendRange(l.expiredRanges, rng)
	}
	return result
}

// NextEventExpiry returns the earliest expiry among live events, 0 if no
// timer is needed until a new expiring event is pushed.
func (l *Log) NextEventExpiry() model.TimestampMillis {
	var min model.TimestampMillis
	for _, e := range l.events {
		if e.Expired || e.ExpiresAt == 0 {
			continue
		}
		if min == 0 || e.ExpiresAt < min {
			min = e.ExpiresAt
		}
	}
	return min
}

// ExpiredRanges returns the accumulated tombstoned spans.
func (l *Log) ExpiredRanges() []model.ExpiredRange {
	return l.expiredRanges
}
