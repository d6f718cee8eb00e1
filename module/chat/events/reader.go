package events

import "UProject/module/chat/model"

// Reader is a read view over the log that hides events below the caller's
// visibility floor and skips expired events. It holds no copies: it walks
// the arena lazily and can be restarted any number of times.
type Reader struct {
	log        *Log
	minVisible model.EventIndex
	now        model.TimestampMillis
}

// VisibleReader builds a read view for a caller whose visibility floor was
// fixed at membership join time.
func (l *Log) VisibleReader(minVisible model.EventIndex, now model.TimestampMillis) *Reader {
	return &Reader{log: l, minVisible: minVisible, now: now}
}

// visible reports whether the reader may surface this event.
func (r *Reader) visible(e *model.EventWrapper) bool {
	if e.Index < r.minVisible {
		return false
	}
	if e.Expired || e.IsExpired(r.now) {
		return false
	}
	return true
}

// Get returns one event if it is visible to this reader.
func (r *Reader) Get(index model.EventIndex) (*model.EventWrapper, bool) {
	e, ok := r.log.get(index)
	if !ok || !r.visible(e) {
		return nil, false
	}
	return e, true
}

// EventsByIndex fetches the requested events, omitting invisible ones, and
// reports which requested indexes fall inside expired spans.
func (r *Reader) EventsByIndex(indexes []model.EventIndex) ([]*model.EventWrapper, []model.ExpiredRange) {
	var out []*model.EventWrapper
	var expired []model.ExpiredRange
	for _, idx := range indexes {
		if e, ok := r.Get(idx); ok {
			out = append(out, e)
		} else if rng, ok := r.expiredRangeFor(idx); ok {
			expired = appendRange(expired, rng)
		}
	}
	return out, expired
}

// Window returns up to max visible events starting at or after `start`,
// plus expired ranges overlapping the scanned span.
func (r *Reader) Window(start model.EventIndex, max int) ([]*model.EventWrapper, []model.ExpiredRange) {
	if start < r.log.firstIndex {
		start = r.log.firstIndex
	}
	var out []*model.EventWrapper
	var expired []model.ExpiredRange
	for idx := start; int(idx-r.log.firstIndex) < len(r.log.events) && len(out) < max; idx++ {
		e, _ := r.log.get(idx)
		if r.visible(e) {
			out = append(out, e)
		} else if rng, ok := r.expiredRangeFor(idx); ok {
			expired = appendRange(expired, rng)
		}
	}
	return out, expired
}

// Iter walks visible events in index order from `start`, calling fn until
// it returns false or the log ends. Restartable: call again to rewind.
func (r *Reader) Iter(start model.EventIndex, fn func(*model.EventWrapper) bool) {
	if start < r.log.firstIndex {
		start = r.log.firstIndex
	}
	for i := int(start - r.log.firstIndex); i < len(r.log.events); i++ {
		e := r.log.events[i]
		if !r.visible(e) {
			continue
		}
		if !fn(e) {
			return
		}
	}
}

// LatestMessage returns the newest visible message event, if any.
func (r *Reader) LatestMessage() (*model.EventWrapper, bool) {
	for i := len(r.log.events) - 1; i >= 0; i-- {
		e := r.log.events[i]
		if !r.visible(e) {
			continue
		}
		if _, ok := e.Payload.(*model.MessageEvent); ok {
			return e, true
		}
	}
	return nil, false
}

// expiredRangeFor resolves the recorded expired span containing idx. An
// event that IsExpired but has not yet been swept also reports as a
// single-index range, so readers never see a gap they can't explain.
func (r *Reader) expiredRangeFor(idx model.EventIndex) (model.ExpiredRange, bool) {
	for _, rng := range r.log.expiredRanges {
		if idx >= rng.From && idx <= rng.To {
			return rng, true
		}
	}
	if e, ok := r.log.get(idx); ok && e.IsExpired(r.now) {
		return model.ExpiredRange{From: idx, To: idx}, true
	}
	return model.ExpiredRange{}, false
}

// appendRange merges adjacent/duplicate ranges as they accumulate.
func appendRange(ranges []model.ExpiredRange, rng model.ExpiredRange) []model.ExpiredRange {
	for i, existing := range ranges {
		if rng.From >= existing.From && rng.To <= existing.To {
			return ranges
		}
		if rng.From <= existing.To+1 && rng.To >= existing.From {
			if rng.From < existing.From {
				ranges[i].From = rng.From
			}
			if rng.To > existing.To {
				ranges[i].To = rng.To
			}
			return ranges
		}
	}
	return append(ranges, rng)
}
