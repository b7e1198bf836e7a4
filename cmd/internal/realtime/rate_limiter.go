package realtime

import "time"

// frameLimiter bounds inbound frames per connection over a sliding window.
// It is owned by the read loop and needs no locking.
type frameLimiter struct {
	limit  int
	window time.Duration
	hits   []time.Time
}

func newFrameLimiter(limit int, window time.Duration) *frameLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &frameLimiter{limit: limit, window: window, hits: make([]time.Time, 0, limit)}
}

// allow records a frame at now and reports whether it is within budget.
func (l *frameLimiter) allow(now time.Time) bool {
	cut := now.Add(-l.window)
	i := 0
	for i < len(l.hits) && !l.hits[i].After(cut) {
		i++
	}
	l.hits = append(l.hits[:0], l.hits[i:]...)

	if len(l.hits) >= l.limit {
		return false
	}
	l.hits = append(l.hits, now)
	return true
}
