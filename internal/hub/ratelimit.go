package hub

import (
	"sync"
	"time"
)

// connectionLimiter bounds connection attempts per source address within a
// rolling window. It tracks attempts, not open connections: a client that
// churns reconnects is refused even if it never holds more than one socket.
type connectionLimiter struct {
	mu        sync.Mutex
	attempts  map[string][]time.Time
	limit     int
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newConnectionLimiter(limit int, window time.Duration) *connectionLimiter {
	return &connectionLimiter{
		attempts: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// allow records an attempt from addr and reports whether it is within the
// window limit. At most once per window it also prunes addresses whose
// attempts have all rolled off, so the map stays bounded by active sources.
func (l *connectionLimiter) allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	if now.Sub(l.lastSweep) >= l.window {
		l.sweepLocked(cutoff)
		l.lastSweep = now
	}

	recent := l.attempts[addr][:0]
	for _, at := range l.attempts[addr] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	if len(recent) >= l.limit {
		l.attempts[addr] = recent
		return false
	}
	l.attempts[addr] = append(recent, now)
	return true
}

// sweep drops addresses with no attempts inside the window.
func (l *connectionLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(l.now().Add(-l.window))
}

func (l *connectionLimiter) sweepLocked(cutoff time.Time) {
	for addr, attempts := range l.attempts {
		live := attempts[:0]
		for _, at := range attempts {
			if at.After(cutoff) {
				live = append(live, at)
			}
		}
		if len(live) == 0 {
			delete(l.attempts, addr)
			continue
		}
		l.attempts[addr] = live
	}
}
