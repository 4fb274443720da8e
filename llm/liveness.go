package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultLivenessTTL is how long a probe result is reused.
const DefaultLivenessTTL = 30 * time.Second

// Liveness caches a Prober's answer for a TTL so that many experts sharing
// one backend trigger at most one probe per window. Concurrent callers
// during a probe wait for its result instead of probing again.
//
// The probe runs detached from the caller's cancellation, bounded by its own
// timeout, so one abandoned request cannot mark the backend down for
// everyone else. A waiting caller whose context ends gets false without
// affecting the cached answer.
type Liveness struct {
	probe   Prober
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	checked  time.Time
	up       bool
	valid    bool
	inflight chan struct{}
}

// NewLiveness wraps p. A ttl <= 0 uses DefaultLivenessTTL.
func NewLiveness(p Prober, ttl time.Duration) *Liveness {
	if ttl <= 0 {
		ttl = DefaultLivenessTTL
	}
	return &Liveness{probe: p, ttl: ttl, timeout: probeTimeout, now: time.Now}
}

// Available returns the cached result or probes when it has expired.
func (l *Liveness) Available(ctx context.Context) bool {
	l.mu.Lock()
	if l.valid && l.now().Sub(l.checked) < l.ttl {
		up := l.up
		l.mu.Unlock()
		return up
	}
	done := l.inflight
	if done == nil {
		done = make(chan struct{})
		l.inflight = done
		go l.run(context.WithoutCancel(ctx), done)
	}
	l.mu.Unlock()

	select {
	case <-done:
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.up
	case <-ctx.Done():
		return false
	}
}

func (l *Liveness) run(ctx context.Context, done chan struct{}) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	up := l.probe.Available(ctx)

	l.mu.Lock()
	l.up = up
	l.checked = l.now()
	l.valid = true
	l.inflight = nil
	close(done)
	l.mu.Unlock()
	slog.Debug("llm: liveness probed", "available", up, "ttl", l.ttl)
}

// Invalidate forces the next call to probe.
func (l *Liveness) Invalidate() {
	l.mu.Lock()
	l.valid = false
	l.mu.Unlock()
}
