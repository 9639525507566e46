package backend

import (
	"sync"
	"time"
)

// throttle enforces a per-endpoint burst limit before any bytes leave
// the device. Each endpoint gets its own fixed window; exceeding the
// burst inside a window rejects locally. An endpoint idle for longer
// than idleReset starts over with a clean window.
type throttle struct {
	mu        sync.Mutex
	burst     int
	window    time.Duration
	idleReset time.Duration
	endpoints map[string]*endpointWindow
	now       func() time.Time
}

type endpointWindow struct {
	windowStart time.Time
	count       int
	lastRequest time.Time
}

func newThrottle(burst int, window, idleReset time.Duration, now func() time.Time) *throttle {
	if burst <= 0 {
		burst = 10
	}
	if window <= 0 {
		window = time.Second
	}
	if idleReset <= 0 {
		idleReset = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &throttle{
		burst:     burst,
		window:    window,
		idleReset: idleReset,
		endpoints: make(map[string]*endpointWindow),
		now:       now,
	}
}

// allow reports whether a request to endpoint may proceed now.
func (t *throttle) allow(endpoint string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	w, ok := t.endpoints[endpoint]
	if !ok || now.Sub(w.lastRequest) >= t.idleReset {
		w = &endpointWindow{windowStart: now}
		t.endpoints[endpoint] = w
	}

	if now.Sub(w.windowStart) >= t.window {
		w.windowStart = now
		w.count = 0
	}

	w.lastRequest = now
	if w.count >= t.burst {
		return false
	}
	w.count++
	return true
}
