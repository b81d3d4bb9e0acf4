package vfs

import (
	"sync"
	"time"
)

// adaptiveTimeout is the process-wide wait-for-block bound used by every
// File.Read. It starts at 4ms and is nudged within [2, 20]ms based on how
// each wait actually went — the same tuning the original C++ shim applies to
// its single global g_adaptive_timeout_ms, kept here as one value shared by
// every open file rather than per-file, since it approximates one property
// of the underlying network link.
type adaptiveTimeout struct {
	mu sync.Mutex
	ms int
}

const initTimeoutMs = 4

var (
	minTimeoutMs = 2
	maxTimeoutMs = 20

	sharedTimeout = &adaptiveTimeout{ms: initTimeoutMs}
)

// ConfigureTimeoutBounds overrides the adaptive timeout's [min, max] bounds,
// normally sourced from config.CacheConfig. Intended to be called once at
// startup before any File.Read runs.
func ConfigureTimeoutBounds(minMs, maxMs int) {
	sharedTimeout.mu.Lock()
	defer sharedTimeout.mu.Unlock()
	minTimeoutMs = minMs
	maxTimeoutMs = maxMs
	if sharedTimeout.ms < minTimeoutMs {
		sharedTimeout.ms = minTimeoutMs
	}
	if sharedTimeout.ms > maxTimeoutMs {
		sharedTimeout.ms = maxTimeoutMs
	}
}

func (t *adaptiveTimeout) current() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Duration(t.ms) * time.Millisecond
}

// recordFastWait shortens the timeout by 1ms if the wait that just succeeded
// took under half the budget and there's room to shrink.
func (t *adaptiveTimeout) recordFastWait(elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if elapsed < time.Duration(t.ms)*time.Millisecond/2 && t.ms > minTimeoutMs {
		t.ms--
	}
}

// recordTimeout lengthens the timeout by 2ms, bounded to maxTimeoutMs.
func (t *adaptiveTimeout) recordTimeout() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ms += 2
	if t.ms > maxTimeoutMs {
		t.ms = maxTimeoutMs
	}
}
