// Package metrics keeps in-process latency and connection pool statistics for the
// operator metrics endpoint.
package metrics

import (
	"sort"
	"sync"
	"time"
)

const defaultWindow = 1000

// LatencyTracker keeps the most recent samples in a ring buffer.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
	count   int64
}

func NewLatencyTracker(window int) *LatencyTracker {
	if window <= 0 {
		window = defaultWindow
	}
	return &LatencyTracker{samples: make([]time.Duration, window)}
}

func (t *LatencyTracker) Record(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples[t.next] = d
	t.next = (t.next + 1) % len(t.samples)
	if t.next == 0 {
		t.full = true
	}
	t.count++
}

// LatencyStats summarizes the current window. Count is the lifetime total.
type LatencyStats struct {
	Count   int64   `json:"count"`
	Samples int     `json:"samples"`
	AvgMS   float64 `json:"avg_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	P99MS   float64 `json:"p99_ms"`
	MaxMS   float64 `json:"max_ms"`
}

func (t *LatencyTracker) Stats() LatencyStats {
	t.mu.Lock()
	n := t.next
	if t.full {
		n = len(t.samples)
	}
	window := make([]time.Duration, n)
	copy(window, t.samples[:n])
	count := t.count
	t.mu.Unlock()

	if n == 0 {
		return LatencyStats{Count: count}
	}
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

	var sum time.Duration
	for _, d := range window {
		sum += d
	}
	return LatencyStats{
		Count:   count,
		Samples: n,
		AvgMS:   ms(sum / time.Duration(n)),
		P50MS:   ms(percentile(window, 0.50)),
		P95MS:   ms(percentile(window, 0.95)),
		P99MS:   ms(percentile(window, 0.99)),
		MaxMS:   ms(window[n-1]),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	return sorted[int(float64(len(sorted)-1)*p)]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

// LatencyRegistry holds one tracker per key, usually "METHOD route".
type LatencyRegistry struct {
	mu       sync.RWMutex
	trackers map[string]*LatencyTracker
	window   int
}

func NewLatencyRegistry(window int) *LatencyRegistry {
	return &LatencyRegistry{trackers: make(map[string]*LatencyTracker), window: window}
}

func (r *LatencyRegistry) Record(key string, d time.Duration) {
	r.mu.RLock()
	t, ok := r.trackers[key]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		if t, ok = r.trackers[key]; !ok {
			t = NewLatencyTracker(r.window)
			r.trackers[key] = t
		}
		r.mu.Unlock()
	}
	t.Record(d)
}

func (r *LatencyRegistry) All() map[string]LatencyStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]LatencyStats, len(r.trackers))
	for k, t := range r.trackers {
		out[k] = t.Stats()
	}
	return out
}

var global = NewLatencyRegistry(defaultWindow)

func RecordLatency(key string, d time.Duration) { global.Record(key, d) }

func AllLatencies() map[string]LatencyStats { return global.All() }
