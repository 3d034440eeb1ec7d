// Package metrics provides latency tracking with percentile calculations.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a sliding window of recent latencies.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []int64 // microseconds, ring buffer
	next    int
	full    bool
}

// newLatencyTracker creates a tracker that keeps the last windowSize samples.
func newLatencyTracker(windowSize int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &LatencyTracker{samples: make([]int64, windowSize)}
}

// Record records a latency measurement.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	lt.samples[lt.next] = d.Microseconds()
	lt.next++
	if lt.next == len(lt.samples) {
		lt.next = 0
		lt.full = true
	}
}

// Stats returns latency statistics including percentiles.
func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.Lock()
	n := lt.next
	if lt.full {
		n = len(lt.samples)
	}
	sorted := make([]int64, n)
	copy(sorted, lt.samples[:n])
	lt.mu.Unlock()

	if n == 0 {
		return LatencyStats{}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, v := range sorted {
		sum += v
	}
	pct := func(p float64) time.Duration {
		return time.Duration(sorted[int(float64(n-1)*p)]) * time.Microsecond
	}

	return LatencyStats{
		Count: int64(n),
		Min:   time.Duration(sorted[0]) * time.Microsecond,
		Max:   time.Duration(sorted[n-1]) * time.Microsecond,
		Avg:   time.Duration(sum/int64(n)) * time.Microsecond,
		P50:   pct(0.50),
		P90:   pct(0.90),
		P95:   pct(0.95),
		P99:   pct(0.99),
	}
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count int64         `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
	P50   time.Duration `json:"p50"`
	P90   time.Duration `json:"p90"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

// millis converts stats to milliseconds for JSON responses.
func (s LatencyStats) millis() map[string]any {
	return map[string]any{
		"count":  s.Count,
		"min_ms": float64(s.Min.Microseconds()) / 1000,
		"max_ms": float64(s.Max.Microseconds()) / 1000,
		"avg_ms": float64(s.Avg.Microseconds()) / 1000,
		"p50_ms": float64(s.P50.Microseconds()) / 1000,
		"p90_ms": float64(s.P90.Microseconds()) / 1000,
		"p95_ms": float64(s.P95.Microseconds()) / 1000,
		"p99_ms": float64(s.P99.Microseconds()) / 1000,
	}
}

// LatencyRegistry manages latency trackers and outcome counters per endpoint.
type LatencyRegistry struct {
	mu       sync.RWMutex
	trackers map[string]*LatencyTracker
	outcomes map[string]map[string]int64
	window   int
}

// NewLatencyRegistry creates a new latency registry.
func NewLatencyRegistry(windowSize int) *LatencyRegistry {
	return &LatencyRegistry{
		trackers: make(map[string]*LatencyTracker),
		outcomes: make(map[string]map[string]int64),
		window:   windowSize,
	}
}

// Record records a latency and an outcome label for the given endpoint.
func (r *LatencyRegistry) Record(endpoint, outcome string, d time.Duration) {
	r.mu.Lock()
	tracker, ok := r.trackers[endpoint]
	if !ok {
		tracker = newLatencyTracker(r.window)
		r.trackers[endpoint] = tracker
		r.outcomes[endpoint] = make(map[string]int64)
	}
	if outcome != "" {
		r.outcomes[endpoint][outcome]++
	}
	r.mu.Unlock()

	tracker.Record(d)
}

// EndpointStats is the snapshot for one endpoint.
type EndpointStats struct {
	Latency  map[string]any   `json:"latency"`
	Outcomes map[string]int64 `json:"outcomes"`
}

// AllStats returns a snapshot for every endpoint.
func (r *LatencyRegistry) AllStats() map[string]EndpointStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]EndpointStats, len(r.trackers))
	for name, tracker := range r.trackers {
		outcomes := make(map[string]int64, len(r.outcomes[name]))
		for k, v := range r.outcomes[name] {
			outcomes[k] = v
		}
		result[name] = EndpointStats{Latency: tracker.Stats().millis(), Outcomes: outcomes}
	}
	return result
}
