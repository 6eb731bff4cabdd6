// Package telemetry collects in-process search metrics: volume, latency
// distribution and zero-result queries. Everything lives in memory; the
// numbers reset with the process.
package telemetry

import (
	"sync"
	"time"
)

// LatencyBucket classifies a query duration.
type LatencyBucket string

const (
	BucketUnder10ms  LatencyBucket = "p10"
	BucketUnder50ms  LatencyBucket = "p50"
	BucketUnder100ms LatencyBucket = "p100"
	BucketUnder500ms LatencyBucket = "p500"
	BucketOver500ms  LatencyBucket = "p1000"
)

// LatencyToBucket maps a duration to its bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch {
	case d < 10*time.Millisecond:
		return BucketUnder10ms
	case d < 50*time.Millisecond:
		return BucketUnder50ms
	case d < 100*time.Millisecond:
		return BucketUnder100ms
	case d < 500*time.Millisecond:
		return BucketUnder500ms
	default:
		return BucketOver500ms
	}
}

// QueryEvent describes one completed search.
type QueryEvent struct {
	Query     string
	Results   int
	Duration  time.Duration
	Reranked  bool
	Timestamp time.Time
}

// IsZeroResult reports whether the query returned nothing.
func (e QueryEvent) IsZeroResult() bool {
	return e.Results == 0
}

// CircularBuffer is a fixed-capacity ring that keeps the most recent items.
type CircularBuffer[T any] struct {
	items []T
	next  int
	full  bool
}

// NewCircularBuffer creates a buffer holding up to capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &CircularBuffer[T]{items: make([]T, capacity)}
}

// Add appends an item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.items[b.next] = item
	b.next++
	if b.next == len(b.items) {
		b.next = 0
		b.full = true
	}
}

// Items returns the buffered items oldest-first.
func (b *CircularBuffer[T]) Items() []T {
	if !b.full {
		out := make([]T, b.next)
		copy(out, b.items[:b.next])
		return out
	}
	out := make([]T, 0, len(b.items))
	out = append(out, b.items[b.next:]...)
	out = append(out, b.items[:b.next]...)
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	if b.full {
		return len(b.items)
	}
	return b.next
}

// Snapshot is a point-in-time view of the collected metrics.
type Snapshot struct {
	TotalQueries      int64                   `json:"total_queries"`
	ZeroResultQueries int64                   `json:"zero_result_queries"`
	RerankedQueries   int64                   `json:"reranked_queries"`
	AverageLatencyMs  float64                 `json:"average_latency_ms"`
	LatencyCounts     map[LatencyBucket]int64 `json:"latency_counts"`
	RecentZeroResult  []string                `json:"recent_zero_result,omitempty"`
}

// ZeroResultPercentage returns the share of queries with no results.
func (s Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultQueries) / float64(s.TotalQueries) * 100
}

const recentZeroResultCapacity = 20

// SearchMetrics accumulates query events. Safe for concurrent use.
type SearchMetrics struct {
	mu         sync.Mutex
	total      int64
	zero       int64
	reranked   int64
	latencySum time.Duration
	latency    map[LatencyBucket]int64
	recentZero *CircularBuffer[string]
}

// NewSearchMetrics creates an empty collector.
func NewSearchMetrics() *SearchMetrics {
	return &SearchMetrics{
		latency:    make(map[LatencyBucket]int64),
		recentZero: NewCircularBuffer[string](recentZeroResultCapacity),
	}
}

// Record adds one query event.
func (m *SearchMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.latencySum += event.Duration
	m.latency[LatencyToBucket(event.Duration)]++
	if event.Reranked {
		m.reranked++
	}
	if event.IsZeroResult() {
		m.zero++
		m.recentZero.Add(event.Query)
	}
}

// Snapshot returns a copy of the current metrics.
func (m *SearchMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[LatencyBucket]int64, len(m.latency))
	for bucket, count := range m.latency {
		counts[bucket] = count
	}

	avgMs := 0.0
	if m.total > 0 {
		avgMs = float64(m.latencySum.Milliseconds()) / float64(m.total)
	}

	return Snapshot{
		TotalQueries:      m.total,
		ZeroResultQueries: m.zero,
		RerankedQueries:   m.reranked,
		AverageLatencyMs:  avgMs,
		LatencyCounts:     counts,
		RecentZeroResult:  m.recentZero.Items(),
	}
}
