// Package telemetry provides local performance and query analytics for the
// search engine. All data stays in memory on this machine - no external
// reporting. Budget breaches are counted for the health snapshot only; the
// federation deadline is the enforcement mechanism.
package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// =============================================================================
// Operations and Outcomes
// =============================================================================

// Op names an instrumented operation.
type Op string

const (
	OpSearch     Op = "search"
	OpFederation Op = "federation"
	OpIndex      Op = "index"
	OpCommit     Op = "commit"
)

// Outcome classifies how an operation finished.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // Next write position
	size     int // Current number of items
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a new circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity

	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items in the buffer in FIFO order (oldest first).
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}

	result := make([]T, b.size)
	if b.size < b.capacity {
		// Buffer not full - items start at 0
		copy(result, b.items[:b.size])
	} else {
		// Buffer full - oldest item is at head
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// =============================================================================
// Metrics Types
// =============================================================================

// OpMetrics aggregates timings for one operation.
type OpMetrics struct {
	Count    int64   `json:"count"`
	Errors   int64   `json:"errors"`
	Timeouts int64   `json:"timeouts"`
	AvgMS    float64 `json:"avg_ms"`
	MaxMS    int64   `json:"max_ms"`
}

// QueryCount is a query string and how often it was searched.
type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// PerformanceMetrics is an immutable snapshot of the monitor state.
type PerformanceMetrics struct {
	PerOp               map[Op]OpMetrics        `json:"per_op"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	BudgetBreaches      int64                   `json:"budget_breaches"`
	TotalSearches       int64                   `json:"total_searches"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	PopularQueries      []QueryCount            `json:"popular_queries"`
	Since               time.Time               `json:"since"`
}

// ErrorRate returns the fraction of search operations that failed.
func (m *PerformanceMetrics) ErrorRate() float64 {
	op, ok := m.PerOp[OpSearch]
	if !ok || op.Count == 0 {
		return 0
	}
	return float64(op.Errors) / float64(op.Count)
}

// AvgSearchLatencyMS returns the mean search latency in milliseconds.
func (m *PerformanceMetrics) AvgSearchLatencyMS() float64 {
	op, ok := m.PerOp[OpSearch]
	if !ok {
		return 0
	}
	return op.AvgMS
}

// =============================================================================
// Monitor
// =============================================================================

type opStats struct {
	count    int64
	errors   int64
	timeouts int64
	totalNS  int64
	maxNS    int64
}

// Monitor collects operation timings and query analytics. Thread-safe.
type Monitor struct {
	mu sync.RWMutex

	target    time.Duration // response-time target; 0 disables breach counting
	analytics bool

	ops       map[Op]*opStats
	latencies map[LatencyBucket]int64
	breaches  int64
	startTime time.Time

	totalSearches   int64
	zeroResultCount int64
	zeroResults     *CircularBuffer[string]

	// recent is the suggestion ring: most recently searched query strings.
	recent  *lru.Cache[string, time.Time]
	popular *lru.Cache[string, int64]
}

// NewMonitor creates a monitor. target is the per-search response-time
// budget; analytics enables query-pattern tracking (popular queries,
// zero-result ring). The suggestion ring is always maintained.
func NewMonitor(target time.Duration, analytics bool) *Monitor {
	recent, _ := lru.New[string, time.Time](200)
	popular, _ := lru.New[string, int64](100)
	return &Monitor{
		target:    target,
		analytics: analytics,
		ops:       make(map[Op]*opStats),
		latencies: make(map[LatencyBucket]int64),
		startTime: time.Now().UTC(),
		zeroResults: NewCircularBuffer[string](100),
		recent:    recent,
		popular:   popular,
	}
}

// Record captures one operation timing.
func (m *Monitor) Record(op Op, elapsed time.Duration, outcome Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.ops[op]
	if !ok {
		s = &opStats{}
		m.ops[op] = s
	}
	s.count++
	s.totalNS += elapsed.Nanoseconds()
	if elapsed.Nanoseconds() > s.maxNS {
		s.maxNS = elapsed.Nanoseconds()
	}
	switch outcome {
	case OutcomeError:
		s.errors++
	case OutcomeTimeout:
		s.timeouts++
	}

	if op == OpSearch {
		m.latencies[LatencyToBucket(elapsed)]++
		if m.target > 0 && elapsed > m.target {
			m.breaches++
		}
	}
}

// RecordSearch captures one user-facing search: the operation timing plus
// the query analytics behind suggestions and popular-query reporting.
func (m *Monitor) RecordSearch(query string, resultCount int, elapsed time.Duration, outcome Outcome) {
	m.Record(OpSearch, elapsed, outcome)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalSearches++
	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return
	}
	m.recent.Add(normalized, time.Now().UTC())

	if !m.analytics {
		return
	}
	count, _ := m.popular.Get(normalized)
	m.popular.Add(normalized, count+1)
	if resultCount == 0 && outcome == OutcomeOK {
		m.zeroResults.Add(query)
		m.zeroResultCount++
	}
}

// RecentQueries returns the suggestion ring, most recent last.
func (m *Monitor) RecentQueries() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recent.Keys()
}

// Snapshot returns current metrics for reporting.
func (m *Monitor) Snapshot() *PerformanceMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	perOp := make(map[Op]OpMetrics, len(m.ops))
	for op, s := range m.ops {
		metrics := OpMetrics{
			Count:    s.count,
			Errors:   s.errors,
			Timeouts: s.timeouts,
			MaxMS:    s.maxNS / int64(time.Millisecond),
		}
		if s.count > 0 {
			metrics.AvgMS = float64(s.totalNS) / float64(s.count) / float64(time.Millisecond)
		}
		perOp[op] = metrics
	}

	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	var popular []QueryCount
	for _, q := range m.popular.Keys() {
		if count, ok := m.popular.Peek(q); ok {
			popular = append(popular, QueryCount{Query: q, Count: count})
		}
	}
	sort.Slice(popular, func(i, j int) bool {
		if popular[i].Count != popular[j].Count {
			return popular[i].Count > popular[j].Count
		}
		return popular[i].Query < popular[j].Query
	})

	return &PerformanceMetrics{
		PerOp:               perOp,
		LatencyDistribution: latencies,
		BudgetBreaches:      m.breaches,
		TotalSearches:       m.totalSearches,
		ZeroResultCount:     m.zeroResultCount,
		ZeroResultQueries:   m.zeroResults.Items(),
		PopularQueries:      popular,
		Since:               m.startTime,
	}
}
