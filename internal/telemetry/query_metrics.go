// Package telemetry collects local query-pattern metrics: which query
// types callers ask, which terms recur, which queries come back empty, and
// how long the pipeline takes. Everything stays on disk next to the other
// engine state - nothing is reported externally.
package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/loreweave/loreweave/internal/search"
	"github.com/loreweave/loreweave/internal/store"
)

// LatencyBucket is a histogram bucket for query wall time.
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

// ZeroResult is one query that returned no evidence.
type ZeroResult struct {
	Query string
	Type  search.QueryType
	At    time.Time
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends an item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}
	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear removes all items.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// ExtractTerms extracts trackable terms from a query: tokenized and
// stop-word filtered the same way the search path tokenizes text, so the
// term report speaks the corpus's vocabulary.
var corpusStopWords = store.BuildStopWordMap(store.DefaultStopWords)

func ExtractTerms(query string) []string {
	terms := store.FilterStopWords(store.Tokenize(query), corpusStopWords)
	if len(terms) == 0 {
		return nil
	}
	return terms
}

// TermCount is a term and its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is an immutable view of collected metrics.
type Snapshot struct {
	TypeCounts          map[search.QueryType]int64 `json:"type_counts"`
	StrategyCounts      map[string]int64           `json:"strategy_counts"`
	TopTerms            []TermCount                `json:"top_terms"`
	ZeroResultQueries   []string                   `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64    `json:"latency_distribution"`
	TotalQueries        int64                      `json:"total_queries"`
	ZeroResultCount     int64                      `json:"zero_result_count"`
	ExactRepeatCount    int64                      `json:"exact_repeat_count"`
	ExactRepeatRate     float64                    `json:"exact_repeat_rate"`
	UniqueQueryCount    int64                      `json:"unique_query_count"`
	Since               time.Time                  `json:"since"`
}

// ZeroResultPercentage returns the share of zero-result queries.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Summary renders a one-line overview for status surfaces.
func (s *Snapshot) Summary() string {
	if s.TotalQueries == 0 {
		return "no queries recorded"
	}
	return fmt.Sprintf("queries=%d zero_results=%.1f%% exact_repeats=%.1f%%",
		s.TotalQueries, s.ZeroResultPercentage(), s.ExactRepeatRate*100)
}

// MetricsStore persists collected metrics. Daily aggregates accumulate
// across flushes; the collector hands over deltas only.
type MetricsStore interface {
	SaveTypeCounts(date string, counts map[string]int64) error
	SaveStrategyCounts(date string, counts map[string]int64) error
	UpsertTermCounts(terms map[string]int64) error
	TopTerms(limit int) ([]TermCount, error)
	AddZeroResults(events []ZeroResult) error
	RecentZeroResults(limit int) ([]string, error)
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	TypeCounts(from, to string) (map[string]int64, error)
	LatencyCounts(from, to string) (map[LatencyBucket]int64, error)
	Close() error
}

// Config tunes the collector.
type Config struct {
	TopTermsCapacity      int           // max distinct terms tracked (default 100)
	ZeroResultsCapacity   int           // max buffered zero-result queries (default 100)
	RecentQueriesCapacity int           // repeat-detection window (default 500)
	FlushInterval         time.Duration // 0 disables auto-flush
}

// DefaultConfig returns collector defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         60 * time.Second,
	}
}

// Collector aggregates per-query records in memory and periodically
// flushes deltas to the store. It implements search.MetricsRecorder, so
// the engine can record without knowing about persistence.
type Collector struct {
	mu sync.RWMutex

	typeCounts      map[search.QueryType]int64
	strategyCounts  map[string]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[ZeroResult]
	latencies       map[LatencyBucket]int64
	totalQueries    int64
	zeroResultCount int64
	startTime       time.Time

	recentQueries    *lru.Cache[string, struct{}]
	exactRepeatCount int64

	// Deltas accumulated since the last flush.
	pendingTypes      map[string]int64
	pendingStrategies map[string]int64
	pendingTerms      map[string]int64
	pendingLatencies  map[LatencyBucket]int64
	pendingZero       []ZeroResult

	store       MetricsStore
	config      Config
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

var _ search.MetricsRecorder = (*Collector)(nil)

// NewCollector creates a collector with default configuration. A nil
// store keeps metrics in memory only.
func NewCollector(store MetricsStore) *Collector {
	return NewCollectorWithConfig(store, DefaultConfig())
}

// NewCollectorWithConfig creates a collector with custom configuration.
func NewCollectorWithConfig(metricsStore MetricsStore, cfg Config) *Collector {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = 500
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	c := &Collector{
		typeCounts:        make(map[search.QueryType]int64),
		strategyCounts:    make(map[string]int64),
		topTerms:          topTerms,
		zeroResults:       NewCircularBuffer[ZeroResult](cfg.ZeroResultsCapacity),
		latencies:         make(map[LatencyBucket]int64),
		startTime:         time.Now(),
		recentQueries:     recentQueries,
		pendingTypes:      make(map[string]int64),
		pendingStrategies: make(map[string]int64),
		pendingTerms:      make(map[string]int64),
		pendingLatencies:  make(map[LatencyBucket]int64),
		store:             metricsStore,
		config:            cfg,
		stopCh:            make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && metricsStore != nil {
		c.flushTicker = time.NewTicker(cfg.FlushInterval)
		go c.flushLoop()
	}
	return c
}

func (c *Collector) flushLoop() {
	for {
		select {
		case <-c.flushTicker.C:
			_ = c.Flush()
		case <-c.stopCh:
			return
		}
	}
}

// RecordQuery captures one completed query. Thread-safe, non-blocking.
func (c *Collector) RecordQuery(_ context.Context, rec search.QueryRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.typeCounts[rec.Type]++
	c.pendingTypes[string(rec.Type)]++
	c.totalQueries++

	for _, strategy := range rec.Strategies {
		c.strategyCounts[strategy]++
		c.pendingStrategies[strategy]++
	}

	for _, term := range ExtractTerms(rec.Query) {
		count, _ := c.topTerms.Get(term)
		c.topTerms.Add(term, count+1)
		c.pendingTerms[term]++
	}

	if rec.ResultCount == 0 {
		event := ZeroResult{Query: rec.Query, Type: rec.Type, At: time.Now()}
		c.zeroResults.Add(event)
		c.pendingZero = append(c.pendingZero, event)
		c.zeroResultCount++
	}

	bucket := LatencyToBucket(rec.Duration)
	c.latencies[bucket]++
	c.pendingLatencies[bucket]++

	hash := hashQuery(rec.Query)
	if _, seen := c.recentQueries.Get(hash); seen {
		c.exactRepeatCount++
	}
	c.recentQueries.Add(hash, struct{}{})
}

// hashQuery normalizes and hashes a query for repeat detection.
func hashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

// Snapshot returns the current metrics for reporting.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	typeCounts := make(map[search.QueryType]int64, len(c.typeCounts))
	for k, v := range c.typeCounts {
		typeCounts[k] = v
	}
	strategyCounts := make(map[string]int64, len(c.strategyCounts))
	for k, v := range c.strategyCounts {
		strategyCounts[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(c.latencies))
	for k, v := range c.latencies {
		latencies[k] = v
	}

	var topTerms []TermCount
	for _, key := range c.topTerms.Keys() {
		if count, ok := c.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(topTerms, func(i, j int) bool {
		if topTerms[i].Count != topTerms[j].Count {
			return topTerms[i].Count > topTerms[j].Count
		}
		return topTerms[i].Term < topTerms[j].Term
	})

	var zeroQueries []string
	for _, event := range c.zeroResults.Items() {
		zeroQueries = append(zeroQueries, event.Query)
	}

	var exactRepeatRate float64
	if c.totalQueries > 0 {
		exactRepeatRate = float64(c.exactRepeatCount) / float64(c.totalQueries)
	}

	return &Snapshot{
		TypeCounts:          typeCounts,
		StrategyCounts:      strategyCounts,
		TopTerms:            topTerms,
		ZeroResultQueries:   zeroQueries,
		LatencyDistribution: latencies,
		TotalQueries:        c.totalQueries,
		ZeroResultCount:     c.zeroResultCount,
		ExactRepeatCount:    c.exactRepeatCount,
		ExactRepeatRate:     exactRepeatRate,
		UniqueQueryCount:    int64(c.recentQueries.Len()),
		Since:               c.startTime,
	}
}

// Flush persists the deltas accumulated since the previous flush. Safe
// without a store.
func (c *Collector) Flush() error {
	if c.store == nil {
		return nil
	}

	c.mu.Lock()
	types := c.pendingTypes
	strategies := c.pendingStrategies
	terms := c.pendingTerms
	latencies := c.pendingLatencies
	zero := c.pendingZero
	c.pendingTypes = make(map[string]int64)
	c.pendingStrategies = make(map[string]int64)
	c.pendingTerms = make(map[string]int64)
	c.pendingLatencies = make(map[LatencyBucket]int64)
	c.pendingZero = nil
	c.mu.Unlock()

	today := time.Now().Format("2006-01-02")

	if err := c.store.SaveTypeCounts(today, types); err != nil {
		return err
	}
	if err := c.store.SaveStrategyCounts(today, strategies); err != nil {
		return err
	}
	if err := c.store.UpsertTermCounts(terms); err != nil {
		return err
	}
	if err := c.store.AddZeroResults(zero); err != nil {
		return err
	}
	return c.store.SaveLatencyCounts(today, latencies)
}

// Close flushes and stops the collector.
func (c *Collector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.flushTicker != nil {
		c.flushTicker.Stop()
		close(c.stopCh)
	}
	return c.Flush()
}
