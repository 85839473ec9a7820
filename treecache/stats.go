package treecache

import (
	"sync/atomic"
	"time"
)

// Statistics tracks cache behaviour. Always collected; Prometheus export is
// optional on top of it.
type Statistics struct {
	hits        int64
	misses      int64
	fetches     int64
	fetchErrors int64
	puts        int64
	putErrors   int64

	startTime time.Time
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Hit records a read served from the cached tree inside its staleness budget.
func (s *Statistics) Hit() {
	atomic.AddInt64(&s.hits, 1)
}

// Miss records a read that found the cached tree stale.
func (s *Statistics) Miss() {
	atomic.AddInt64(&s.misses, 1)
}

// Fetch records a successful remote fetch.
func (s *Statistics) Fetch() {
	atomic.AddInt64(&s.fetches, 1)
}

// FetchError records a failed remote fetch.
func (s *Statistics) FetchError() {
	atomic.AddInt64(&s.fetchErrors, 1)
}

// Put records a successful write-through.
func (s *Statistics) Put() {
	atomic.AddInt64(&s.puts, 1)
}

// PutError records a failed write.
func (s *Statistics) PutError() {
	atomic.AddInt64(&s.putErrors, 1)
}

// Hits returns the total number of cache hits.
func (s *Statistics) Hits() int64 {
	return atomic.LoadInt64(&s.hits)
}

// Misses returns the total number of cache misses.
func (s *Statistics) Misses() int64 {
	return atomic.LoadInt64(&s.misses)
}

// Fetches returns the total number of successful remote fetches.
func (s *Statistics) Fetches() int64 {
	return atomic.LoadInt64(&s.fetches)
}

// FetchErrors returns the total number of failed remote fetches.
func (s *Statistics) FetchErrors() int64 {
	return atomic.LoadInt64(&s.fetchErrors)
}

// Puts returns the total number of successful writes.
func (s *Statistics) Puts() int64 {
	return atomic.LoadInt64(&s.puts)
}

// PutErrors returns the total number of failed writes.
func (s *Statistics) PutErrors() int64 {
	return atomic.LoadInt64(&s.putErrors)
}

// HitRatio returns the cache hit ratio (0.0 to 1.0).
func (s *Statistics) HitRatio() float64 {
	hits := s.Hits()
	total := hits + s.Misses()
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

// StatsSummary is a snapshot of all statistics.
type StatsSummary struct {
	Hits        int64         `json:"hits"`
	Misses      int64         `json:"misses"`
	Fetches     int64         `json:"fetches"`
	FetchErrors int64         `json:"fetch_errors"`
	Puts        int64         `json:"puts"`
	PutErrors   int64         `json:"put_errors"`
	HitRatio    float64       `json:"hit_ratio"`
	Uptime      time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Hits:        s.Hits(),
		Misses:      s.Misses(),
		Fetches:     s.Fetches(),
		FetchErrors: s.FetchErrors(),
		Puts:        s.Puts(),
		PutErrors:   s.PutErrors(),
		HitRatio:    s.HitRatio(),
		Uptime:      time.Since(s.startTime),
	}
}
