// Package treecache caches the JSON parameter subtree of one remote adapter
// prefix. Reads are served from the cached tree inside a caller-supplied
// staleness budget; stale reads trigger a single-flight refresh shared by all
// concurrent callers. Writes go through to the server and patch the returned
// value into the cached tree so the next read observes it without a round
// trip.
package treecache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DiamondLightSource/odinmirror/errors"
	"github.com/DiamondLightSource/odinmirror/metric"
)

// Fetcher is the remote capability consumed by the cache: GET a subtree as
// JSON and PUT a scalar value, both addressed by slash-separated URIs.
type Fetcher interface {
	Get(ctx context.Context, uri string) (map[string]any, error)
	Put(ctx context.Context, uri string, value any) (map[string]any, error)
}

// flight tracks one in-flight remote fetch. The done channel closes when the
// fetch completes, after err has been recorded, so every waiter observes the
// result of that single fetch.
type flight struct {
	done chan struct{}
	err  error
}

// Cache is the subtree cache for one remote prefix. One instance exists per
// adapter prefix, shared by every leaf bound under that prefix, and owns the
// only in-flight fetch for the prefix at any time.
//
// Put patches the cached tree without coordinating with a concurrently
// in-flight refresh; a reader can observe a tree that a refresh is replacing
// while a write patches it. Both mutations hold the tree mutex so this is
// not a data race, but the ordering between the two is deliberately
// unspecified, matching the server-confirmed write-through semantics.
type Cache struct {
	prefix  string
	fetcher Fetcher

	mu         sync.RWMutex // guards tree and lastUpdate
	tree       map[string]any
	lastUpdate time.Time

	flightMu sync.Mutex
	flight   *flight // non-nil while a fetch is in flight; the refresh gate

	timer       *requestTimer
	timerWindow int
	stats       *Statistics
	log         *slog.Logger
	metrics     *metric.Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger for refresh and write failures.
func WithLogger(log *slog.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics exposes fetch latency and hit/miss counters on the registry's
// core metrics. If registry is nil the option is ignored.
func WithMetrics(registry *metric.Registry) Option {
	return func(c *Cache) {
		if registry != nil {
			c.metrics = registry.CoreMetrics()
		}
	}
}

// WithTimerWindow sets the rolling window size of the request timer.
func WithTimerWindow(samples int) Option {
	return func(c *Cache) {
		if samples > 0 {
			c.timerWindow = samples
		}
	}
}

// New creates a Cache owning the given remote prefix.
func New(prefix string, fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		prefix:      prefix,
		fetcher:     fetcher,
		tree:        make(map[string]any),
		stats:       NewStatistics(),
		log:         slog.Default(),
		timerWindow: defaultTimerWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.timer = newRequestTimer(prefix, c.timerWindow, c.log)
	return c
}

// Prefix returns the remote URI prefix owned by this cache.
func (c *Cache) Prefix() string {
	return c.prefix
}

// Stats returns the cache statistics.
func (c *Cache) Stats() *Statistics {
	return c.stats
}

// Get returns the value at the slash-separated path relative to the cache
// prefix, refreshing the cached subtree first if it is older than ttl. A ttl
// of zero (or negative) always refreshes. Concurrent calls during a refresh
// share that single fetch; a failed fetch propagates its error to every
// waiter. A path missing from the fetched tree fails that call only.
func (c *Cache) Get(ctx context.Context, path string, ttl time.Duration) (any, error) {
	if c.stale(ttl) {
		c.stats.Miss()
		if c.metrics != nil {
			c.metrics.CacheMiss.WithLabelValues(c.prefix).Inc()
		}
		if err := c.refresh(ctx); err != nil {
			return nil, err
		}
	} else {
		c.stats.Hit()
		if c.metrics != nil {
			c.metrics.CacheHits.WithLabelValues(c.prefix).Inc()
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	value, err := resolveValue(strings.Split(path, "/"), c.tree)
	if err != nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %s/%s", errors.ErrLookupFailed, c.prefix, path),
			"Cache", "Get", "resolve path")
	}
	return value, nil
}

// Put writes value to the server at prefix/path and patches the value the
// server reports back into the cached tree at the same path, so a read
// before the next refresh observes the just-written value.
func (c *Cache) Put(ctx context.Context, path string, value any) error {
	response, err := c.fetcher.Put(ctx, c.prefix+"/"+path, value)
	if err != nil {
		c.stats.PutError()
		if c.metrics != nil {
			c.metrics.PutsTotal.WithLabelValues(c.prefix, "error").Inc()
		}
		c.log.Error("Put failed", "prefix", c.prefix, "path", path, "value", value, "error", err)
		return err
	}

	if message, found := response["error"]; found {
		err := errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrAdapterResponse, message),
			"Cache", "Put", "write "+path)
		c.stats.PutError()
		if c.metrics != nil {
			c.metrics.PutsTotal.WithLabelValues(c.prefix, "error").Inc()
		}
		c.log.Error("Put rejected by adapter", "prefix", c.prefix, "path", path, "error", err)
		return err
	}

	elems := strings.Split(path, "/")
	confirmed, found := response[elems[len(elems)-1]]
	if !found {
		// Server did not echo the parameter; trust the submitted value.
		confirmed = value
	}

	c.mu.Lock()
	patchErr := updateValue(elems, confirmed, c.tree)
	c.mu.Unlock()
	if patchErr != nil {
		return errors.WrapFatal(
			fmt.Errorf("%w: %s/%s", errors.ErrLookupFailed, c.prefix, path),
			"Cache", "Put", "patch cached tree")
	}

	c.stats.Put()
	if c.metrics != nil {
		c.metrics.PutsTotal.WithLabelValues(c.prefix, "success").Inc()
	}
	return nil
}

// stale reports whether the cached tree is outside the staleness budget.
func (c *Cache) stale(ttl time.Duration) bool {
	if ttl <= 0 {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate.IsZero() || time.Since(c.lastUpdate) > ttl
}

// refresh fetches the subtree once, coalescing concurrent callers onto the
// same flight. The gate reopens whatever the fetch outcome.
func (c *Cache) refresh(ctx context.Context) error {
	c.flightMu.Lock()
	if inFlight := c.flight; inFlight != nil {
		c.flightMu.Unlock()
		select {
		case <-inFlight.done:
			return inFlight.err
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Cache", "Get", "wait for in-flight fetch")
		}
	}

	current := &flight{done: make(chan struct{})}
	c.flight = current
	c.flightMu.Unlock()

	defer func() {
		c.flightMu.Lock()
		c.flight = nil
		c.flightMu.Unlock()
		close(current.done)
	}()

	current.err = c.fetch(ctx)
	return current.err
}

// fetch performs the remote fetch and swaps in the new tree on success.
func (c *Cache) fetch(ctx context.Context) error {
	start := time.Now()
	response, err := c.fetcher.Get(ctx, c.prefix)
	elapsed := time.Since(start)
	c.timer.Observe(elapsed)
	if c.metrics != nil {
		c.metrics.FetchDuration.WithLabelValues(c.prefix).Observe(elapsed.Seconds())
	}

	if err != nil {
		c.stats.FetchError()
		if c.metrics != nil {
			c.metrics.FetchesTotal.WithLabelValues(c.prefix, "error").Inc()
		}
		c.log.Error("Subtree refresh failed", "prefix", c.prefix, "error", err)
		return err
	}

	if message, found := response["error"]; found {
		refreshErr := errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrAdapterResponse, message),
			"Cache", "Get", "refresh subtree")
		c.stats.FetchError()
		if c.metrics != nil {
			c.metrics.FetchesTotal.WithLabelValues(c.prefix, "error").Inc()
		}
		c.log.Error("Subtree refresh rejected by adapter", "prefix", c.prefix, "error", refreshErr)
		return refreshErr
	}

	now := time.Now()
	c.mu.Lock()
	c.tree = response
	c.lastUpdate = now
	c.mu.Unlock()

	c.stats.Fetch()
	if c.metrics != nil {
		c.metrics.FetchesTotal.WithLabelValues(c.prefix, "success").Inc()
		c.metrics.LastRefresh.WithLabelValues(c.prefix).Set(float64(now.Unix()))
	}
	return nil
}

// resolveValue descends the tree by path elements, indexing arrays with
// integer segments and objects with string keys.
func resolveValue(elems []string, tree any) (any, error) {
	if len(elems) == 0 {
		return tree, nil
	}

	child, err := descend(elems[0], tree)
	if err != nil {
		return nil, err
	}
	return resolveValue(elems[1:], child)
}

// updateValue sets the value at the path elements in the tree. Intermediate
// nodes must already exist.
func updateValue(elems []string, value any, tree any) error {
	if len(elems) == 1 {
		switch node := tree.(type) {
		case map[string]any:
			node[elems[0]] = value
			return nil
		case []any:
			index, err := strconv.Atoi(elems[0])
			if err != nil || index < 0 || index >= len(node) {
				return errors.ErrLookupFailed
			}
			node[index] = value
			return nil
		default:
			return errors.ErrLookupFailed
		}
	}

	child, err := descend(elems[0], tree)
	if err != nil {
		return err
	}
	return updateValue(elems[1:], value, child)
}

func descend(elem string, tree any) (any, error) {
	switch node := tree.(type) {
	case map[string]any:
		child, found := node[elem]
		if !found {
			return nil, errors.ErrLookupFailed
		}
		return child, nil
	case []any:
		index, err := strconv.Atoi(elem)
		if err != nil || index < 0 || index >= len(node) {
			return nil, errors.ErrLookupFailed
		}
		return node[index], nil
	default:
		return nil, errors.ErrLookupFailed
	}
}
