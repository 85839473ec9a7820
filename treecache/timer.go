package treecache

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// defaultTimerWindow is the rolling window size for fetch latency samples.
const defaultTimerWindow = 100

// requestTimer accumulates fetch durations into a fixed-size rolling window
// and logs an aggregate (mean, standard deviation) every half window. Purely
// observational; never affects control flow.
type requestTimer struct {
	mu      sync.Mutex
	name    string
	samples []float64 // milliseconds, ring buffer
	next    int
	filled  int
	count   int
	log     *slog.Logger
}

func newRequestTimer(name string, window int, log *slog.Logger) *requestTimer {
	if window < 2 {
		window = 2
	}
	return &requestTimer{
		name:    name,
		samples: make([]float64, window),
		log:     log,
	}
}

// Observe records one fetch duration.
func (t *requestTimer) Observe(elapsed time.Duration) {
	ms := float64(elapsed.Microseconds()) / 1000

	t.mu.Lock()
	t.samples[t.next] = ms
	t.next = (t.next + 1) % len(t.samples)
	if t.filled < len(t.samples) {
		t.filled++
	}
	t.count++

	report := t.count%(len(t.samples)/2) == 0
	var mean, stdev float64
	if report {
		mean, stdev = t.aggregate()
	}
	t.mu.Unlock()

	if report {
		t.log.Info("Cache request timing",
			"prefix", t.name,
			"mean_ms", mean,
			"stdev_ms", stdev,
			"samples", t.filled,
		)
	}
}

// aggregate computes mean and standard deviation over the window. Caller
// holds the mutex.
func (t *requestTimer) aggregate() (mean, stdev float64) {
	if t.filled == 0 {
		return 0, 0
	}

	var sum float64
	for _, sample := range t.samples[:t.filled] {
		sum += sample
	}
	mean = sum / float64(t.filled)

	if t.filled < 2 {
		return mean, 0
	}

	var variance float64
	for _, sample := range t.samples[:t.filled] {
		delta := sample - mean
		variance += delta * delta
	}
	stdev = math.Sqrt(variance / float64(t.filled-1))
	return mean, stdev
}
