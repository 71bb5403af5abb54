package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CallStats keeps in-process per-endpoint call counters for the /stats
// endpoint. Prometheus counters cover the same ground for scraping; these
// exist so /stats can answer without gathering the registry.
type CallStats struct {
	mu      sync.RWMutex
	calls   map[string]*atomic.Int64
	errors  atomic.Int64
	started time.Time
}

// NewCallStats creates call counters with the uptime clock started now.
func NewCallStats() *CallStats {
	return &CallStats{
		calls:   make(map[string]*atomic.Int64),
		started: time.Now(),
	}
}

// Record counts one request for the given route and marks errors for 5xx.
func (c *CallStats) Record(method, path string, status int) {
	key := method + " " + path

	c.mu.RLock()
	counter, ok := c.calls[key]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		counter, ok = c.calls[key]
		if !ok {
			counter = &atomic.Int64{}
			c.calls[key] = counter
		}
		c.mu.Unlock()
	}

	counter.Add(1)
	if status >= http.StatusInternalServerError {
		c.errors.Add(1)
	}
}

// Snapshot returns a copy of the per-endpoint counters.
func (c *CallStats) Snapshot() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]int64, len(c.calls))
	for k, v := range c.calls {
		out[k] = v.Load()
	}
	return out
}

// ErrorCount returns the number of 5xx responses served.
func (c *CallStats) ErrorCount() int64 {
	return c.errors.Load()
}

// Uptime returns the time elapsed since the counters were created.
func (c *CallStats) Uptime() time.Duration {
	return time.Since(c.started)
}
