package stats

import (
	"context"
	"time"
)

// Repository reports collection counters from the vector store.
type Repository interface {
	Count(ctx context.Context) (int, error)
	CollectionSize(ctx context.Context) (int64, error)
	VectorSizeBytes() int
}

// CallCounters exposes in-process API call counters.
type CallCounters interface {
	Snapshot() map[string]int64
	ErrorCount() int64
	Uptime() time.Duration
}
