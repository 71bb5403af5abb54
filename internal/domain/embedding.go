package domain

import "context"

// Embedder is the shared image vectorization contract between layers.
// Implementations must be deterministic for identical input bytes and must
// not cache internally; caching is the embcache decorator's concern.
type Embedder interface {
	Embed(ctx context.Context, image []byte) ([]float32, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
