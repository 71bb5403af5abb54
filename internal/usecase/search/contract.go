package search

import (
	"context"

	"github.com/quiver-search/quiver/internal/domain"
)

// Repository ranks stored questions against a query vector.
type Repository interface {
	QueryByVector(
		ctx context.Context, vector []float32, topK int, filters map[string]string,
	) ([]domain.SearchHit, error)
}

// Embedder vectorizes the query image (normally the cache chain).
type Embedder interface {
	Embed(ctx context.Context, image []byte) ([]float32, error)
}
