package batch

import (
	"context"

	"github.com/quiver-search/quiver/internal/domain"
)

// Upserter stores a single embedded question.
type Upserter interface {
	Upsert(ctx context.Context, q *domain.Question) (created bool, err error)
}

// Embedder vectorizes a question image.
type Embedder interface {
	Embed(ctx context.Context, image []byte) ([]float32, error)
}
