package question

import (
	"context"

	"github.com/quiver-search/quiver/internal/domain"
)

// Repository defines the storage contract for questions.
type Repository interface {
	Upsert(ctx context.Context, q *domain.Question) (created bool, err error)
	Get(ctx context.Context, id string) (*domain.Question, error)
	Delete(ctx context.Context, id string) error
}

// Embedder vectorizes a question image.
type Embedder interface {
	Embed(ctx context.Context, image []byte) ([]float32, error)
}
