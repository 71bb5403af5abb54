// Package search orchestrates similarity search over question images.
package search

import (
	"context"
	"fmt"

	"github.com/quiver-search/quiver/internal/domain"
)

const (
	// DefaultTopK applies when the caller leaves top_k unset.
	DefaultTopK = 10
	// MaxTopK bounds a single search request.
	MaxTopK = 100
)

// Query is a search request.
type Query struct {
	Image   []byte
	TopK    int
	Method  domain.SearchMethod
	Filters map[string]string
}

// Service obtains the query vector through the embedding chain and
// delegates ranking to the repository.
type Service struct {
	repo     Repository
	embedder Embedder
}

// New creates a search service.
func New(repo Repository, embedder Embedder) *Service {
	return &Service{repo: repo, embedder: embedder}
}

// Search returns up to TopK similar questions, best-first. An empty
// result set is a success, not an error.
func (s *Service) Search(ctx context.Context, q Query) ([]domain.SearchHit, error) {
	if len(q.Image) == 0 {
		return nil, fmt.Errorf("image is required: %w", domain.ErrValidation)
	}

	method := q.Method
	if method == "" {
		method = domain.SearchVector
	}
	if !method.Valid() {
		return nil, fmt.Errorf("unknown search_method %q: %w", q.Method, domain.ErrValidation)
	}
	if method == domain.SearchHybrid && len(q.Filters) == 0 {
		return nil, fmt.Errorf("hybrid search requires filters: %w", domain.ErrValidation)
	}

	topK := clampTopK(q.TopK)

	vector, err := s.embedder.Embed(ctx, q.Image)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.repo.QueryByVector(ctx, vector, topK, q.Filters)
	if err != nil {
		return nil, fmt.Errorf("query by vector: %w", err)
	}

	// The repository already honors store-side filters; re-check here so
	// hits ranked before a concurrent metadata update never leak through.
	out := make([]domain.SearchHit, 0, len(hits))
	for _, hit := range hits {
		if !hit.MatchesFilters(q.Filters) {
			continue
		}
		out = append(out, hit)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func clampTopK(k int) int {
	switch {
	case k <= 0:
		return DefaultTopK
	case k > MaxTopK:
		return MaxTopK
	default:
		return k
	}
}
