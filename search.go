package quiver

import (
	"context"

	"github.com/quiver-search/quiver/internal/domain"
	searchuc "github.com/quiver-search/quiver/internal/usecase/search"
)

// SearchBuilder is a fluent builder for similarity search queries.
type SearchBuilder struct {
	svc *searchuc.Service

	image   []byte
	topK    int
	hybrid  bool
	filters map[string]string
}

// SearchImage starts a similarity search for the given question image.
func (c *Client) SearchImage(image []byte) *SearchBuilder {
	return &SearchBuilder{svc: c.search, image: image}
}

// TopK sets the number of results (default 10, capped at 100).
func (b *SearchBuilder) TopK(k int) *SearchBuilder {
	b.topK = k
	return b
}

// Filter adds an exact-match metadata condition. All conditions must hold.
func (b *SearchBuilder) Filter(key, value string) *SearchBuilder {
	if b.filters == nil {
		b.filters = make(map[string]string)
	}
	b.filters[key] = value
	return b
}

// Hybrid requires every filter to match exactly; without filters the
// query fails validation.
func (b *SearchBuilder) Hybrid() *SearchBuilder {
	b.hybrid = true
	return b
}

// Do runs the search and returns hits best-first.
func (b *SearchBuilder) Do(ctx context.Context) ([]Hit, error) {
	method := domain.SearchVector
	if b.hybrid {
		method = domain.SearchHybrid
	}

	hits, err := b.svc.Search(ctx, searchuc.Query{
		Image:   b.image,
		TopK:    b.topK,
		Method:  method,
		Filters: b.filters,
	})
	if err != nil {
		return nil, err
	}

	out := make([]Hit, len(hits))
	for i, h := range hits {
		out[i] = Hit{ID: h.ID, Score: h.Score, Metadata: h.Metadata}
	}
	return out, nil
}
