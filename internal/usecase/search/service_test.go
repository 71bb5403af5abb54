package search

import (
	"context"
	"errors"
	"testing"

	"github.com/quiver-search/quiver/internal/domain"
)

type mockRepo struct {
	queryFn func(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]domain.SearchHit, error)
}

func (m *mockRepo) QueryByVector(
	ctx context.Context, vector []float32, topK int, filters map[string]string,
) ([]domain.SearchHit, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, vector, topK, filters)
	}
	return nil, nil
}

type mockEmbedder struct {
	embedFn func(ctx context.Context, image []byte) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, image []byte) ([]float32, error) {
	if m.embedFn != nil {
		return m.embedFn(ctx, image)
	}
	return []float32{0.1, 0.2}, nil
}

func TestSearch_RankedResults(t *testing.T) {
	repo := &mockRepo{
		queryFn: func(_ context.Context, vector []float32, topK int, _ map[string]string) ([]domain.SearchHit, error) {
			if len(vector) != 2 {
				t.Errorf("vector = %v, want the embedded query", vector)
			}
			if topK != 3 {
				t.Errorf("topK = %d, want 3", topK)
			}
			return []domain.SearchHit{
				{ID: "a", Score: 0.95},
				{ID: "b", Score: 0.90},
				{ID: "c", Score: 0.85},
			}, nil
		},
	}

	svc := New(repo, &mockEmbedder{})
	hits, err := svc.Search(context.Background(), Query{Image: []byte("img"), TopK: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("hits = %d, want 3", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits not best-first at %d: %v", i, hits)
		}
	}
}

func TestSearch_EmptyResultIsSuccess(t *testing.T) {
	svc := New(&mockRepo{}, &mockEmbedder{})
	hits, err := svc.Search(context.Background(), Query{Image: []byte("img")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %d, want 0", len(hits))
	}
}

func TestSearch_Validation(t *testing.T) {
	svc := New(&mockRepo{}, &mockEmbedder{})

	tests := []struct {
		name string
		q    Query
	}{
		{"empty_image", Query{}},
		{"unknown_method", Query{Image: []byte("img"), Method: "keyword"}},
		{"hybrid_without_filters", Query{Image: []byte("img"), Method: domain.SearchHybrid}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Search(context.Background(), tc.q)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestSearch_TopKClamping(t *testing.T) {
	var gotTopK int
	repo := &mockRepo{
		queryFn: func(_ context.Context, _ []float32, topK int, _ map[string]string) ([]domain.SearchHit, error) {
			gotTopK = topK
			return nil, nil
		},
	}
	svc := New(repo, &mockEmbedder{})

	tests := []struct {
		in, want int
	}{
		{0, DefaultTopK},
		{-5, DefaultTopK},
		{7, 7},
		{500, MaxTopK},
	}
	for _, tc := range tests {
		if _, err := svc.Search(context.Background(), Query{Image: []byte("img"), TopK: tc.in}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotTopK != tc.want {
			t.Errorf("topK %d clamped to %d, want %d", tc.in, gotTopK, tc.want)
		}
	}
}

func TestSearch_HybridRequiresAllFilters(t *testing.T) {
	repo := &mockRepo{
		queryFn: func(_ context.Context, _ []float32, _ int, _ map[string]string) ([]domain.SearchHit, error) {
			return []domain.SearchHit{
				{ID: "a", Score: 0.95, Metadata: map[string]string{"subject": "algebra", "grade": "7"}},
				{ID: "b", Score: 0.90, Metadata: map[string]string{"subject": "algebra", "grade": "8"}},
			}, nil
		},
	}

	svc := New(repo, &mockEmbedder{})
	hits, err := svc.Search(context.Background(), Query{
		Image:   []byte("img"),
		Method:  domain.SearchHybrid,
		Filters: map[string]string{"subject": "algebra", "grade": "7"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "a" {
		t.Errorf("hits = %v, want only the fully matching hit", hits)
	}
}

func TestSearch_EmbedErrorPropagates(t *testing.T) {
	emb := &mockEmbedder{
		embedFn: func(_ context.Context, _ []byte) ([]float32, error) {
			return nil, domain.ErrModelUnavailable
		},
	}

	svc := New(&mockRepo{}, emb)
	_, err := svc.Search(context.Background(), Query{Image: []byte("img")})
	if !errors.Is(err, domain.ErrModelUnavailable) {
		t.Errorf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestSearch_StoreErrorPropagates(t *testing.T) {
	repo := &mockRepo{
		queryFn: func(_ context.Context, _ []float32, _ int, _ map[string]string) ([]domain.SearchHit, error) {
			return nil, domain.ErrStoreUnavailable
		},
	}

	svc := New(repo, &mockEmbedder{})
	_, err := svc.Search(context.Background(), Query{Image: []byte("img")})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}
