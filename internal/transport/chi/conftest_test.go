package chi

import (
	"context"
	"time"

	"github.com/quiver-search/quiver/internal/domain"
)

// mockRepo implements the question, batch and search repository contracts.
type mockRepo struct {
	upsertFn func(ctx context.Context, q *domain.Question) (bool, error)
	getFn    func(ctx context.Context, id string) (*domain.Question, error)
	deleteFn func(ctx context.Context, id string) error
	queryFn  func(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]domain.SearchHit, error)
}

func (m *mockRepo) Upsert(ctx context.Context, q *domain.Question) (bool, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, q)
	}
	return true, nil
}

func (m *mockRepo) Get(ctx context.Context, id string) (*domain.Question, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return &domain.Question{ID: id}, nil
}

func (m *mockRepo) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
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
	return []float32{0.1, 0.2, 0.3, 0.4}, nil
}

type mockPinger struct {
	pingFn func(ctx context.Context) error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

// mockStatsRepo implements the stats repository contract.
type mockStatsRepo struct {
	countFn    func(ctx context.Context) (int, error)
	sizeFn     func(ctx context.Context) (int64, error)
	vectorSize int
}

func (m *mockStatsRepo) Count(ctx context.Context) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx)
	}
	return 0, nil
}

func (m *mockStatsRepo) CollectionSize(ctx context.Context) (int64, error) {
	if m.sizeFn != nil {
		return m.sizeFn(ctx)
	}
	return 0, nil
}

func (m *mockStatsRepo) VectorSizeBytes() int { return m.vectorSize }

type mockCounters struct {
	snapshot map[string]int64
	errors   int64
	uptime   time.Duration
}

func (m *mockCounters) Snapshot() map[string]int64 { return m.snapshot }
func (m *mockCounters) ErrorCount() int64          { return m.errors }
func (m *mockCounters) Uptime() time.Duration      { return m.uptime }
