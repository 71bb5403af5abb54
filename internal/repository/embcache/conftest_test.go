package embcache

import (
	"context"
	"sync/atomic"
)

// mockEmbedder implements domain.Embedder for tests.
type mockEmbedder struct {
	embedFn func(ctx context.Context, image []byte) ([]float32, error)
	calls   atomic.Int64
}

func (m *mockEmbedder) Embed(ctx context.Context, image []byte) ([]float32, error) {
	m.calls.Add(1)
	if m.embedFn != nil {
		return m.embedFn(ctx, image)
	}
	return []float32{float32(len(image)), 0.5}, nil
}
