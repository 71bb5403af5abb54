// Package batch fans out multi-question adds with bounded parallelism and
// per-item error reporting.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/quiver-search/quiver/internal/domain"
)

const (
	// MaxBatchSize is the default maximum number of items per batch request.
	MaxBatchSize = 100
	// DefaultWorkers bounds simultaneous embed+store work per batch call.
	DefaultWorkers = 4
)

// Item is one question in a batch add request.
type Item struct {
	ID       string
	Image    []byte
	Metadata map[string]string

	// Err records a failure found while decoding the item's payload,
	// before the batch call. Such an item is reported failed with that
	// error and never reaches the embedder.
	Err error
}

// Result is the per-item outcome, reported in input order.
type Result struct {
	ID      string
	Created bool
	Err     error
}

// Service processes batch adds. Parallelism is capped by a weighted
// semaphore sized independently of the batch size, so a large batch
// cannot overwhelm the model or the store's connection pool.
type Service struct {
	upserter Upserter
	embedder Embedder
	workers  int64
	maxSize  int
	now      func() time.Time
}

// New creates a batch service.
func New(upserter Upserter, embedder Embedder) *Service {
	return &Service{
		upserter: upserter,
		embedder: embedder,
		workers:  DefaultWorkers,
		maxSize:  MaxBatchSize,
		now:      time.Now,
	}
}

// WithWorkers configures the parallelism bound.
func (s *Service) WithWorkers(n int) *Service {
	if n > 0 {
		s.workers = int64(n)
	}
	return s
}

// WithMaxBatchSize configures the maximum batch size.
func (s *Service) WithMaxBatchSize(size int) *Service {
	if size > 0 {
		s.maxSize = size
	}
	return s
}

// Add embeds and stores every item. One item's failure never aborts its
// siblings; results match the input order regardless of completion order.
func (s *Service) Add(ctx context.Context, items []Item) []Result {
	results := make([]Result, len(items))

	if len(items) > s.maxSize {
		for i, item := range items {
			results[i] = Result{
				ID:  item.ID,
				Err: fmt.Errorf("batch size %d exceeds %d: %w", len(items), s.maxSize, domain.ErrValidation),
			}
		}
		return results
	}

	sem := semaphore.NewWeighted(s.workers)
	var wg sync.WaitGroup

	for i := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{ID: items[i].ID, Err: fmt.Errorf("acquire worker: %w", err)}
			continue
		}

		wg.Add(1)
		go func(i int, item Item) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = s.addOne(ctx, item)
		}(i, items[i])
	}

	wg.Wait()
	return results
}

func (s *Service) addOne(ctx context.Context, item Item) Result {
	if item.Err != nil {
		return Result{ID: item.ID, Err: item.Err}
	}
	if err := validateItem(item); err != nil {
		return Result{ID: item.ID, Err: err}
	}

	vector, err := s.embedder.Embed(ctx, item.Image)
	if err != nil {
		return Result{ID: item.ID, Err: fmt.Errorf("embed question: %w", err)}
	}

	q := &domain.Question{
		ID:        item.ID,
		Vector:    vector,
		Metadata:  item.Metadata,
		CreatedAt: s.now().UnixMilli(),
	}

	created, err := s.upserter.Upsert(ctx, q)
	if err != nil {
		return Result{ID: item.ID, Err: fmt.Errorf("upsert question: %w", err)}
	}
	return Result{ID: item.ID, Created: created}
}

func validateItem(item Item) error {
	if item.ID == "" {
		return fmt.Errorf("question_id is required: %w", domain.ErrValidation)
	}
	if len(item.ID) > domain.MaxIDLength {
		return fmt.Errorf("question_id exceeds %d characters: %w",
			domain.MaxIDLength, domain.ErrValidation)
	}
	if len(item.Image) == 0 {
		return fmt.Errorf("image is required: %w", domain.ErrValidation)
	}
	return nil
}
