// Package question persists question embeddings in the vector store.
package question

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/quiver-search/quiver/internal/db"
	"github.com/quiver-search/quiver/internal/domain"
	"github.com/quiver-search/quiver/internal/metrics"
	"github.com/quiver-search/quiver/internal/retry"
)

// Over-fetch factor when some filters cannot be pushed to the index and
// must be applied after the KNN pass.
const (
	postFilterFetchFactor = 10
	maxFetchK             = 1000
)

// store is the consumer interface for question persistence (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
	UsedMemory(ctx context.Context) (int64, error)
}

// Config describes the collection this repository writes to.
type Config struct {
	Collection string // collection name, namespaces keys and the index
	Dimensions int    // fixed embedding dimension
	Metric     string // "cosine" or "l2"

	// MetadataFields lists metadata keys indexed as TAG fields. Filters on
	// other keys are applied after the KNN pass.
	MetadataFields []string

	Retry retry.Config
}

// Repo implements the vector store client over db.Store.
type Repo struct {
	store   store
	cfg     Config
	indexed map[string]bool
}

// New creates a question repository.
func New(s store, cfg Config) *Repo {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	indexed := make(map[string]bool, len(cfg.MetadataFields))
	for _, f := range cfg.MetadataFields {
		indexed[f] = true
	}
	return &Repo{store: s, cfg: cfg, indexed: indexed}
}

// EnsureCollection provisions the FT index if it does not exist yet.
func (r *Repo) EnsureCollection(ctx context.Context) error {
	exists, err := r.withRetryBool(ctx, db.OpIndexInfo, func(ctx context.Context) (bool, error) {
		return r.store.IndexExists(ctx, r.indexName())
	})
	if err != nil {
		return fmt.Errorf("check index %s: %w", r.indexName(), r.mapErr(err))
	}
	if exists {
		return nil
	}

	b := db.NewIndex(r.indexName()).
		Prefix(r.keyPrefix()).
		Numeric("created_at")
	for _, f := range r.cfg.MetadataFields {
		b = b.Tag(metaField(f))
	}
	def, err := b.VectorHNSW("vector", r.cfg.Dimensions, r.distanceMetric(), 16, 200).Build()
	if err != nil {
		return fmt.Errorf("build index definition: %w", err)
	}

	err = r.withRetry(ctx, db.OpCreateIndex, func(ctx context.Context) error {
		return r.store.CreateIndex(ctx, def)
	})
	if errors.Is(err, db.ErrIndexExists) {
		// concurrent provisioning, someone else won
		return nil
	}
	if err != nil {
		return fmt.Errorf("create index %s: %w", r.indexName(), r.mapErr(err))
	}
	return nil
}

// Upsert stores a question, replacing any existing one with the same ID.
// Returns true when the ID did not exist before.
func (r *Repo) Upsert(ctx context.Context, q *domain.Question) (bool, error) {
	if len(q.Vector) != r.cfg.Dimensions {
		return false, fmt.Errorf("%w: got %d, want %d",
			domain.ErrVectorDimMismatch, len(q.Vector), r.cfg.Dimensions)
	}

	key := r.questionKey(q.ID)

	exists, err := r.withRetryBool(ctx, db.OpExists, func(ctx context.Context) (bool, error) {
		return r.store.Exists(ctx, key)
	})
	if err != nil {
		return false, fmt.Errorf("check exists %s: %w", key, r.mapErr(err))
	}

	err = r.withRetry(ctx, db.OpHSet, func(ctx context.Context) error {
		return r.store.HSet(ctx, key, buildHashFields(q))
	})
	if err != nil {
		return false, fmt.Errorf("hset %s: %w", key, r.mapErr(err))
	}

	return !exists, nil
}

// BatchUpsert stores many questions in one pipelined round-trip. Every
// vector must already match the collection dimension.
func (r *Repo) BatchUpsert(ctx context.Context, qs []*domain.Question) error {
	if len(qs) == 0 {
		return nil
	}

	items := make([]db.HashSetItem, len(qs))
	for i, q := range qs {
		if len(q.Vector) != r.cfg.Dimensions {
			return fmt.Errorf("question %s: %w: got %d, want %d",
				q.ID, domain.ErrVectorDimMismatch, len(q.Vector), r.cfg.Dimensions)
		}
		items[i] = db.HashSetItem{Key: r.questionKey(q.ID), Fields: buildHashFields(q)}
	}

	err := r.withRetry(ctx, db.OpHSet, func(ctx context.Context) error {
		return r.store.HSetMulti(ctx, items)
	})
	if err != nil {
		return fmt.Errorf("batch hset: %w", r.mapErr(err))
	}
	return nil
}

// Get returns a question by ID.
func (r *Repo) Get(ctx context.Context, id string) (*domain.Question, error) {
	key := r.questionKey(id)

	var fields map[string]string
	err := r.withRetry(ctx, db.OpHGetAll, func(ctx context.Context) error {
		var err error
		fields, err = r.store.HGetAll(ctx, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, r.mapErr(err))
	}
	if len(fields) == 0 {
		return nil, domain.ErrQuestionNotFound
	}

	q, err := parseHashFields(id, fields)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	return q, nil
}

// Delete removes a question. Missing IDs are an error, not a no-op.
func (r *Repo) Delete(ctx context.Context, id string) error {
	key := r.questionKey(id)

	exists, err := r.withRetryBool(ctx, db.OpExists, func(ctx context.Context) (bool, error) {
		return r.store.Exists(ctx, key)
	})
	if err != nil {
		return fmt.Errorf("check exists %s: %w", key, r.mapErr(err))
	}
	if !exists {
		return domain.ErrQuestionNotFound
	}

	err = r.withRetry(ctx, db.OpDel, func(ctx context.Context) error {
		return r.store.Del(ctx, key)
	})
	if err != nil {
		return fmt.Errorf("del %s: %w", key, r.mapErr(err))
	}
	return nil
}

// QueryByVector returns the topK most similar questions, best-first.
// Filters are a conjunctive exact-match map over metadata; keys indexed as
// TAG fields are pushed into the KNN query, the rest are applied here
// after an over-fetched pass.
func (r *Repo) QueryByVector(
	ctx context.Context, vector []float32, topK int, filters map[string]string,
) ([]domain.SearchHit, error) {
	if len(vector) != r.cfg.Dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d",
			domain.ErrVectorDimMismatch, len(vector), r.cfg.Dimensions)
	}

	indexedFilters, residual := r.splitFilters(filters)

	fetchK := topK
	if len(residual) > 0 {
		fetchK = min(topK*postFilterFetchFactor, maxFetchK)
	}

	q := &db.KNNQuery{
		IndexName: r.indexName(),
		Vector:    vector,
		K:         fetchK,
		Filters:   indexedFilters,
	}

	var sr *db.SearchResult
	err := r.withRetry(ctx, db.OpSearch, func(ctx context.Context) error {
		var err error
		sr, err = r.store.SearchKNN(ctx, q)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("search knn %s: %w", r.indexName(), r.mapErr(err))
	}

	hits := make([]domain.SearchHit, 0, min(len(sr.Entries), topK))
	for _, entry := range sr.Entries {
		hit := domain.SearchHit{
			ID:       strings.TrimPrefix(entry.Key, r.keyPrefix()),
			Score:    entry.Score,
			Metadata: metadataFromFields(entry.Fields),
		}
		if !hit.MatchesFilters(residual) {
			continue
		}
		hits = append(hits, hit)
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}

// Count returns the number of stored questions.
func (r *Repo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.withRetry(ctx, db.OpSearch, func(ctx context.Context) error {
		var err error
		n, err = r.store.SearchCount(ctx, r.indexName(), "*")
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("search count: %w", r.mapErr(err))
	}
	return n, nil
}

// VectorSizeBytes reports the fixed per-question vector footprint
// (4 bytes per float32 dimension).
func (r *Repo) VectorSizeBytes() int {
	return r.cfg.Dimensions * 4
}

// CollectionSize reports the store's used memory in bytes.
func (r *Repo) CollectionSize(ctx context.Context) (int64, error) {
	var n int64
	err := r.withRetry(ctx, db.OpInfo, func(ctx context.Context) error {
		var err error
		n, err = r.store.UsedMemory(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("used memory: %w", r.mapErr(err))
	}
	return n, nil
}

// --- retry plumbing ---

func (r *Repo) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, r.cfg.Retry, db.IsUnavailable, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			metrics.StoreRetriesTotal.WithLabelValues(op).Inc()
		}
		return fn(ctx)
	})
}

func (r *Repo) withRetryBool(
	ctx context.Context, op string, fn func(ctx context.Context) (bool, error),
) (bool, error) {
	var v bool
	err := r.withRetry(ctx, op, func(ctx context.Context) error {
		var err error
		v, err = fn(ctx)
		return err
	})
	return v, err
}

// mapErr converts exhausted-retry connectivity failures into the domain
// sentinel so transport can answer 503.
func (r *Repo) mapErr(err error) error {
	if db.IsUnavailable(err) {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return err
}

func (r *Repo) splitFilters(filters map[string]string) (indexed, residual map[string]string) {
	if len(filters) == 0 {
		return nil, nil
	}
	indexed = make(map[string]string)
	residual = make(map[string]string)
	for k, v := range filters {
		if r.indexed[k] {
			indexed[metaField(k)] = v
		} else {
			residual[k] = v
		}
	}
	return indexed, residual
}

func (r *Repo) distanceMetric() db.DistanceMetric {
	if r.cfg.Metric == "l2" {
		return db.DistanceL2
	}
	return db.DistanceCosine
}

func (r *Repo) keyPrefix() string {
	return fmt.Sprintf("%s%s:", domain.KeyPrefix, r.cfg.Collection)
}

func (r *Repo) questionKey(id string) string {
	return r.keyPrefix() + id
}

func (r *Repo) indexName() string {
	return fmt.Sprintf("%s%s:idx", domain.KeyPrefix, r.cfg.Collection)
}
