// Package quiver is the embedded client: the same question store, cache
// and search pipeline the HTTP server exposes, linked in-process.
package quiver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	dbRedis "github.com/quiver-search/quiver/internal/db/redis"
	"github.com/quiver-search/quiver/internal/domain"
	"github.com/quiver-search/quiver/internal/repository/embcache"
	questionrepo "github.com/quiver-search/quiver/internal/repository/question"
	"github.com/quiver-search/quiver/internal/retry"
	batchuc "github.com/quiver-search/quiver/internal/usecase/batch"
	questionuc "github.com/quiver-search/quiver/internal/usecase/question"
	searchuc "github.com/quiver-search/quiver/internal/usecase/search"
)

const defaultReadinessTimeout = 10 * time.Second

// Embedder vectorizes a question image. Implementations must be
// deterministic for identical input bytes.
type Embedder interface {
	Embed(ctx context.Context, image []byte) ([]float32, error)
}

// Question is a stored question.
type Question struct {
	ID        string
	Metadata  map[string]string
	CreatedAt int64 // unix millis
}

// Hit is a single search result, best-first.
type Hit struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Item is one question in a batch or bulk load.
type Item struct {
	ID       string
	Image    []byte
	Metadata map[string]string
}

// Result reports the outcome for one batch item.
type Result struct {
	ID      string
	Created bool
	Err     error
}

type clientConfig struct {
	addrs          []string
	password       string
	collection     string
	dimensions     int
	metric         string
	metadataFields []string
	embedder       Embedder
	cacheCapacity  int
	batchWorkers   int
	logger         *zap.Logger
}

// Option configures the client.
type Option func(*clientConfig)

// WithRedis sets the store addresses.
func WithRedis(addrs ...string) Option {
	return func(c *clientConfig) { c.addrs = addrs }
}

// WithPassword sets the store password.
func WithPassword(password string) Option {
	return func(c *clientConfig) { c.password = password }
}

// WithCollection sets the collection name, embedding dimension and
// distance metric ("cosine" or "l2").
func WithCollection(name string, dimensions int, metric string) Option {
	return func(c *clientConfig) {
		c.collection = name
		c.dimensions = dimensions
		c.metric = metric
	}
}

// WithMetadataFields declares metadata keys indexed for store-side filtering.
func WithMetadataFields(fields ...string) Option {
	return func(c *clientConfig) { c.metadataFields = fields }
}

// WithEmbedder sets the image embedder. Required for any write or search.
func WithEmbedder(e Embedder) Option {
	return func(c *clientConfig) { c.embedder = e }
}

// WithCacheCapacity sets the embedding cache size (0 keeps the default).
func WithCacheCapacity(n int) Option {
	return func(c *clientConfig) { c.cacheCapacity = n }
}

// WithBatchWorkers bounds concurrent embed+store work per batch call.
func WithBatchWorkers(n int) Option {
	return func(c *clientConfig) { c.batchWorkers = n }
}

// WithLogger sets the logger (a no-op logger is used otherwise).
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// Client is the embedded quiver entry point.
type Client struct {
	store    *dbRedis.Store
	repo     *questionrepo.Repo
	embedder domain.Embedder

	questions *questionuc.Service
	batch     *batchuc.Service
	search    *searchuc.Service
}

// New connects to the store, provisions the collection index and returns
// a ready client.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		collection: "questions",
		dimensions: 512,
		metric:     "cosine",
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(cfg)
	}

	if len(cfg.addrs) == 0 {
		return nil, errors.New("quiver: store address required (use WithRedis)")
	}

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.addrs,
		Password: cfg.password,
	})
	if err != nil {
		return nil, fmt.Errorf("quiver: create store: %w", err)
	}

	ctx := context.Background()
	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("quiver: store not ready: %w", err)
	}

	c, err := wireClient(store, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := c.repo.EnsureCollection(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("quiver: provision collection: %w", err)
	}
	return c, nil
}

func wireClient(store *dbRedis.Store, cfg *clientConfig) (*Client, error) {
	repo := questionrepo.New(store, questionrepo.Config{
		Collection:     cfg.collection,
		Dimensions:     cfg.dimensions,
		Metric:         cfg.metric,
		MetadataFields: cfg.metadataFields,
		Retry:          retry.DefaultConfig(),
	})

	var emb domain.Embedder = noopEmbedder{}
	if cfg.embedder != nil {
		emb = embcache.New(
			embedderAdapter{inner: cfg.embedder},
			cfg.cacheCapacity,
			nil, // no Prometheus registration in embedded mode
			cfg.logger,
		)
	}

	batchSvc := batchuc.New(repo, emb)
	if cfg.batchWorkers > 0 {
		batchSvc = batchSvc.WithWorkers(cfg.batchWorkers)
	}

	return &Client{
		store:     store,
		repo:      repo,
		embedder:  emb,
		questions: questionuc.New(repo, emb),
		batch:     batchSvc,
		search:    searchuc.New(repo, emb),
	}, nil
}

// Close releases the store connection.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks store connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// AddQuestion embeds and stores a question image. Returns the stored
// question and whether it was newly created (false means replaced).
func (c *Client) AddQuestion(
	ctx context.Context, id string, image []byte, metadata map[string]string,
) (Question, bool, error) {
	q, created, err := c.questions.Add(ctx, id, image, metadata)
	if err != nil {
		return Question{}, false, err
	}
	return toPublic(q), created, nil
}

// GetQuestion returns a stored question by ID.
func (c *Client) GetQuestion(ctx context.Context, id string) (Question, error) {
	q, err := c.questions.Get(ctx, id)
	if err != nil {
		return Question{}, err
	}
	return toPublic(q), nil
}

// DeleteQuestion removes a question by ID.
func (c *Client) DeleteQuestion(ctx context.Context, id string) error {
	return c.questions.Delete(ctx, id)
}

// AddBatch stores many questions with bounded parallelism. One result per
// item, in input order; failures are per-item and never abort siblings.
func (c *Client) AddBatch(ctx context.Context, items []Item) []Result {
	in := make([]batchuc.Item, len(items))
	for i, item := range items {
		in[i] = batchuc.Item{ID: item.ID, Image: item.Image, Metadata: item.Metadata}
	}
	out := c.batch.Add(ctx, in)

	results := make([]Result, len(out))
	for i, r := range out {
		results[i] = Result{ID: r.ID, Created: r.Created, Err: r.Err}
	}
	return results
}

// BulkLoad embeds every item and writes all of them in a single pipelined
// round-trip. Unlike AddBatch it is all-or-nothing per call: the first
// embed failure aborts the load before anything is written.
func (c *Client) BulkLoad(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	qs := make([]*domain.Question, len(items))
	for i, item := range items {
		if err := questionuc.ValidateID(item.ID); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		vector, err := c.embedder.Embed(ctx, item.Image)
		if err != nil {
			return fmt.Errorf("embed %s: %w", item.ID, err)
		}
		qs[i] = &domain.Question{
			ID:        item.ID,
			Vector:    vector,
			Metadata:  item.Metadata,
			CreatedAt: now,
		}
	}

	if err := c.repo.BatchUpsert(ctx, qs); err != nil {
		return fmt.Errorf("bulk load: %w", err)
	}
	return nil
}

// Count returns the number of stored questions.
func (c *Client) Count(ctx context.Context) (int, error) {
	return c.repo.Count(ctx)
}

func toPublic(q *domain.Question) Question {
	return Question{ID: q.ID, Metadata: q.Metadata, CreatedAt: q.CreatedAt}
}

// embedderAdapter satisfies internal domain.Embedder with the public interface.
type embedderAdapter struct {
	inner Embedder
}

func (a embedderAdapter) Embed(ctx context.Context, image []byte) ([]float32, error) {
	v, err := a.inner.Embed(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return v, nil
}

// noopEmbedder fails every call (used when no embedder is configured).
type noopEmbedder struct{}

func (noopEmbedder) Embed(_ context.Context, _ []byte) ([]float32, error) {
	return nil, errors.New("quiver: embedder not configured (use WithEmbedder)")
}
