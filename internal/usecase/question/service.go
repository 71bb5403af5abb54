// Package question orchestrates single-question add, get and delete.
package question

import (
	"context"
	"fmt"
	"time"

	"github.com/quiver-search/quiver/internal/domain"
)

// Service handles question CRUD with automatic vectorization.
type Service struct {
	repo     Repository
	embedder Embedder
	now      func() time.Time
}

// New creates a question service.
func New(repo Repository, embedder Embedder) *Service {
	return &Service{repo: repo, embedder: embedder, now: time.Now}
}

// Add embeds the image and stores the question. An existing ID is
// replaced; the created flag reports which case happened.
func (s *Service) Add(
	ctx context.Context, id string, image []byte, metadata map[string]string,
) (*domain.Question, bool, error) {
	if err := ValidateID(id); err != nil {
		return nil, false, err
	}
	if len(image) == 0 {
		return nil, false, fmt.Errorf("image is required: %w", domain.ErrValidation)
	}

	vector, err := s.embedder.Embed(ctx, image)
	if err != nil {
		return nil, false, fmt.Errorf("embed question: %w", err)
	}

	q := &domain.Question{
		ID:        id,
		Vector:    vector,
		Metadata:  metadata,
		CreatedAt: s.now().UnixMilli(),
	}

	created, err := s.repo.Upsert(ctx, q)
	if err != nil {
		return nil, false, fmt.Errorf("upsert question: %w", err)
	}
	return q, created, nil
}

// Get retrieves a question by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Question, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	return q, nil
}

// Delete removes a question by ID.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	return nil
}

// ValidateID checks the caller-supplied question ID.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("question_id is required: %w", domain.ErrValidation)
	}
	if len(id) > domain.MaxIDLength {
		return fmt.Errorf("question_id exceeds %d characters: %w",
			domain.MaxIDLength, domain.ErrValidation)
	}
	return nil
}
