// Package stats assembles the operational counters served by /stats.
package stats

import (
	"context"
	"fmt"
)

// Stats is the aggregated service statistics snapshot.
type Stats struct {
	QuestionCount       int
	CollectionSizeBytes int64
	AvgVectorSizeBytes  int
	APICalls            map[string]int64
	ErrorCount          int64
	UptimeSeconds       float64
}

// Service collects statistics from the store and the call counters.
type Service struct {
	repo  Repository
	calls CallCounters
}

// New creates a stats service.
func New(repo Repository, calls CallCounters) *Service {
	return &Service{repo: repo, calls: calls}
}

// Collect gathers a statistics snapshot.
func (s *Service) Collect(ctx context.Context) (Stats, error) {
	count, err := s.repo.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count questions: %w", err)
	}

	size, err := s.repo.CollectionSize(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("collection size: %w", err)
	}

	return Stats{
		QuestionCount:       count,
		CollectionSizeBytes: size,
		AvgVectorSizeBytes:  s.repo.VectorSizeBytes(),
		APICalls:            s.calls.Snapshot(),
		ErrorCount:          s.calls.ErrorCount(),
		UptimeSeconds:       s.calls.Uptime().Seconds(),
	}, nil
}
