package moderation

import (
	"context"

	"guard_server/core/domain"
	"guard_server/core/port/in"

	"golang.org/x/sync/errgroup"
)

// Page size bounds for batch re-evaluation.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// EvaluateBatch evaluates candidates[offset : offset+pageSize]. Items are independent,
// so pages can be split across time or workers; the caller keeps the cursor.
func (s *Service) EvaluateBatch(ctx context.Context, candidates []*domain.Candidate, offset, pageSize int, opts in.EvaluateOptions) *domain.BatchResult {
	if offset < 0 {
		offset = 0
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	total := len(candidates)
	if offset >= total {
		return &domain.BatchResult{Results: []*domain.Evaluation{}, NextOffset: total, Remaining: 0}
	}

	end := offset + pageSize
	if end > total {
		end = total
	}
	page := candidates[offset:end]
	results := make([]*domain.Evaluation, len(page))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchParallel)
	for i, c := range page {
		g.Go(func() error {
			results[i] = s.Evaluate(gctx, c, opts)
			return nil
		})
	}
	_ = g.Wait()

	return &domain.BatchResult{
		Results:    results,
		NextOffset: end,
		Remaining:  total - end,
	}
}
