package in

import (
	"context"

	"guard_server/core/domain"
)

// EvaluateOptions tunes a single evaluation.
type EvaluateOptions struct {
	// BypassHeuristics skips the local pre-filters (bulk re-evaluation wants LLM-only signal).
	BypassHeuristics bool
}

// ModerationService is the inbound port of the decision engine.
type ModerationService interface {
	Evaluate(ctx context.Context, candidate *domain.Candidate, opts EvaluateOptions) *domain.Evaluation
	EvaluateBatch(ctx context.Context, candidates []*domain.Candidate, offset, pageSize int, opts EvaluateOptions) *domain.BatchResult
}
