package out

import (
	"context"

	"guard_server/core/domain"
)

// RecheckJob is a page of backlog candidates to re-evaluate.
// Candidates holds the whole backlog; Offset and PageSize select the page.
type RecheckJob struct {
	JobID            string              `json:"job_id"`
	Candidates       []*domain.Candidate `json:"candidates"`
	Offset           int                 `json:"offset"`
	PageSize         int                 `json:"page_size"`
	BypassHeuristics bool                `json:"bypass_heuristics"`
}

// RecheckPublisher enqueues batch re-evaluation jobs.
type RecheckPublisher interface {
	PublishRecheck(ctx context.Context, job *RecheckJob) error
}
