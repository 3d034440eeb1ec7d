package worker

import (
	"context"
	"time"

	"guard_server/core/domain"
	"guard_server/core/port/in"
	"guard_server/core/port/out"
	"guard_server/pkg/logger"
)

// RecheckSummary counts the actions taken for one page.
type RecheckSummary struct {
	JobID      string                `json:"job_id"`
	Offset     int                   `json:"offset"`
	Evaluated  int                   `json:"evaluated"`
	Actions    map[domain.Action]int `json:"actions"`
	NextOffset int                   `json:"next_offset"`
	Remaining  int                   `json:"remaining"`
}

// RecheckProcessor evaluates one page of a backlog and enqueues the next page.
type RecheckProcessor struct {
	svc       in.ModerationService
	publisher out.RecheckPublisher
}

// NewRecheckProcessor creates a processor. publisher may be nil, in which case
// continuation pages are not enqueued.
func NewRecheckProcessor(svc in.ModerationService, publisher out.RecheckPublisher) *RecheckProcessor {
	return &RecheckProcessor{svc: svc, publisher: publisher}
}

func (p *RecheckProcessor) Process(ctx context.Context, job *out.RecheckJob) (*RecheckSummary, error) {
	start := time.Now()
	res := p.svc.EvaluateBatch(ctx, job.Candidates, job.Offset, job.PageSize, in.EvaluateOptions{
		BypassHeuristics: job.BypassHeuristics,
	})

	summary := &RecheckSummary{
		JobID:      job.JobID,
		Offset:     job.Offset,
		Evaluated:  len(res.Results),
		Actions:    make(map[domain.Action]int),
		NextOffset: res.NextOffset,
		Remaining:  res.Remaining,
	}
	for _, ev := range res.Results {
		if ev != nil {
			summary.Actions[ev.Action]++
		}
	}

	logger.WithFields(map[string]any{
		"job_id":      job.JobID,
		"offset":      job.Offset,
		"evaluated":   summary.Evaluated,
		"remaining":   summary.Remaining,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("[RecheckProcessor] page done")

	if res.Remaining == 0 || p.publisher == nil || summary.Evaluated == 0 {
		return summary, nil
	}

	next := *job
	next.Offset = res.NextOffset
	if err := p.publisher.PublishRecheck(ctx, &next); err != nil {
		return summary, err
	}
	return summary, nil
}
