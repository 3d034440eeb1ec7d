package http

import (
	"net/http"

	"guard_server/core/domain"
	"guard_server/core/port/in"
	"guard_server/core/port/out"
	"guard_server/pkg/apperr"
	"guard_server/pkg/logger"
	"guard_server/pkg/response"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// maxBatchCandidates bounds one batch or recheck request body.
const maxBatchCandidates = 5000

// EvaluateHandler serves classification requests.
type EvaluateHandler struct {
	svc       in.ModerationService
	publisher out.RecheckPublisher
}

// NewEvaluateHandler creates the handler. publisher may be nil when no queue is configured.
func NewEvaluateHandler(svc in.ModerationService, publisher out.RecheckPublisher) *EvaluateHandler {
	return &EvaluateHandler{svc: svc, publisher: publisher}
}

// Register mounts the routes. admin guards the recheck endpoint.
func (h *EvaluateHandler) Register(router fiber.Router, admin fiber.Handler) {
	router.Post("/evaluate", h.Evaluate)
	router.Post("/evaluate/batch", h.EvaluateBatch)
	router.Post("/recheck", admin, h.Recheck)
}

type evaluateRequest struct {
	Candidate        *domain.Candidate `json:"candidate"`
	BypassHeuristics bool              `json:"bypass_heuristics"`
}

type batchRequest struct {
	Candidates []*domain.Candidate `json:"candidates"`
	Offset     int                 `json:"offset"`
	PageSize   int                 `json:"page_size"`
	// nil means true: bulk re-evaluation wants the LLM-only signal.
	BypassHeuristics *bool `json:"bypass_heuristics"`
}

func (r *batchRequest) bypass() bool {
	return r.BypassHeuristics == nil || *r.BypassHeuristics
}

func (r *batchRequest) validate() error {
	if len(r.Candidates) == 0 {
		return apperr.MissingField("candidates")
	}
	if len(r.Candidates) > maxBatchCandidates {
		return apperr.InvalidInput("candidates", "too many candidates")
	}
	for _, c := range r.Candidates {
		if c == nil {
			return apperr.InvalidInput("candidates", "null candidate")
		}
	}
	return nil
}

// Evaluate classifies one candidate.
func (h *EvaluateHandler) Evaluate(c *fiber.Ctx) error {
	var req evaluateRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if req.Candidate == nil {
		return apperr.MissingField("candidate")
	}

	result := h.svc.Evaluate(c.UserContext(), req.Candidate, in.EvaluateOptions{BypassHeuristics: req.BypassHeuristics})
	return response.OK(c, result)
}

// EvaluateBatch evaluates one page synchronously.
func (h *EvaluateHandler) EvaluateBatch(c *fiber.Ctx) error {
	var req batchRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if err := req.validate(); err != nil {
		return err
	}

	result := h.svc.EvaluateBatch(c.UserContext(), req.Candidates, req.Offset, req.PageSize,
		in.EvaluateOptions{BypassHeuristics: req.bypass()})
	return response.OK(c, result)
}

// Recheck enqueues the whole backlog; workers walk it page by page.
func (h *EvaluateHandler) Recheck(c *fiber.Ctx) error {
	if h.publisher == nil {
		return apperr.New(apperr.CodeConfigError, "recheck queue is not configured", http.StatusServiceUnavailable)
	}

	var req batchRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if err := req.validate(); err != nil {
		return err
	}

	job := &out.RecheckJob{
		JobID:            uuid.NewString(),
		Candidates:       req.Candidates,
		Offset:           req.Offset,
		PageSize:         req.PageSize,
		BypassHeuristics: req.bypass(),
	}
	if err := h.publisher.PublishRecheck(c.UserContext(), job); err != nil {
		return apperr.ExternalError("recheck queue", err)
	}

	logger.WithFields(map[string]any{
		"job_id": job.JobID,
		"total":  len(job.Candidates),
	}).Info("recheck job queued")

	return response.Accepted(c, fiber.Map{
		"job_id": job.JobID,
		"total":  len(job.Candidates),
	})
}
