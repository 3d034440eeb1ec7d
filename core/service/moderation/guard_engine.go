package moderation

import (
	"context"
	"strings"
	"time"

	"guard_server/core/agent/llm"
	"guard_server/core/domain"
	"guard_server/core/port/in"
	"guard_server/core/port/out"
	"guard_server/pkg/logger"

	"github.com/google/uuid"
)

const (
	archiveTimeout       = 3 * time.Second
	defaultBatchParallel = 4
)

// Service is the decision engine.
type Service struct {
	primary   out.ChatProvider
	secondary out.ChatProvider
	backoff   *BackoffTracker
	decisions out.DecisionLogRepository
	documents out.DocumentRepository
	archive   out.ResponseArchive
	settings  out.SettingsProvider

	heuristics   HeuristicFilter
	systemPrompt string
	now          func() time.Time

	batchParallel int
}

// Deps wires the engine's collaborators. Decisions, Documents, Archive and Secondary are optional.
type Deps struct {
	Primary   out.ChatProvider
	Secondary out.ChatProvider
	Backoff   out.BackoffStore
	Decisions out.DecisionLogRepository
	Documents out.DocumentRepository
	Archive   out.ResponseArchive
	Settings  out.SettingsProvider

	Now           func() time.Time
	BatchParallel int
}

var _ in.ModerationService = (*Service)(nil)

// NewService creates the decision engine.
func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.BatchParallel <= 0 {
		d.BatchParallel = defaultBatchParallel
	}
	return &Service{
		primary:       d.Primary,
		secondary:     d.Secondary,
		backoff:       NewBackoffTracker(d.Backoff, d.Now),
		decisions:     d.Decisions,
		documents:     d.Documents,
		archive:       d.Archive,
		settings:      d.Settings,
		systemPrompt:  llm.SystemInstruction,
		now:           d.Now,
		batchParallel: d.BatchParallel,
	}
}

// Evaluate classifies one candidate and writes exactly one decision record,
// except when the engine is disabled for this candidate. It never fails.
func (s *Service) Evaluate(ctx context.Context, c *domain.Candidate, opts in.EvaluateOptions) *domain.Evaluation {
	settings := s.settings.Snapshot()
	if c == nil {
		c = &domain.Candidate{}
	}

	if !settings.Enabled || (c.IsAuthenticatedUser && !settings.CheckAuthenticatedUsers) {
		return &domain.Evaluation{Action: domain.ActionNone, Skipped: true}
	}

	if strings.TrimSpace(c.Text) == "" {
		verdict := &domain.Verdict{Label: domain.LabelValid, Confidence: 0, Reasons: []string{"empty body"}}
		return s.finish(ctx, c, domain.ActionHold, verdict, &domain.DecisionLog{
			Model:       domain.ModelPrecheck,
			RawResponse: syntheticPayload(map[string]any{"note": "empty body, no classification performed"}),
		})
	}

	if !opts.BypassHeuristics {
		if m := s.heuristics.Check(c, settings); m != nil {
			action := settings.SpamAction()
			verdict := &domain.Verdict{Label: domain.LabelSpam, Confidence: 1.0, Reasons: []string{m.Reason}}
			logger.WithFields(map[string]any{"check": string(m.Check), "action": string(action)}).Info("heuristic match: %s", m.Reason)
			return s.finish(ctx, c, action, verdict, &domain.DecisionLog{
				Model:       domain.ModelHeuristic,
				RawResponse: syntheticPayload(map[string]any{"heuristic": string(m.Check), "reason": m.Reason}),
			})
		}
	}

	prompt := llm.BuildUserPrompt(llm.PromptInput{
		Context:     s.buildContext(ctx, c, settings),
		AuthorName:  c.AuthorName,
		AuthorEmail: c.AuthorEmail,
		AuthorURL:   c.AuthorURL,
		Text:        c.Text,
	})

	res := s.dispatch(ctx, settings, prompt)
	action := ApplyPolicy(res.verdict, c.Text, settings)

	latency := int(res.latency.Milliseconds())
	record := &domain.DecisionLog{
		Model:       res.model,
		TokenCount:  res.tokens,
		LatencyMS:   &latency,
		RawResponse: res.raw,
	}
	if res.errCode != "" {
		code := res.errCode
		record.Error = &code
	}
	return s.finish(ctx, c, action, res.verdict, record)
}

// buildContext returns the reference document digest, or "" when disabled or unavailable.
func (s *Service) buildContext(ctx context.Context, c *domain.Candidate, settings *domain.Settings) string {
	if !settings.IncludeContext || c.ReferenceDocumentID == "" || s.documents == nil {
		return ""
	}
	doc, err := s.documents.GetDocument(ctx, c.ReferenceDocumentID)
	if err != nil {
		logger.WithError(err).WithField("document_id", c.ReferenceDocumentID).Warn("reference document lookup failed")
		return ""
	}
	if doc == nil || !doc.Published {
		return ""
	}
	return Summarize(doc.Title, doc.Body, c.Text, settings.ContextBudget)
}

// finish completes the record, persists it best-effort and returns the evaluation.
func (s *Service) finish(ctx context.Context, c *domain.Candidate, action domain.Action, v *domain.Verdict, record *domain.DecisionLog) *domain.Evaluation {
	record.CreatedAt = s.now().UTC()
	record.EntityID = c.EntityID()
	record.Decision = string(action)
	record.Confidence = v.Confidence
	record.Reasons = append([]string(nil), v.Reasons...)
	record.Seal()

	if s.decisions != nil {
		if err := s.decisions.Append(context.WithoutCancel(ctx), record); err != nil {
			logger.WithError(err).Warn("decision log append failed")
		}
	}

	return &domain.Evaluation{Action: action, Verdict: v, Record: record}
}

// archiveResponse stores the full provider body in the background. Best-effort.
func (s *Service) archiveResponse(ctx context.Context, a attempt, o domain.ChatOutcome) {
	if s.archive == nil || o.RawBody == "" {
		return
	}
	entry := &domain.ResponseArchiveEntry{
		ID:         uuid.NewString(),
		CreatedAt:  s.now().UTC(),
		Provider:   a.providerID,
		Model:      a.model,
		StatusCode: o.StatusCode,
		Outcome:    o.Kind.String(),
		Body:       o.RawBody,
	}
	go func() {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		defer cancel()
		if err := s.archive.Archive(actx, entry); err != nil {
			logger.WithError(err).Debug("response archive failed")
		}
	}()
}
