package moderation

import (
	"context"
	"strings"
	"time"

	"guard_server/core/domain"
	"guard_server/core/port/out"
	"guard_server/pkg/logger"

	"github.com/goccy/go-json"
)

// attempt is one provider/model candidate in dispatch order.
type attempt struct {
	provider    out.ChatProvider
	providerID  string
	model       string
	logModel    string
	credentials domain.ProviderSettings
	keys        []string // checked before the call; any active window skips it
}

func (a attempt) modelKey() string    { return ModelKey(a.providerID, a.model) }
func (a attempt) providerKey() string { return ProviderKey(a.providerID) }

// dispatchResult is what the driver loop settled on.
type dispatchResult struct {
	verdict *domain.Verdict
	model   string
	tokens  *int
	raw     string
	errCode string
	latency time.Duration
}

// dispatch tries candidates in order and stops at the first success.
// Rate limits write backoff windows and end the primary candidate list.
// Transient errors move on to the next candidate.
func (s *Service) dispatch(ctx context.Context, settings *domain.Settings, userPrompt string) dispatchResult {
	start := s.now()
	primaryKey := ProviderKey(ProviderPrimary)
	primaryBlocked, primaryUntil := s.backoff.IsBlocked(ctx, primaryKey)
	secondaryReady := s.secondary != nil && settings.Secondary.Configured()

	if primaryBlocked && !secondaryReady {
		return backoffResult(domain.VerdictErrRateLimited, ProviderPrimary, primaryUntil)
	}

	primaryMisconfigured := settings.Primary.Enabled && strings.TrimSpace(settings.Primary.APIKey) == ""
	if primaryMisconfigured {
		logger.Warn("primary provider has no api key; skipping primary candidates")
	}

	attempts := s.plan(settings, primaryBlocked || primaryMisconfigured, secondaryReady)

	var (
		skipped     []time.Time
		attempted   int
		skipPrimary bool
		last        *domain.ChatOutcome
		lastAttempt attempt
	)
	if primaryBlocked {
		skipped = append(skipped, primaryUntil)
	}

	for _, a := range attempts {
		if skipPrimary && a.providerID == ProviderPrimary {
			continue
		}
		if until, blocked := s.firstBlocked(ctx, a.keys); blocked {
			logger.WithFields(map[string]any{"provider": a.providerID, "model": a.model}).Debug("candidate skipped: backoff active")
			skipped = append(skipped, until)
			continue
		}

		attempted++
		outcome := a.provider.Complete(ctx, out.ChatRequest{
			BaseURL:   a.credentials.BaseURL,
			APIKey:    a.credentials.APIKey,
			Model:     a.model,
			System:    s.systemPrompt,
			User:      userPrompt,
			MaxTokens: settings.MaxTokens,
			Timeout:   settings.Timeout(),
		})
		s.archiveResponse(ctx, a, outcome)

		switch outcome.Kind {
		case domain.OutcomeSuccess:
			if !outcome.ThrottleUntil.IsZero() {
				s.backoff.BlockUntil(ctx, a.modelKey(), outcome.ThrottleUntil)
			}
			tokens := outcome.TokenCount
			verdict := outcome.Verdict
			if verdict == nil {
				verdict = domain.FailSafeVerdict(domain.VerdictErrUnavailable)
			}
			return dispatchResult{
				verdict: verdict,
				model:   a.logModel,
				tokens:  &tokens,
				raw:     outcome.RawBody,
				latency: s.now().Sub(start),
			}

		case domain.OutcomeRateLimited:
			s.backoff.BlockUntil(ctx, a.modelKey(), outcome.RetryAt)
			if outcome.ProviderWide {
				s.backoff.BlockUntil(ctx, a.providerKey(), outcome.RetryAt)
			}
			if a.providerID == ProviderPrimary {
				skipPrimary = true
			}
			o := outcome
			last, lastAttempt = &o, a

		default:
			logger.WithFields(map[string]any{"provider": a.providerID, "model": a.model}).
				Warn("provider attempt failed: %s", outcome.Message)
			o := outcome
			last, lastAttempt = &o, a
		}
	}

	if attempted == 0 && len(skipped) > 0 {
		res := backoffResult(domain.VerdictErrAllBackoff, "all", soonest(skipped))
		res.verdict.Error = domain.VerdictErrRateLimited
		return res
	}

	if last == nil {
		code := domain.VerdictErrUnavailable
		if primaryMisconfigured {
			code = domain.VerdictErrMissingAPIKey
		}
		return dispatchResult{
			verdict: domain.FailSafeVerdict(code),
			model:   domain.ModelNone,
			raw:     syntheticPayload(map[string]any{"error": code, "note": "no provider call was made"}),
			errCode: code,
			latency: s.now().Sub(start),
		}
	}

	code := last.Message
	if last.Kind == domain.OutcomeRateLimited {
		code = domain.VerdictErrRateLimited
	}
	if code == "" {
		code = domain.VerdictErrUnavailable
	}
	raw := last.RawBody
	if raw == "" {
		raw = syntheticPayload(map[string]any{"error": code})
	}
	return dispatchResult{
		verdict: domain.FailSafeVerdict(code),
		model:   lastAttempt.logModel,
		raw:     raw,
		errCode: code,
		latency: s.now().Sub(start),
	}
}

// plan builds the ordered candidate list: primary models first, then the secondary provider.
func (s *Service) plan(settings *domain.Settings, skipPrimary, secondaryReady bool) []attempt {
	var attempts []attempt

	if !skipPrimary && settings.Primary.Enabled && s.primary != nil {
		for _, model := range settings.Primary.Candidates() {
			attempts = append(attempts, attempt{
				provider:    s.primary,
				providerID:  ProviderPrimary,
				model:       model,
				logModel:    model,
				credentials: settings.Primary,
				keys:        []string{ModelKey(ProviderPrimary, model)},
			})
		}
	}

	if secondaryReady {
		model := settings.Secondary.Model
		attempts = append(attempts, attempt{
			provider:    s.secondary,
			providerID:  ProviderSecondary,
			model:       model,
			logModel:    domain.SecondaryModelPrefix + model,
			credentials: settings.Secondary,
			keys:        []string{ProviderKey(ProviderSecondary), ModelKey(ProviderSecondary, model)},
		})
	}

	return attempts
}

func (s *Service) firstBlocked(ctx context.Context, keys []string) (time.Time, bool) {
	for _, k := range keys {
		if blocked, until := s.backoff.IsBlocked(ctx, k); blocked {
			return until, true
		}
	}
	return time.Time{}, false
}

func backoffResult(code, provider string, until time.Time) dispatchResult {
	return dispatchResult{
		verdict: domain.FailSafeVerdict(code, "provider backoff active"),
		model:   domain.ModelBackoff,
		raw: syntheticPayload(map[string]any{
			"error":    code,
			"provider": provider,
			"retry_at": until.UTC().Format(time.RFC3339),
		}),
		errCode: code,
	}
}

func soonest(ts []time.Time) time.Time {
	var first time.Time
	for _, t := range ts {
		if first.IsZero() || t.Before(first) {
			first = t
		}
	}
	return first
}

func syntheticPayload(v map[string]any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"error":"unserializable payload"}`
	}
	return string(data)
}
