package moderation

import (
	"context"
	"fmt"
	"time"

	"guard_server/core/agent/llm"
	"guard_server/core/domain"
	"guard_server/core/port/out"
)

const probeSample = "Great article, thanks for sharing! Check out my site for cheap watches."

// ProbeResult is the outcome of a single live provider call with a fixed sample.
type ProbeResult struct {
	Provider   string             `json:"provider"`
	Model      string             `json:"model"`
	Kind       domain.OutcomeKind `json:"-"`
	Outcome    string             `json:"outcome"`
	StatusCode int                `json:"status_code,omitempty"`
	LatencyMS  int64              `json:"latency_ms"`
	Verdict    *domain.Verdict    `json:"verdict,omitempty"`
	Message    string             `json:"message,omitempty"`
	RetryAt    *time.Time         `json:"retry_at,omitempty"`

	// FallbackParse is set when the reply had no usable JSON verdict.
	FallbackParse bool `json:"fallback_parse,omitempty"`
}

// Probe calls one provider once, bypassing backoff windows. No decision record is written.
func (s *Service) Probe(ctx context.Context, provider string) (*ProbeResult, error) {
	settings := s.settings.Snapshot()

	var (
		client out.ChatProvider
		creds  domain.ProviderSettings
	)
	switch provider {
	case ProviderPrimary:
		client, creds = s.primary, settings.Primary
	case ProviderSecondary:
		client, creds = s.secondary, settings.Secondary
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
	if client == nil || creds.APIKey == "" {
		return nil, fmt.Errorf("%s provider is not configured", provider)
	}

	o := client.Complete(ctx, out.ChatRequest{
		BaseURL:   creds.BaseURL,
		APIKey:    creds.APIKey,
		Model:     creds.Model,
		System:    s.systemPrompt,
		User:      llm.BuildUserPrompt(llm.PromptInput{Text: probeSample}),
		MaxTokens: settings.MaxTokens,
		Timeout:   settings.Timeout(),
	})

	res := &ProbeResult{
		Provider:   provider,
		Model:      creds.Model,
		Kind:       o.Kind,
		Outcome:    o.Kind.String(),
		StatusCode: o.StatusCode,
		LatencyMS:  o.Latency.Milliseconds(),
		Verdict:    o.Verdict,
		Message:    o.Message,
	}
	if o.Kind == domain.OutcomeSuccess && o.Verdict != nil {
		res.FallbackParse = len(o.Verdict.Reasons) == 1 && o.Verdict.Reasons[0] == llm.ReasonFallbackParse
	}
	if !o.RetryAt.IsZero() {
		at := o.RetryAt.UTC()
		res.RetryAt = &at
	}
	return res, nil
}

// ActiveBackoff lists the active backoff windows for the configured providers and models.
func (s *Service) ActiveBackoff(ctx context.Context) map[string]time.Time {
	settings := s.settings.Snapshot()
	keys := []string{ProviderKey(ProviderPrimary), ProviderKey(ProviderSecondary)}
	for _, m := range settings.Primary.Candidates() {
		keys = append(keys, ModelKey(ProviderPrimary, m))
	}
	if settings.Secondary.Model != "" {
		keys = append(keys, ModelKey(ProviderSecondary, settings.Secondary.Model))
	}
	return s.backoff.Active(ctx, keys)
}
