package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Settings bounds.
const (
	MinTimeoutSeconds = 3
	MinContextBudget  = 200
	MaxContextBudget  = 8000
)

// Provider defaults (OpenAI-compatible endpoints).
const (
	DefaultPrimaryBaseURL   = "https://api.groq.com/openai/v1"
	DefaultPrimaryModel     = "llama-3.3-70b-versatile"
	DefaultSecondaryBaseURL = "https://openrouter.ai/api/v1"
	DefaultSecondaryModel   = "meta-llama/llama-3.3-70b-instruct:free"
)

// DefaultFallbackModels are tried on the primary provider after the configured model.
var DefaultFallbackModels = []string{
	"llama-3.1-8b-instant",
	"gemma2-9b-it",
}

// ProviderSettings holds credentials and model selection for one provider.
type ProviderSettings struct {
	Enabled        bool     `json:"enabled"`
	APIKey         string   `json:"api_key"`
	BaseURL        string   `json:"base_url"`
	Model          string   `json:"model"`
	FallbackModels []string `json:"fallback_models,omitempty"`
}

// Configured reports whether the provider can be called at all.
func (p ProviderSettings) Configured() bool {
	return p.Enabled && strings.TrimSpace(p.APIKey) != ""
}

// Candidates returns the ordered, deduplicated model list: configured model first.
func (p ProviderSettings) Candidates() []string {
	seen := make(map[string]bool, len(p.FallbackModels)+1)
	out := make([]string, 0, len(p.FallbackModels)+1)
	for _, m := range append([]string{p.Model}, p.FallbackModels...) {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Settings is the engine configuration. The engine reads a snapshot per call and never mutates it.
type Settings struct {
	Enabled bool `json:"enabled"`

	Primary   ProviderSettings `json:"primary"`
	Secondary ProviderSettings `json:"secondary"`

	ConfidenceThreshold float64 `json:"confidence_threshold"`
	AutoAction          Action  `json:"auto_action"` // spam | hold
	TimeoutSeconds      int     `json:"timeout_seconds"`
	MaxTokens           int     `json:"max_tokens"`

	ForceSpamOnLLM           bool `json:"force_spam_on_llm"`
	AutoApproveValid         bool `json:"auto_approve_valid"`
	AutoApproveLinklessValid bool `json:"auto_approve_linkless_valid"`

	MaxLinks             int      `json:"max_links"`
	ContentBlacklist     []string `json:"content_blacklist"`
	CheckAuthorFields    bool     `json:"check_author_fields"`
	AuthorNameBlacklist  []string `json:"author_name_blacklist"`
	EmailDomainBlacklist []string `json:"email_domain_blacklist"`
	URLDomainBlacklist   []string `json:"url_domain_blacklist"`
	BlockDisposable      bool     `json:"block_disposable"`

	IncludeContext bool `json:"include_context"`
	ContextBudget  int  `json:"context_budget"`

	RetentionDays           int  `json:"retention_days"`
	CheckAuthenticatedUsers bool `json:"check_authenticated_users"`
}

// DefaultSettings returns the documented defaults. Credentials are empty.
func DefaultSettings() Settings {
	return Settings{
		Enabled: true,
		Primary: ProviderSettings{
			Enabled:        true,
			BaseURL:        DefaultPrimaryBaseURL,
			Model:          DefaultPrimaryModel,
			FallbackModels: append([]string(nil), DefaultFallbackModels...),
		},
		Secondary: ProviderSettings{
			BaseURL: DefaultSecondaryBaseURL,
			Model:   DefaultSecondaryModel,
		},
		ConfidenceThreshold: 0.8,
		AutoAction:          ActionSpam,
		TimeoutSeconds:      15,
		MaxTokens:           200,
		MaxLinks:            2,
		CheckAuthorFields:   true,
		BlockDisposable:     true,
		IncludeContext:      true,
		ContextBudget:       2000,
		RetentionDays:       30,
	}
}

// Timeout returns the per-call provider timeout.
func (s *Settings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// SpamAction returns the configured action for confident spam, defaulting to spam.
func (s *Settings) SpamAction() Action {
	if s.AutoAction == ActionHold {
		return ActionHold
	}
	return ActionSpam
}

// Normalize lowercases and dedupes blacklists and fills empty provider fields with defaults.
// domainFn normalizes domain blacklist entries.
func (s *Settings) Normalize(domainFn func(string) string) {
	s.ContentBlacklist = normalizeSet(s.ContentBlacklist, nil)
	s.AuthorNameBlacklist = normalizeSet(s.AuthorNameBlacklist, nil)
	s.EmailDomainBlacklist = normalizeSet(s.EmailDomainBlacklist, domainFn)
	s.URLDomainBlacklist = normalizeSet(s.URLDomainBlacklist, domainFn)

	if s.Primary.BaseURL == "" {
		s.Primary.BaseURL = DefaultPrimaryBaseURL
	}
	if s.Primary.Model == "" {
		s.Primary.Model = DefaultPrimaryModel
	}
	if s.Secondary.BaseURL == "" {
		s.Secondary.BaseURL = DefaultSecondaryBaseURL
	}
	if s.Secondary.Model == "" {
		s.Secondary.Model = DefaultSecondaryModel
	}
	s.Primary.BaseURL = strings.TrimRight(s.Primary.BaseURL, "/")
	s.Secondary.BaseURL = strings.TrimRight(s.Secondary.BaseURL, "/")
	if s.AutoAction != ActionHold {
		s.AutoAction = ActionSpam
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = 200
	}
}

// Validate checks the invariants. It runs once where settings enter the process.
func (s *Settings) Validate() error {
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be within [0,1], got %v", s.ConfidenceThreshold)
	}
	if s.TimeoutSeconds < MinTimeoutSeconds {
		return fmt.Errorf("timeout_seconds must be >= %d, got %d", MinTimeoutSeconds, s.TimeoutSeconds)
	}
	if s.ContextBudget < MinContextBudget || s.ContextBudget > MaxContextBudget {
		return fmt.Errorf("context_budget must be within [%d,%d], got %d", MinContextBudget, MaxContextBudget, s.ContextBudget)
	}
	if s.MaxLinks < 0 {
		return fmt.Errorf("max_links must be >= 0, got %d", s.MaxLinks)
	}
	if s.RetentionDays < 0 {
		return fmt.Errorf("retention_days must be >= 0, got %d", s.RetentionDays)
	}
	for name, p := range map[string]ProviderSettings{"primary": s.Primary, "secondary": s.Secondary} {
		if p.BaseURL == "" {
			continue
		}
		u, err := url.Parse(p.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s.base_url is not an absolute URL: %q", name, p.BaseURL)
		}
	}
	return nil
}

// Redacted returns a copy with API keys masked, for admin responses.
func (s Settings) Redacted() Settings {
	s.Primary.APIKey = maskKey(s.Primary.APIKey)
	s.Secondary.APIKey = maskKey(s.Secondary.APIKey)
	s.Primary.FallbackModels = append([]string(nil), s.Primary.FallbackModels...)
	return s
}

func maskKey(k string) string {
	if k == "" {
		return ""
	}
	if len(k) <= 8 {
		return "****"
	}
	return k[:4] + "****" + k[len(k)-4:]
}

func normalizeSet(in []string, fn func(string) string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if fn != nil {
			v = fn(v)
		}
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
