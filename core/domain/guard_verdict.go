package domain

import "time"

// Label is the model's raw classification.
type Label string

const (
	LabelSpam  Label = "spam"
	LabelValid Label = "valid"
)

// MaxReasons bounds the number of reasons kept from a model verdict.
const MaxReasons = 6

// Verdict codes carried in Verdict.Error when classification did not complete.
const (
	VerdictErrRateLimited   = "rate_limited"
	VerdictErrAllBackoff    = "all_models_backoff"
	VerdictErrUnavailable   = "unavailable"
	VerdictErrMissingAPIKey = "missing_api_key"
)

// Verdict is the structured output of a classification attempt.
type Verdict struct {
	Label      Label    `json:"label"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`

	// Error is non-empty when the verdict is a synthetic fail-safe.
	Error string `json:"error,omitempty"`
}

// IsSpam reports whether the verdict labels the text as spam.
func (v *Verdict) IsSpam() bool {
	return v != nil && v.Label == LabelSpam
}

// HasError reports whether the verdict carries an error signal.
func (v *Verdict) HasError() bool {
	return v == nil || v.Error != ""
}

// FailSafeVerdict returns the low-confidence valid verdict used when no provider answered.
func FailSafeVerdict(code string, reasons ...string) *Verdict {
	if len(reasons) == 0 {
		reasons = []string{code}
	}
	return &Verdict{
		Label:      LabelValid,
		Confidence: 0.5,
		Reasons:    reasons,
		Error:      code,
	}
}

// ClampConfidence forces c into [0, 1].
func ClampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0.5
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// OutcomeKind classifies a single provider attempt.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRateLimited
	OutcomeTransientError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTransientError:
		return "transient_error"
	default:
		return "unknown"
	}
}

// ChatOutcome is the result of one provider call. No retries happen inside the call.
type ChatOutcome struct {
	Kind OutcomeKind

	// Success
	Verdict    *Verdict
	Content    string
	TokenCount int

	// ThrottleUntil is set on a successful response that exhausted the model's quota.
	// It is a proactive throttle, not an error.
	ThrottleUntil time.Time

	// RateLimited
	RetryAt      time.Time
	ProviderWide bool

	// TransientError
	Message string

	StatusCode int
	RawBody    string
	Latency    time.Duration
}
