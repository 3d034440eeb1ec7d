package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Field bounds for persisted decision records.
const (
	MaxDecisionLen    = 10
	MaxRawResponseLen = 8000
)

// Model identifiers for records that were not produced by a provider.
const (
	ModelHeuristic = "heuristic"
	ModelPrecheck  = "precheck"
	ModelBackoff   = "backoff"
	ModelNone      = "none"

	// SecondaryModelPrefix disambiguates results from the fallback provider.
	SecondaryModelPrefix = "secondary:"
)

// DecisionLog is the audit record written exactly once per evaluate call.
// Records are immutable; only the retention sweep deletes them.
type DecisionLog struct {
	ID          int64     `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	EntityID    *string   `json:"entity_id,omitempty"`
	Decision    string    `json:"decision"`
	Confidence  float64   `json:"confidence"`
	Model       string    `json:"model"`
	TokenCount  *int      `json:"token_count,omitempty"`
	LatencyMS   *int      `json:"latency_ms,omitempty"`
	Reasons     []string  `json:"reasons"`
	RawResponse string    `json:"raw_response"`
	Error       *string   `json:"error,omitempty"`
}

// Seal enforces the record invariants before persistence:
// decision fits its column and raw_response is never empty.
func (r *DecisionLog) Seal() {
	r.Decision = truncateUTF8(r.Decision, MaxDecisionLen)
	if r.Reasons == nil {
		r.Reasons = []string{}
	}
	if r.RawResponse == "" {
		r.RawResponse = `{"note":"no provider response"}`
	}
	r.RawResponse = truncateUTF8(r.RawResponse, MaxRawResponseLen)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

// truncateUTF8 cuts s to at most limit bytes without splitting a rune.
// Invalid bytes in the kept prefix are replaced so the result is always valid UTF-8.
func truncateUTF8(s string, limit int) string {
	if len(s) > limit {
		end := limit
		for end > 0 && !utf8.RuneStart(s[end]) {
			end--
		}
		s = s[:end]
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
		if len(s) > limit {
			return truncateUTF8(s, limit)
		}
	}
	return s
}

// DecisionFilter narrows a history listing.
type DecisionFilter struct {
	Decision string
	EntityID string
	Since    *time.Time
	Limit    int
	Offset   int
}

// ResponseArchiveEntry is a full, unbounded provider response kept for auditing.
type ResponseArchiveEntry struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	StatusCode int       `json:"status_code"`
	Outcome    string    `json:"outcome"`
	Body       string    `json:"body"`
	EntityID   *string   `json:"entity_id,omitempty"`
}
