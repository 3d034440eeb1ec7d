package llm

import (
	"fmt"
	"strconv"
	"strings"

	"guard_server/core/domain"

	"github.com/goccy/go-json"
)

// ReasonFallbackParse marks verdicts produced by the keyword fallback.
const ReasonFallbackParse = "fallback parse"

// ParseVerdict turns raw model output into a verdict. It never fails:
// structured extraction first, keyword fallback second.
func ParseVerdict(raw string) *domain.Verdict {
	if v, ok := parseStructured(raw); ok {
		return v
	}
	return parseFallback(raw)
}

// parseStructured extracts the span between the first '{' and the last '}' and
// decodes it. ok is false when there is no object or it has no "label" key.
func parseStructured(raw string) (*domain.Verdict, bool) {
	raw = strings.TrimSpace(raw)
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &obj); err != nil {
		return nil, false
	}
	label, ok := obj["label"]
	if !ok {
		return nil, false
	}

	v := &domain.Verdict{
		Label:      normalizeLabel(label),
		Confidence: 0.5,
		Reasons:    []string{},
	}
	if c, ok := toFloat(obj["confidence"]); ok {
		v.Confidence = domain.ClampConfidence(c)
	}
	v.Reasons = toReasons(obj["reasons"])
	return v, true
}

// parseFallback classifies by keyword when the output has no usable JSON.
func parseFallback(raw string) *domain.Verdict {
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "spam") && !strings.Contains(lower, "valid") {
		return &domain.Verdict{Label: domain.LabelSpam, Confidence: 0.85, Reasons: []string{ReasonFallbackParse}}
	}
	return &domain.Verdict{Label: domain.LabelValid, Confidence: 0.55, Reasons: []string{ReasonFallbackParse}}
}

// normalizeLabel accepts "spam"/"valid" in any case, or a bool where true means spam.
// Anything else is valid.
func normalizeLabel(v any) domain.Label {
	switch l := v.(type) {
	case string:
		if strings.EqualFold(strings.TrimSpace(l), string(domain.LabelSpam)) {
			return domain.LabelSpam
		}
	case bool:
		if l {
			return domain.LabelSpam
		}
	}
	return domain.LabelValid
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toReasons(v any) []string {
	out := []string{}
	switch r := v.(type) {
	case []any:
		for _, item := range r {
			if len(out) == domain.MaxReasons {
				break
			}
			if item == nil {
				continue
			}
			s := strings.TrimSpace(fmt.Sprint(item))
			if s != "" {
				out = append(out, s)
			}
		}
	case string:
		if s := strings.TrimSpace(r); s != "" {
			out = append(out, s)
		}
	}
	return out
}
