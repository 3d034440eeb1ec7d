package moderation

import (
	"testing"

	"guard_server/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestApplyPolicy(t *testing.T) {
	spam := func(c float64) *domain.Verdict { return &domain.Verdict{Label: domain.LabelSpam, Confidence: c} }
	valid := func(c float64) *domain.Verdict { return &domain.Verdict{Label: domain.LabelValid, Confidence: c} }

	tests := []struct {
		name    string
		verdict *domain.Verdict
		text    string
		mut     func(*domain.Settings)
		want    domain.Action
	}{
		{"confident spam", spam(0.9), "x", nil, domain.ActionSpam},
		{"spam at threshold", spam(0.8), "x", nil, domain.ActionSpam},
		{"confident spam held by auto action", spam(0.9), "x", func(s *domain.Settings) { s.AutoAction = domain.ActionHold }, domain.ActionHold},
		{"low confidence spam holds", spam(0.6), "x", nil, domain.ActionHold},
		{"force spam ignores threshold", spam(0.1), "x", func(s *domain.Settings) { s.ForceSpamOnLLM = true }, domain.ActionSpam},
		{"force spam ignores auto action", spam(0.1), "x", func(s *domain.Settings) {
			s.ForceSpamOnLLM = true
			s.AutoAction = domain.ActionHold
		}, domain.ActionSpam},
		{"valid defers", valid(0.99), "x", nil, domain.ActionNone},
		{"valid auto approve", valid(0.2), "x", func(s *domain.Settings) { s.AutoApproveValid = true }, domain.ActionApprove},
		{"valid linkless approve", valid(0.9), "plain text", func(s *domain.Settings) { s.AutoApproveLinklessValid = true }, domain.ActionApprove},
		{"valid with link not approved", valid(0.9), "see www.x.com", func(s *domain.Settings) { s.AutoApproveLinklessValid = true }, domain.ActionNone},
		{"error holds even with overrides", domain.FailSafeVerdict(domain.VerdictErrUnavailable), "x", func(s *domain.Settings) {
			s.AutoApproveValid = true
			s.ForceSpamOnLLM = true
		}, domain.ActionHold},
		{"nil verdict holds", nil, "x", nil, domain.ActionHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := domain.DefaultSettings()
			if tt.mut != nil {
				tt.mut(&s)
			}
			assert.Equal(t, tt.want, ApplyPolicy(tt.verdict, tt.text, &s))
		})
	}
}
