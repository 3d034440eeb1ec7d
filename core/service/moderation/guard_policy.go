package moderation

import "guard_server/core/domain"

// ApplyPolicy converts a verdict into the final action.
// A verdict carrying an error is always held; classification failure never approves or rejects.
func ApplyPolicy(v *domain.Verdict, text string, s *domain.Settings) domain.Action {
	if v.HasError() {
		return domain.ActionHold
	}

	if v.IsSpam() {
		switch {
		case s.ForceSpamOnLLM:
			return domain.ActionSpam
		case v.Confidence >= s.ConfidenceThreshold:
			return s.SpamAction()
		default:
			return domain.ActionHold
		}
	}

	switch {
	case s.AutoApproveValid:
		return domain.ActionApprove
	case s.AutoApproveLinklessValid && !ContainsURL(text):
		return domain.ActionApprove
	default:
		return domain.ActionNone
	}
}
