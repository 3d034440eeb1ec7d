package moderation

import (
	"fmt"
	"regexp"
	"strings"

	"guard_server/core/domain"
)

var (
	linkPattern    = regexp.MustCompile(`(?i)https?://[^\s<>"']+`)
	urlLikePattern = regexp.MustCompile(`(?i)(https?://|www\.)`)
)

// HeuristicCheck names the rule that matched.
type HeuristicCheck string

const (
	CheckLinks       HeuristicCheck = "links"
	CheckContent     HeuristicCheck = "content_blacklist"
	CheckAuthorName  HeuristicCheck = "author_name"
	CheckEmailDomain HeuristicCheck = "email_domain"
	CheckDisposable  HeuristicCheck = "disposable_email"
	CheckURLDomain   HeuristicCheck = "url_domain"
)

// HeuristicMatch is a terminal pre-filter hit.
type HeuristicMatch struct {
	Check  HeuristicCheck
	Reason string
}

// CountLinks counts HTTP(S) URLs in text.
func CountLinks(text string) int {
	return len(linkPattern.FindAllStringIndex(text, -1))
}

// ContainsURL reports whether text has anything URL-like (scheme or www.).
func ContainsURL(text string) bool {
	return urlLikePattern.MatchString(text)
}

// HeuristicFilter runs the local checks in fixed order and stops at the first match.
type HeuristicFilter struct{}

// Check returns nil when the candidate should continue to classification.
// Blacklists in settings are expected to be normalized already.
func (HeuristicFilter) Check(c *domain.Candidate, s *domain.Settings) *HeuristicMatch {
	if c == nil || s == nil {
		return nil
	}

	if s.MaxLinks > 0 {
		if n := CountLinks(c.Text); n > s.MaxLinks {
			return &HeuristicMatch{Check: CheckLinks, Reason: fmt.Sprintf("Too many links (%d)", n)}
		}
	}

	if len(s.ContentBlacklist) > 0 {
		body := strings.ToLower(c.Text)
		for _, phrase := range s.ContentBlacklist {
			if phrase != "" && strings.Contains(body, phrase) {
				return &HeuristicMatch{Check: CheckContent, Reason: fmt.Sprintf("Blacklisted phrase: %s", phrase)}
			}
		}
	}

	// CheckAuthorFields gates only the name check; domain checks always run.
	if name := strings.ToLower(strings.TrimSpace(c.AuthorName)); s.CheckAuthorFields && name != "" {
		for _, term := range s.AuthorNameBlacklist {
			if term != "" && strings.Contains(name, term) {
				return &HeuristicMatch{Check: CheckAuthorName, Reason: fmt.Sprintf("Blacklisted author name: %s", term)}
			}
		}
	}

	if d := EmailDomain(c.AuthorEmail); d != "" {
		if containsExact(s.EmailDomainBlacklist, d) {
			return &HeuristicMatch{Check: CheckEmailDomain, Reason: fmt.Sprintf("Blacklisted email domain: %s", d)}
		}
		if s.BlockDisposable && IsDisposableDomain(d) {
			return &HeuristicMatch{Check: CheckDisposable, Reason: fmt.Sprintf("Disposable email domain: %s", d)}
		}
	}

	if d := URLDomain(c.AuthorURL); d != "" && containsExact(s.URLDomainBlacklist, d) {
		return &HeuristicMatch{Check: CheckURLDomain, Reason: fmt.Sprintf("Blacklisted URL domain: %s", d)}
	}

	return nil
}

func containsExact(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
