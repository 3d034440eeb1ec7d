package moderation

// disposableDomains is a static list of throwaway mailbox providers.
var disposableDomains = map[string]struct{}{
	"0-mail.com":             {},
	"10minutemail.com":       {},
	"20minutemail.com":       {},
	"33mail.com":             {},
	"anonbox.net":            {},
	"discard.email":          {},
	"dispostable.com":        {},
	"emailondeck.com":        {},
	"fakeinbox.com":          {},
	"getairmail.com":         {},
	"getnada.com":            {},
	"guerrillamail.biz":      {},
	"guerrillamail.com":      {},
	"guerrillamail.de":       {},
	"guerrillamail.net":      {},
	"guerrillamail.org":      {},
	"guerrillamailblock.com": {},
	"harakirimail.com":       {},
	"incognitomail.org":      {},
	"mailcatch.com":          {},
	"maildrop.cc":            {},
	"mailinator.com":         {},
	"mailinator.net":         {},
	"mailnesia.com":          {},
	"mintemail.com":          {},
	"moakt.com":              {},
	"mohmal.com":             {},
	"mytemp.email":           {},
	"sharklasers.com":        {},
	"spam4.me":               {},
	"spambox.us":             {},
	"spamgourmet.com":        {},
	"temp-mail.io":           {},
	"temp-mail.org":          {},
	"tempail.com":            {},
	"tempmail.com":           {},
	"tempmail.net":           {},
	"tempmailo.com":          {},
	"tempr.email":            {},
	"throwawaymail.com":      {},
	"trashmail.com":          {},
	"trashmail.de":           {},
	"yopmail.com":            {},
	"yopmail.fr":             {},
	"yopmail.net":            {},
}

// IsDisposableDomain reports whether domain (already normalized) belongs to a throwaway provider.
func IsDisposableDomain(domain string) bool {
	if domain == "" {
		return false
	}
	_, ok := disposableDomains[domain]
	return ok
}
