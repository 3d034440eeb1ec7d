// Package moderation implements the comment classification decision engine.
//
// Evaluation order:
//
//	Precheck:   empty body -> hold
//	Heuristics: links, content phrases, author name, email domain, URL domain
//	Context:    optional digest of the reference document
//	Dispatch:   primary candidate models, then the secondary provider, under backoff windows
//	Policy:     verdict + confidence -> spam | hold | approve | none
package moderation

import (
	"net/mail"
	"net/url"
	"strings"
)

// EmailDomain extracts the normalized domain of a syntactically valid address.
// Returns "" on anything unparseable.
func EmailDomain(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return ""
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return ""
	}
	return NormalizeDomain(addr.Address[at+1:])
}

// URLDomain extracts the normalized host of a URL, tolerating a missing scheme.
func URLDomain(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	host := hostOf(s)
	if host == "" && !strings.Contains(s, "://") {
		host = hostOf("http://" + s)
	}
	return NormalizeDomain(host)
}

func hostOf(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// NormalizeDomain lowercases, strips trailing dots and any leading "www." labels.
// It is idempotent.
func NormalizeDomain(d string) string {
	for {
		prev := d
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimRight(d, ".")
		d = strings.TrimPrefix(d, "www.")
		if d == prev {
			return d
		}
	}
}

// BlacklistDomain normalizes a configured domain entry, which may be written as
// "@example.com", "example.com" or a full URL.
func BlacklistDomain(entry string) string {
	entry = strings.TrimPrefix(strings.TrimSpace(entry), "@")
	if d := URLDomain(entry); d != "" {
		return d
	}
	return NormalizeDomain(entry)
}
