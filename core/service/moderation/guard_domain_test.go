package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"WWW.Example.com.", "example.com"},
		{"example.com", "example.com"},
		{"  Sub.Example.ORG ", "sub.example.org"},
		{"www.www.example.com", "example.com"},
		{"www. x", "x"},
		{"", ""},
		{"...", ""},
		{"www", "www"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizeDomain(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizeDomain(got), "normalize must be idempotent")
		})
	}
}

func TestNormalizeDomain_Idempotent(t *testing.T) {
	inputs := []string{
		"www.", "www..", "WWW.WWW.a.", " www.b.c. ", "xn--bcher-kva.example", "a b", "WWW. www.x.",
		"\twww.\tq.", "ÄÖ.com", "www.www.", "..www.x",
	}
	for _, in := range inputs {
		once := NormalizeDomain(in)
		if twice := NormalizeDomain(once); twice != once {
			t.Errorf("NormalizeDomain(%q) = %q, again = %q", in, once, twice)
		}
	}
}

func TestEmailDomain(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "bob@Mailinator.com", "mailinator.com"},
		{"display name", "Bob <bob@WWW.Example.com>", "example.com"},
		{"no at", "bob.example.com", ""},
		{"trailing at", "bob@", ""},
		{"empty", "", ""},
		{"garbage", "<<>>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EmailDomain(tt.in))
		})
	}
}

func TestURLDomain(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"with scheme", "https://WWW.Spam-Site.com/path?q=1", "spam-site.com"},
		{"no scheme", "spam-site.com/offers", "spam-site.com"},
		{"www no scheme", "www.spam-site.com", "spam-site.com"},
		{"with port", "http://example.com:8080/", "example.com"},
		{"empty", "", ""},
		{"whitespace", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, URLDomain(tt.in))
		})
	}
}

func TestIsDisposableDomain(t *testing.T) {
	assert.True(t, IsDisposableDomain("mailinator.com"))
	assert.True(t, IsDisposableDomain(EmailDomain("x@YOPMAIL.com")))
	assert.False(t, IsDisposableDomain("gmail.com"))
	assert.False(t, IsDisposableDomain(""))
}

func TestBlacklistDomain(t *testing.T) {
	assert.Equal(t, "bad.com", BlacklistDomain("@Bad.com"))
	assert.Equal(t, "bad.com", BlacklistDomain("https://www.bad.com/x"))
	assert.Equal(t, "bad.com", BlacklistDomain("bad.com."))
	assert.Equal(t, "", BlacklistDomain(""))
}
