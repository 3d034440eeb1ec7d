package moderation

import (
	"html"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	introWords      = 120
	conclusionWords = 60
	snippetWindow   = 700
	maxKeywords     = 12
	minKeywordLen   = 3
)

var (
	scriptStylePattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagPattern         = regexp.MustCompile(`(?s)<[^>]*>`)
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {}, "all": {},
	"any": {}, "can": {}, "had": {}, "her": {}, "was": {}, "one": {}, "our": {}, "out": {},
	"has": {}, "have": {}, "him": {}, "his": {}, "how": {}, "its": {}, "may": {}, "new": {},
	"now": {}, "old": {}, "see": {}, "two": {}, "way": {}, "who": {}, "did": {}, "get": {},
	"got": {}, "let": {}, "say": {}, "she": {}, "too": {}, "use": {}, "this": {}, "that": {},
	"with": {}, "from": {}, "they": {}, "will": {}, "would": {}, "there": {}, "their": {},
	"what": {}, "about": {}, "which": {}, "when": {}, "make": {}, "like": {}, "just": {},
	"your": {}, "than": {}, "then": {}, "them": {}, "been": {}, "were": {}, "some": {},
	"into": {}, "more": {}, "very": {}, "also": {}, "here": {}, "only": {}, "could": {},
	"should": {}, "these": {}, "those": {}, "such": {}, "over": {}, "after": {}, "before": {},
	"where": {}, "while": {}, "because": {}, "does": {}, "doing": {}, "each": {}, "other": {},
	"thanks": {}, "thank": {}, "great": {}, "nice": {}, "good": {}, "post": {}, "article": {},
	"really": {}, "much": {}, "well": {}, "http": {}, "https": {}, "www": {}, "com": {},
}

// StripMarkup removes tags, decodes entities and collapses whitespace.
func StripMarkup(s string) string {
	s = scriptStylePattern.ReplaceAllString(s, " ")
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// Keywords returns up to 12 non-stopword tokens of at least 3 characters,
// ranked by frequency with ties broken by first occurrence.
func Keywords(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(StripMarkup(text)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	counts := make(map[string]int)
	order := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len([]rune(tok)) < minKeywordLen {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if counts[tok] == 0 {
			order = append(order, tok)
		}
		counts[tok]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	return order
}

// Summarize builds a bounded digest of a reference document: title, intro,
// a snippet around the first keyword hit and a conclusion. The result never
// exceeds budget characters. It is deterministic.
func Summarize(title, fullText, candidateText string, budget int) string {
	titleLine := "Title: " + strings.TrimSpace(StripMarkup(title))

	clean := StripMarkup(fullText)
	if clean == "" {
		return truncateRunes(titleLine, budget)
	}

	words := strings.Fields(clean)
	sections := []string{titleLine, "Intro: " + joinWords(words, 0, introWords)}

	if snippet := keywordSnippet(clean, Keywords(candidateText)); snippet != "" {
		sections = append(sections, "Relevant excerpt: "+snippet)
	}

	if len(words) > introWords {
		sections = append(sections, "Conclusion: "+joinWords(words, len(words)-conclusionWords, len(words)))
	}

	return truncateRunes(strings.Join(sections, "\n"), budget)
}

// keywordSnippet returns a ~700 character window centered on the earliest keyword hit,
// trimmed to word boundaries. Empty when the text is short or nothing matches.
func keywordSnippet(clean string, keywords []string) string {
	if len(keywords) == 0 || len(clean) <= snippetWindow {
		return ""
	}

	lower := strings.ToLower(clean)
	source := clean
	if len(lower) != len(clean) {
		source = lower
	}

	hit := -1
	for _, kw := range keywords {
		if i := strings.Index(lower, kw); i >= 0 && (hit < 0 || i < hit) {
			hit = i
		}
	}
	if hit < 0 {
		return ""
	}

	start := hit - snippetWindow/2
	end := hit + snippetWindow/2
	if start < 0 {
		end -= start
		start = 0
	}
	if end > len(source) {
		start -= end - len(source)
		end = len(source)
		if start < 0 {
			start = 0
		}
	}

	if start > 0 {
		if sp := strings.IndexByte(source[start:hit], ' '); sp >= 0 {
			start += sp + 1
		} else {
			start = hit
		}
	}
	if end < len(source) {
		if sp := strings.LastIndexByte(source[hit:end], ' '); sp > 0 {
			end = hit + sp
		}
		for end > hit && !utf8.RuneStart(source[end]) {
			end--
		}
	}

	return strings.TrimSpace(source[start:end])
}

func joinWords(words []string, from, to int) string {
	if to > len(words) {
		to = len(words)
	}
	if from >= to {
		return ""
	}
	return strings.Join(words[from:to], " ")
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
