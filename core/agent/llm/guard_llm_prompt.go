package llm

import (
	"strings"
)

const placeholderNone = "(none)"

// SystemInstruction is sent as the system message on every classification call.
const SystemInstruction = `You are a strict comment moderation classifier for a website.
Decide whether a user-submitted comment is spam or a valid contribution.
Spam includes advertising, SEO link drops, scams, phishing, gibberish and mass-produced text.
When context about the post is provided, generic or off-topic praise that could be pasted under any post ("Great article, thanks for sharing!") is spam.
Respond with a single line of JSON and nothing else, using exactly these keys:
{"label": "spam" | "valid", "confidence": number between 0 and 1, "reasons": ["short reason", ...]}`

// PromptInput is the material for one user prompt.
type PromptInput struct {
	Context     string
	AuthorName  string
	AuthorEmail string
	AuthorURL   string
	Text        string
}

// BuildUserPrompt assembles the user message: optional context block, the instruction line,
// author metadata (each "(none)" when absent), then the comment text.
func BuildUserPrompt(in PromptInput) string {
	var b strings.Builder

	if ctx := strings.TrimSpace(in.Context); ctx != "" {
		b.WriteString("Post context:\n")
		b.WriteString(ctx)
		b.WriteString("\n\n")
	}

	b.WriteString("Classify the following comment. Reply with the JSON object only.\n")
	b.WriteString("Author name: " + orNone(in.AuthorName) + "\n")
	b.WriteString("Author email: " + orNone(in.AuthorEmail) + "\n")
	b.WriteString("Author URL: " + orNone(in.AuthorURL) + "\n")
	b.WriteString("Comment:\n")
	b.WriteString(in.Text)

	return b.String()
}

func orNone(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return placeholderNone
	}
	return s
}
