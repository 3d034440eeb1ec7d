package domain

// Action is the engine's final recommendation for a candidate.
type Action string

const (
	ActionSpam    Action = "spam"    // Reject as spam
	ActionHold    Action = "hold"    // Hold for manual review
	ActionApprove Action = "approve" // Approve immediately
	ActionNone    Action = "none"    // Defer to normal downstream handling
)

// IsValid reports whether a is one of the known actions.
func (a Action) IsValid() bool {
	switch a {
	case ActionSpam, ActionHold, ActionApprove, ActionNone:
		return true
	}
	return false
}

// Candidate is the unit of evaluation: submitted text plus author metadata.
// It is never persisted itself; only the resulting DecisionLog is.
type Candidate struct {
	ID                  string `json:"id,omitempty"`
	Text                string `json:"text"`
	AuthorName          string `json:"author_name,omitempty"`
	AuthorEmail         string `json:"author_email,omitempty"`
	AuthorURL           string `json:"author_url,omitempty"`
	ReferenceDocumentID string `json:"reference_document_id,omitempty"`
	IsAuthenticatedUser bool   `json:"is_authenticated_user,omitempty"`
	IsTest              bool   `json:"is_test,omitempty"`
}

// EntityID returns the id to record in the decision log.
// Test candidates are not tied to a real entity.
func (c *Candidate) EntityID() *string {
	if c == nil || c.IsTest || c.ID == "" {
		return nil
	}
	id := c.ID
	return &id
}

// Document is a reference document (e.g. the post a comment was left on).
type Document struct {
	ID        string `json:"id" db:"id"`
	Title     string `json:"title" db:"title"`
	Body      string `json:"body" db:"body"`
	Published bool   `json:"published" db:"published"`
}

// Evaluation is the full result of a single evaluate call.
type Evaluation struct {
	Action  Action       `json:"action"`
	Verdict *Verdict     `json:"verdict,omitempty"`
	Record  *DecisionLog `json:"record,omitempty"`
	Skipped bool         `json:"skipped,omitempty"`
}

// BatchResult is one evaluated page of a batch re-evaluation.
type BatchResult struct {
	Results    []*Evaluation `json:"results"`
	NextOffset int           `json:"next_offset"`
	Remaining  int           `json:"remaining"`
}
