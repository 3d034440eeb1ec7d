package moderation

import (
	"context"
	"errors"
	"sync"
	"time"

	"guard_server/core/domain"
	"guard_server/core/port/out"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memBackoff is an in-memory BackoffStore.
type memBackoff struct {
	mu      sync.Mutex
	windows map[string]time.Time
	getErr  error
}

func newMemBackoff() *memBackoff {
	return &memBackoff{windows: make(map[string]time.Time)}
}

func (m *memBackoff) GetExpiry(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return time.Time{}, false, m.getErr
	}
	t, ok := m.windows[key]
	return t, ok, nil
}

func (m *memBackoff) SetExpiry(_ context.Context, key string, expiry time.Time, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[key] = expiry
	return nil
}

func (m *memBackoff) get(key string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.windows[key]
	return t, ok
}

// scriptedProvider returns outcomes per model and records every call.
type scriptedProvider struct {
	name string

	mu       sync.Mutex
	calls    []out.ChatRequest
	outcomes map[string][]domain.ChatOutcome // consumed in order; last one repeats
	fallback domain.ChatOutcome
}

func newScriptedProvider(name string) *scriptedProvider {
	return &scriptedProvider{
		name:     name,
		outcomes: make(map[string][]domain.ChatOutcome),
		fallback: transient("HTTP 503: Service Unavailable"),
	}
}

func (p *scriptedProvider) on(model string, outcomes ...domain.ChatOutcome) *scriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes[model] = append(p.outcomes[model], outcomes...)
	return p
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Complete(_ context.Context, req out.ChatRequest) domain.ChatOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	queue := p.outcomes[req.Model]
	switch len(queue) {
	case 0:
		return p.fallback
	case 1:
		return queue[0]
	default:
		p.outcomes[req.Model] = queue[1:]
		return queue[0]
	}
}

func (p *scriptedProvider) models() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.calls))
	for i, c := range p.calls {
		names[i] = c.Model
	}
	return names
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func success(label domain.Label, confidence float64, reasons ...string) domain.ChatOutcome {
	return domain.ChatOutcome{
		Kind:       domain.OutcomeSuccess,
		Verdict:    &domain.Verdict{Label: label, Confidence: confidence, Reasons: reasons},
		TokenCount: 120,
		StatusCode: 200,
		RawBody:    `{"choices":[]}`,
	}
}

func rateLimited(until time.Time) domain.ChatOutcome {
	return domain.ChatOutcome{
		Kind:         domain.OutcomeRateLimited,
		RetryAt:      until,
		ProviderWide: true,
		StatusCode:   429,
		RawBody:      `{"error":{"message":"rate limit"}}`,
		Message:      "HTTP 429: rate limit",
	}
}

func transient(msg string) domain.ChatOutcome {
	return domain.ChatOutcome{
		Kind:       domain.OutcomeTransientError,
		StatusCode: 503,
		Message:    msg,
		RawBody:    `{"error":{"message":"unavailable"}}`,
	}
}

// recordingLog captures appended decision records.
type recordingLog struct {
	mu      sync.Mutex
	records []*domain.DecisionLog
	err     error
}

func (r *recordingLog) Append(_ context.Context, rec *domain.DecisionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingLog) List(context.Context, *domain.DecisionFilter) ([]*domain.DecisionLog, int, error) {
	return nil, 0, errors.New("not implemented")
}

func (r *recordingLog) CountByDecision(context.Context, time.Time) (map[string]int, error) {
	return nil, errors.New("not implemented")
}

func (r *recordingLog) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, errors.New("not implemented")
}

func (r *recordingLog) all() []*domain.DecisionLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.DecisionLog(nil), r.records...)
}

// staticSettings serves a fixed snapshot.
type staticSettings struct{ s *domain.Settings }

func (f staticSettings) Snapshot() *domain.Settings { return f.s }

// fakeDocs serves reference documents by id.
type fakeDocs map[string]*domain.Document

func (f fakeDocs) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	return f[id], nil
}

// engineFixture bundles an engine with its doubles.
type engineFixture struct {
	svc       *Service
	clock     *fakeClock
	backoff   *memBackoff
	primary   *scriptedProvider
	secondary *scriptedProvider
	log       *recordingLog
	settings  *domain.Settings
}

func newFixture(mut func(*domain.Settings)) *engineFixture {
	s := domain.DefaultSettings()
	s.Primary.APIKey = "primary-key"
	s.Primary.Model = "m1"
	s.Primary.FallbackModels = []string{"m2", "m3"}
	s.Secondary.Enabled = true
	s.Secondary.APIKey = "secondary-key"
	s.Secondary.Model = "s1"
	if mut != nil {
		mut(&s)
	}
	s.Normalize(BlacklistDomain)

	f := &engineFixture{
		clock:     newFakeClock(),
		backoff:   newMemBackoff(),
		primary:   newScriptedProvider(ProviderPrimary),
		secondary: newScriptedProvider(ProviderSecondary),
		log:       &recordingLog{},
		settings:  &s,
	}
	f.svc = NewService(Deps{
		Primary:   f.primary,
		Secondary: f.secondary,
		Backoff:   f.backoff,
		Decisions: f.log,
		Documents: fakeDocs{},
		Settings:  staticSettings{&s},
		Now:       f.clock.Now,
	})
	return f
}
