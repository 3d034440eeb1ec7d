package moderation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"guard_server/core/domain"
	"guard_server/core/port/in"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func evaluate(f *engineFixture, c *domain.Candidate) *domain.Evaluation {
	return f.svc.Evaluate(ctx, c, in.EvaluateOptions{})
}

func onlyRecord(t *testing.T, f *engineFixture) *domain.DecisionLog {
	t.Helper()
	records := f.log.all()
	require.Len(t, records, 1, "exactly one record per evaluation")
	return records[0]
}

func TestEvaluate_EmptyBodyHolds(t *testing.T) {
	for _, body := range []string{"", "   ", "\n\t"} {
		f := newFixture(func(s *domain.Settings) { s.ContentBlacklist = []string{" "} })
		ev := evaluate(f, &domain.Candidate{ID: "c1", Text: body, AuthorEmail: "x@mailinator.com"})

		assert.Equal(t, domain.ActionHold, ev.Action)
		assert.Zero(t, f.primary.callCount())
		assert.Zero(t, f.secondary.callCount())
		rec := onlyRecord(t, f)
		assert.Equal(t, domain.ModelPrecheck, rec.Model)
		assert.Equal(t, "hold", rec.Decision)
		assert.NotEmpty(t, rec.RawResponse)
	}
}

func TestEvaluate_TooManyLinks(t *testing.T) {
	f := newFixture(func(s *domain.Settings) { s.MaxLinks = 2 })

	ev := evaluate(f, &domain.Candidate{ID: "c1", Text: "Buy cheap watches http://a.co http://b.co http://c.co"})

	assert.Equal(t, domain.ActionSpam, ev.Action)
	assert.Zero(t, f.primary.callCount())
	rec := onlyRecord(t, f)
	assert.Equal(t, 1.0, rec.Confidence)
	assert.Equal(t, domain.ModelHeuristic, rec.Model)
	assert.Contains(t, rec.Reasons, "Too many links (3)")
	require.NotNil(t, rec.EntityID)
	assert.Equal(t, "c1", *rec.EntityID)
}

func TestEvaluate_LinkCountPropertyAcrossLimits(t *testing.T) {
	for n := 1; n <= 5; n++ {
		f := newFixture(func(s *domain.Settings) { s.MaxLinks = n })
		links := make([]string, n+1)
		for i := range links {
			links[i] = "https://site" + strings.Repeat("x", i) + ".example/p"
		}
		ev := evaluate(f, &domain.Candidate{Text: "see " + strings.Join(links, " ")})
		assert.Equal(t, domain.ActionSpam, ev.Action, "max_links=%d", n)
		assert.Equal(t, 1.0, onlyRecord(t, f).Confidence)
	}
}

func TestEvaluate_BlacklistPhraseNeverCallsProvider(t *testing.T) {
	tests := []struct {
		name       string
		autoAction domain.Action
		want       domain.Action
	}{
		{"auto action spam", domain.ActionSpam, domain.ActionSpam},
		{"auto action hold", domain.ActionHold, domain.ActionHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(func(s *domain.Settings) {
				s.ContentBlacklist = []string{"Casino Bonus"}
				s.AutoAction = tt.autoAction
			})
			f.primary.on("m1", success(domain.LabelValid, 0.99))

			ev := evaluate(f, &domain.Candidate{Text: "Claim your CASINO bonus today"})

			assert.Equal(t, tt.want, ev.Action)
			assert.Zero(t, f.primary.callCount())
			assert.Zero(t, f.secondary.callCount())
			assert.Equal(t, 1.0, onlyRecord(t, f).Confidence)
		})
	}
}

func TestEvaluate_ValidVerdictPolicy(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*domain.Settings)
		want domain.Action
	}{
		{"default defers", nil, domain.ActionNone},
		{"auto approve valid", func(s *domain.Settings) { s.AutoApproveValid = true }, domain.ActionApprove},
		{"auto approve linkless", func(s *domain.Settings) { s.AutoApproveLinklessValid = true }, domain.ActionApprove},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.mut)
			f.primary.on("m1", success(domain.LabelValid, 0.9, "positive, on-topic"))

			ev := evaluate(f, &domain.Candidate{ID: "c9", Text: "Great article, thanks!"})

			assert.Equal(t, tt.want, ev.Action)
			assert.Equal(t, []string{"m1"}, f.primary.models())
			rec := onlyRecord(t, f)
			assert.Equal(t, "m1", rec.Model)
			assert.Equal(t, 0.9, rec.Confidence)
			assert.Equal(t, []string{"positive, on-topic"}, rec.Reasons)
			assert.Nil(t, rec.Error)
			require.NotNil(t, rec.TokenCount)
			assert.Equal(t, 120, *rec.TokenCount)
		})
	}
}

func TestEvaluate_RateLimitedThenBlocked(t *testing.T) {
	f := newFixture(func(s *domain.Settings) { s.Secondary.Enabled = false })
	f.primary.on("m1", rateLimited(f.clock.Now().Add(30*time.Second)))

	first := evaluate(f, &domain.Candidate{Text: "hello there"})
	assert.Equal(t, domain.ActionHold, first.Action)
	assert.Equal(t, []string{"m1"}, f.primary.models(), "rate limit stops the primary candidate list")

	f.clock.Advance(5 * time.Second)
	second := evaluate(f, &domain.Candidate{Text: "hello again"})

	assert.Equal(t, domain.ActionHold, second.Action)
	assert.Equal(t, 1, f.primary.callCount(), "blocked provider must not be called")
	assert.Equal(t, domain.VerdictErrRateLimited, second.Verdict.Error)
	assert.Equal(t, 0.5, second.Verdict.Confidence)
	assert.Equal(t, domain.LabelValid, second.Verdict.Label)

	records := f.log.all()
	require.Len(t, records, 2)
	assert.Equal(t, domain.ModelBackoff, records[1].Model)
	assert.Contains(t, records[1].RawResponse, "retry_at")
}

func TestEvaluate_PrimaryBlockedGoesStraightToSecondary(t *testing.T) {
	f := newFixture(nil)
	f.backoff.windows[ProviderKey(ProviderPrimary)] = f.clock.Now().Add(time.Minute)
	f.secondary.on("s1", success(domain.LabelSpam, 0.95, "link drop"))

	ev := evaluate(f, &domain.Candidate{Text: "nice post"})

	assert.Equal(t, domain.ActionSpam, ev.Action)
	assert.Zero(t, f.primary.callCount())
	assert.Equal(t, []string{"s1"}, f.secondary.models())
	assert.Equal(t, "secondary:s1", onlyRecord(t, f).Model)
}

func TestEvaluate_PerModelBlockSkipsOnlyThatModel(t *testing.T) {
	f := newFixture(nil)
	f.backoff.windows[ModelKey(ProviderPrimary, "m1")] = f.clock.Now().Add(time.Minute)
	f.primary.on("m2", success(domain.LabelValid, 0.8))

	ev := evaluate(f, &domain.Candidate{Text: "interesting"})

	assert.Equal(t, domain.ActionNone, ev.Action)
	assert.Equal(t, []string{"m2"}, f.primary.models())
	assert.Equal(t, "m2", onlyRecord(t, f).Model)
}

func TestEvaluate_RateLimitFallsBackToSecondary(t *testing.T) {
	f := newFixture(nil)
	until := f.clock.Now().Add(45 * time.Second)
	f.primary.on("m1", rateLimited(until))
	f.secondary.on("s1", success(domain.LabelValid, 0.7))

	ev := evaluate(f, &domain.Candidate{Text: "interesting"})

	assert.Equal(t, domain.ActionNone, ev.Action)
	assert.Equal(t, []string{"m1"}, f.primary.models())
	assert.Equal(t, []string{"s1"}, f.secondary.models())

	got, ok := f.backoff.get(ProviderKey(ProviderPrimary))
	require.True(t, ok)
	assert.True(t, got.Equal(until))
	got, ok = f.backoff.get(ModelKey(ProviderPrimary, "m1"))
	require.True(t, ok)
	assert.True(t, got.Equal(until))
}

func TestEvaluate_TransientErrorsTryEveryCandidateThenFailSafe(t *testing.T) {
	f := newFixture(nil)
	f.primary.on("m3", transient("HTTP 500: boom"))
	f.secondary.on("s1", transient("HTTP 502: Bad Gateway"))

	ev := evaluate(f, &domain.Candidate{Text: "hello"})

	assert.Equal(t, domain.ActionHold, ev.Action)
	assert.Equal(t, []string{"m1", "m2", "m3"}, f.primary.models())
	assert.Equal(t, []string{"s1"}, f.secondary.models())
	assert.Empty(t, f.backoff.windows, "transient errors never write backoff")

	rec := onlyRecord(t, f)
	require.NotNil(t, rec.Error)
	assert.Equal(t, "HTTP 502: Bad Gateway", *rec.Error)
	assert.NotEmpty(t, rec.RawResponse)
	assert.Equal(t, "secondary:s1", rec.Model)
	assert.Equal(t, 0.5, rec.Confidence)
}

func TestEvaluate_AllCandidatesBackedOff(t *testing.T) {
	f := newFixture(func(s *domain.Settings) { s.Primary.FallbackModels = []string{"m2"} })
	now := f.clock.Now()
	f.backoff.windows[ModelKey(ProviderPrimary, "m1")] = now.Add(3 * time.Minute)
	f.backoff.windows[ModelKey(ProviderPrimary, "m2")] = now.Add(2 * time.Minute)
	f.backoff.windows[ProviderKey(ProviderSecondary)] = now.Add(time.Minute)

	ev := evaluate(f, &domain.Candidate{Text: "hello"})

	assert.Equal(t, domain.ActionHold, ev.Action)
	assert.Zero(t, f.primary.callCount())
	assert.Zero(t, f.secondary.callCount())
	assert.Equal(t, domain.VerdictErrRateLimited, ev.Verdict.Error)

	rec := onlyRecord(t, f)
	require.NotNil(t, rec.Error)
	assert.Equal(t, domain.VerdictErrAllBackoff, *rec.Error)
	assert.Contains(t, rec.RawResponse, now.Add(time.Minute).Format(time.RFC3339))
}

func TestEvaluate_BackoffRespectedUntilExpiry(t *testing.T) {
	f := newFixture(func(s *domain.Settings) {
		s.Primary.FallbackModels = nil
		s.Secondary.Enabled = false
	})
	f.backoff.windows[ModelKey(ProviderPrimary, "m1")] = f.clock.Now().Add(10 * time.Second)
	f.primary.on("m1", success(domain.LabelValid, 0.9))

	for i := 0; i < 3; i++ {
		evaluate(f, &domain.Candidate{Text: "hi"})
		f.clock.Advance(3 * time.Second)
	}
	assert.Zero(t, f.primary.callCount())

	f.clock.Advance(time.Second) // now exactly at expiry
	evaluate(f, &domain.Candidate{Text: "hi"})
	assert.Equal(t, 1, f.primary.callCount())
}

func TestEvaluate_MissingPrimaryKey(t *testing.T) {
	t.Run("no secondary", func(t *testing.T) {
		f := newFixture(func(s *domain.Settings) {
			s.Primary.APIKey = ""
			s.Secondary.Enabled = false
		})
		ev := evaluate(f, &domain.Candidate{Text: "hello"})

		assert.Equal(t, domain.ActionHold, ev.Action)
		assert.Zero(t, f.primary.callCount())
		rec := onlyRecord(t, f)
		require.NotNil(t, rec.Error)
		assert.Equal(t, domain.VerdictErrMissingAPIKey, *rec.Error)
		assert.Empty(t, f.backoff.windows)
	})

	t.Run("secondary still tried", func(t *testing.T) {
		f := newFixture(func(s *domain.Settings) {
			s.Primary.APIKey = ""
			s.Secondary.Enabled = true
		})
		f.secondary.on("s1", success(domain.LabelValid, 0.9))

		ev := evaluate(f, &domain.Candidate{Text: "hello"})
		assert.Equal(t, domain.ActionNone, ev.Action)
		assert.Zero(t, f.primary.callCount())
		assert.Equal(t, 1, f.secondary.callCount())
	})
}

func TestEvaluate_SuccessTriggeredThrottle(t *testing.T) {
	f := newFixture(nil)
	o := success(domain.LabelValid, 0.9)
	o.ThrottleUntil = f.clock.Now().Add(20 * time.Second)
	f.primary.on("m1", o)

	ev := evaluate(f, &domain.Candidate{Text: "hello"})

	assert.Equal(t, domain.ActionNone, ev.Action)
	assert.Nil(t, onlyRecord(t, f).Error, "a proactive throttle is not an error")
	_, modelBlocked := f.backoff.get(ModelKey(ProviderPrimary, "m1"))
	_, providerBlocked := f.backoff.get(ProviderKey(ProviderPrimary))
	assert.True(t, modelBlocked)
	assert.False(t, providerBlocked)

	f.primary.on("m2", success(domain.LabelValid, 0.9))
	evaluate(f, &domain.Candidate{Text: "hello again"})
	assert.Equal(t, []string{"m1", "m2"}, f.primary.models())
}

func TestEvaluate_DisabledAndAuthenticatedSkips(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(func(s *domain.Settings) { s.Enabled = false })
		ev := evaluate(f, &domain.Candidate{Text: "buy now"})
		assert.Equal(t, domain.ActionNone, ev.Action)
		assert.True(t, ev.Skipped)
		assert.Empty(t, f.log.all())
	})
	t.Run("authenticated user", func(t *testing.T) {
		f := newFixture(nil)
		ev := evaluate(f, &domain.Candidate{Text: "buy now", IsAuthenticatedUser: true})
		assert.Equal(t, domain.ActionNone, ev.Action)
		assert.Zero(t, f.primary.callCount())
	})
	// skip checks run before the empty-body precheck
	t.Run("disabled with empty body", func(t *testing.T) {
		f := newFixture(func(s *domain.Settings) { s.Enabled = false })
		ev := evaluate(f, &domain.Candidate{Text: "  "})
		assert.Equal(t, domain.ActionNone, ev.Action)
		assert.True(t, ev.Skipped)
		assert.Nil(t, ev.Record)
		assert.Empty(t, f.log.all())
	})
	t.Run("authenticated user with empty body", func(t *testing.T) {
		f := newFixture(nil)
		ev := evaluate(f, &domain.Candidate{Text: "", IsAuthenticatedUser: true})
		assert.Equal(t, domain.ActionNone, ev.Action)
		assert.Empty(t, f.log.all())
	})
	t.Run("authenticated user checked with empty body holds", func(t *testing.T) {
		f := newFixture(func(s *domain.Settings) { s.CheckAuthenticatedUsers = true })
		ev := evaluate(f, &domain.Candidate{Text: "", IsAuthenticatedUser: true})
		assert.Equal(t, domain.ActionHold, ev.Action)
		assert.Equal(t, domain.ModelPrecheck, onlyRecord(t, f).Model)
	})
	t.Run("authenticated user checked when enabled", func(t *testing.T) {
		f := newFixture(func(s *domain.Settings) { s.CheckAuthenticatedUsers = true })
		f.primary.on("m1", success(domain.LabelSpam, 0.99))
		ev := evaluate(f, &domain.Candidate{Text: "buy now", IsAuthenticatedUser: true})
		assert.Equal(t, domain.ActionSpam, ev.Action)
	})
}

func TestEvaluate_LogFailureDoesNotChangeAction(t *testing.T) {
	f := newFixture(nil)
	f.log.err = errors.New("database is down")
	f.primary.on("m1", success(domain.LabelSpam, 0.95))

	ev := evaluate(f, &domain.Candidate{Text: "cheap pills"})
	assert.Equal(t, domain.ActionSpam, ev.Action)
	assert.NotNil(t, ev.Record)
}

func TestEvaluate_TestCandidateHasNoEntity(t *testing.T) {
	f := newFixture(nil)
	f.primary.on("m1", success(domain.LabelValid, 0.9))

	evaluate(f, &domain.Candidate{ID: "42", Text: "hello", IsTest: true})
	assert.Nil(t, onlyRecord(t, f).EntityID)
}

func TestEvaluate_ContextFromPublishedDocument(t *testing.T) {
	tests := []struct {
		name      string
		published bool
		include   bool
		want      bool
	}{
		{"published", true, true, true},
		{"draft", false, true, false},
		{"context disabled", true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(func(s *domain.Settings) { s.IncludeContext = tt.include })
			f.svc.documents = fakeDocs{"p1": {ID: "p1", Title: "Rust lifetimes", Body: "<p>Borrowing explained.</p>", Published: tt.published}}
			f.primary.on("m1", success(domain.LabelValid, 0.9))

			evaluate(f, &domain.Candidate{Text: "Helpful borrowing notes", ReferenceDocumentID: "p1"})

			require.Equal(t, 1, f.primary.callCount())
			user := f.primary.calls[0].User
			assert.Equal(t, tt.want, strings.Contains(user, "Title: Rust lifetimes"))
		})
	}
}

func TestEvaluate_BypassHeuristics(t *testing.T) {
	f := newFixture(func(s *domain.Settings) { s.ContentBlacklist = []string{"casino"} })
	f.primary.on("m1", success(domain.LabelValid, 0.9))

	ev := f.svc.Evaluate(ctx, &domain.Candidate{Text: "casino night recap"}, in.EvaluateOptions{BypassHeuristics: true})

	assert.Equal(t, domain.ActionNone, ev.Action)
	assert.Equal(t, 1, f.primary.callCount())
}

func TestEvaluate_RequestCarriesSettings(t *testing.T) {
	f := newFixture(func(s *domain.Settings) { s.TimeoutSeconds = 7 })
	f.primary.on("m1", success(domain.LabelValid, 0.9))

	evaluate(f, &domain.Candidate{Text: "hi"})

	require.Len(t, f.primary.calls, 1)
	req := f.primary.calls[0]
	assert.Equal(t, "primary-key", req.APIKey)
	assert.Equal(t, 7*time.Second, req.Timeout)
	assert.Equal(t, domain.DefaultPrimaryBaseURL, req.BaseURL)
	assert.NotEmpty(t, req.System)
}
