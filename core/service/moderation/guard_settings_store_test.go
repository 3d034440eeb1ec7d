package moderation

import (
	"context"
	"errors"
	"testing"

	"guard_server/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSettingsRepo struct {
	stored  *domain.Settings
	saveErr error
}

func (m *memSettingsRepo) Load(context.Context) (*domain.Settings, error) { return m.stored, nil }

func (m *memSettingsRepo) Save(_ context.Context, s *domain.Settings) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *s
	m.stored = &cp
	return nil
}

func TestSettingsStore_SeedValidation(t *testing.T) {
	bad := domain.DefaultSettings()
	bad.TimeoutSeconds = 1
	_, err := NewSettingsStore(bad, nil)
	assert.Error(t, err)

	good := domain.DefaultSettings()
	good.EmailDomainBlacklist = []string{"@WWW.Spam.COM", "spam.com"}
	store, err := NewSettingsStore(good, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"spam.com"}, store.Snapshot().EmailDomainBlacklist)
}

func TestSettingsStore_UpdateSwapsSnapshot(t *testing.T) {
	repo := &memSettingsRepo{}
	store, err := NewSettingsStore(domain.DefaultSettings(), repo)
	require.NoError(t, err)
	before := store.Snapshot()

	next := *before
	next.ConfidenceThreshold = 0.95
	updated, err := store.Update(context.Background(), next)
	require.NoError(t, err)

	assert.Equal(t, 0.95, updated.ConfidenceThreshold)
	assert.Equal(t, 0.8, before.ConfidenceThreshold, "old snapshot is never mutated")
	assert.Same(t, updated, store.Snapshot())
	require.NotNil(t, repo.stored)
	assert.Equal(t, 0.95, repo.stored.ConfidenceThreshold)
}

func TestSettingsStore_UpdateRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*domain.Settings)
	}{
		{"confidence above one", func(s *domain.Settings) { s.ConfidenceThreshold = 1.2 }},
		{"negative confidence", func(s *domain.Settings) { s.ConfidenceThreshold = -0.1 }},
		{"short timeout", func(s *domain.Settings) { s.TimeoutSeconds = 2 }},
		{"small budget", func(s *domain.Settings) { s.ContextBudget = 199 }},
		{"large budget", func(s *domain.Settings) { s.ContextBudget = 8001 }},
		{"relative base url", func(s *domain.Settings) { s.Primary.BaseURL = "api.groq.com" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewSettingsStore(domain.DefaultSettings(), nil)
			require.NoError(t, err)
			next := domain.DefaultSettings()
			tt.mut(&next)

			_, err = store.Update(context.Background(), next)
			assert.Error(t, err)
			assert.Equal(t, 0.8, store.Snapshot().ConfidenceThreshold)
		})
	}
}

func TestSettingsStore_SaveFailureKeepsCurrent(t *testing.T) {
	repo := &memSettingsRepo{saveErr: errors.New("db down")}
	store, err := NewSettingsStore(domain.DefaultSettings(), repo)
	require.NoError(t, err)

	next := domain.DefaultSettings()
	next.MaxLinks = 9
	_, err = store.Update(context.Background(), next)
	assert.Error(t, err)
	assert.Equal(t, 2, store.Snapshot().MaxLinks)
}

func TestSettingsStore_LoadKeepsSeedCredentials(t *testing.T) {
	stored := domain.DefaultSettings()
	stored.MaxLinks = 5
	repo := &memSettingsRepo{stored: &stored}

	seed := domain.DefaultSettings()
	seed.Primary.APIKey = "from-env"
	store, err := NewSettingsStore(seed, repo)
	require.NoError(t, err)

	require.NoError(t, store.Load(context.Background()))
	assert.Equal(t, 5, store.Snapshot().MaxLinks)
	assert.Equal(t, "from-env", store.Snapshot().Primary.APIKey)
}
