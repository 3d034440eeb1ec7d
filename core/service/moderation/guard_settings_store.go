package moderation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"guard_server/core/domain"
	"guard_server/core/port/out"
	"guard_server/pkg/logger"
)

// SettingsStore holds the active settings snapshot. Every update builds a new
// value, validates it and swaps the pointer, so readers never see a partial write.
type SettingsStore struct {
	current atomic.Pointer[domain.Settings]
	repo    out.SettingsRepository
	mu      sync.Mutex // serializes updates
}

var _ out.SettingsProvider = (*SettingsStore)(nil)

// NewSettingsStore validates the seed settings. repo may be nil.
func NewSettingsStore(seed domain.Settings, repo out.SettingsRepository) (*SettingsStore, error) {
	prepared, err := prepareSettings(seed)
	if err != nil {
		return nil, fmt.Errorf("seed settings: %w", err)
	}
	s := &SettingsStore{repo: repo}
	s.current.Store(prepared)
	return s, nil
}

// Snapshot returns the current settings. Callers must treat it as read-only.
func (s *SettingsStore) Snapshot() *domain.Settings {
	return s.current.Load()
}

// Load replaces the seed with the persisted document, if one exists.
// Stored credentials that are empty keep the seeded ones.
func (s *SettingsStore) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	stored, err := s.repo.Load(ctx)
	if err != nil {
		return err
	}
	if stored == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seed := s.current.Load()
	next := *stored
	if next.Primary.APIKey == "" {
		next.Primary.APIKey = seed.Primary.APIKey
	}
	if next.Secondary.APIKey == "" {
		next.Secondary.APIKey = seed.Secondary.APIKey
	}

	prepared, err := prepareSettings(next)
	if err != nil {
		logger.WithError(err).Warn("stored settings are invalid; keeping seed settings")
		return err
	}
	s.current.Store(prepared)
	return nil
}

// Update validates next, persists it and makes it current.
func (s *SettingsStore) Update(ctx context.Context, next domain.Settings) (*domain.Settings, error) {
	prepared, err := prepareSettings(next)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.Save(ctx, prepared); err != nil {
			return nil, err
		}
	}
	s.current.Store(prepared)
	return prepared, nil
}

func prepareSettings(in domain.Settings) (*domain.Settings, error) {
	next := in
	next.Primary.FallbackModels = append([]string(nil), in.Primary.FallbackModels...)
	next.Normalize(BlacklistDomain)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &next, nil
}
