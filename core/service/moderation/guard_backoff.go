package moderation

import (
	"context"
	"time"

	"guard_server/core/port/out"
	"guard_server/pkg/logger"
)

const backoffKeyPrefix = "guard:backoff:"

// Provider identities.
const (
	ProviderPrimary   = "primary"
	ProviderSecondary = "secondary"
)

// ProviderKey is the backoff key for a whole provider.
func ProviderKey(provider string) string {
	return backoffKeyPrefix + provider
}

// ModelKey is the backoff key for one model on a provider.
func ModelKey(provider, model string) string {
	return backoffKeyPrefix + provider + ":" + model
}

// BackoffTracker records "do not call X until T" windows in a shared store.
// Concurrent writers may race; the last write wins and the next 429 corrects it.
type BackoffTracker struct {
	store out.BackoffStore
	now   func() time.Time
}

// NewBackoffTracker creates a tracker over store. now defaults to time.Now.
func NewBackoffTracker(store out.BackoffStore, now func() time.Time) *BackoffTracker {
	if now == nil {
		now = time.Now
	}
	return &BackoffTracker{store: store, now: now}
}

// IsBlocked reports whether key has an active window and when it ends.
// Store failures read as "not blocked".
func (b *BackoffTracker) IsBlocked(ctx context.Context, key string) (bool, time.Time) {
	expiry, ok, err := b.store.GetExpiry(ctx, key)
	if err != nil {
		logger.WithError(err).WithField("key", key).Warn("backoff lookup failed")
		return false, time.Time{}
	}
	if !ok || !b.now().Before(expiry) {
		return false, time.Time{}
	}
	return true, expiry
}

// BlockUntil opens or extends the window for key. It never shortens an active window.
func (b *BackoffTracker) BlockUntil(ctx context.Context, key string, expiry time.Time) {
	now := b.now()
	if !expiry.After(now) {
		return
	}
	if current, ok, err := b.store.GetExpiry(ctx, key); err == nil && ok && current.After(expiry) {
		return
	}
	if err := b.store.SetExpiry(ctx, key, expiry, expiry.Sub(now)); err != nil {
		logger.WithError(err).WithField("key", key).Warn("backoff write failed")
		return
	}
	logger.WithFields(map[string]any{
		"key":   key,
		"until": expiry.UTC().Format(time.RFC3339),
	}).Warn("backoff window set")
}

// SoonestUnblock returns the earliest active expiry among keys, or zero if none is blocked.
func (b *BackoffTracker) SoonestUnblock(ctx context.Context, keys []string) time.Time {
	var soonest time.Time
	for _, k := range keys {
		if blocked, until := b.IsBlocked(ctx, k); blocked && (soonest.IsZero() || until.Before(soonest)) {
			soonest = until
		}
	}
	return soonest
}

// Active returns the active windows among keys.
func (b *BackoffTracker) Active(ctx context.Context, keys []string) map[string]time.Time {
	active := make(map[string]time.Time)
	for _, k := range keys {
		if blocked, until := b.IsBlocked(ctx, k); blocked {
			active[k] = until
		}
	}
	return active
}
