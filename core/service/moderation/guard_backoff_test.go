package moderation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffTracker(t *testing.T) {
	clock := newFakeClock()
	store := newMemBackoff()
	b := NewBackoffTracker(store, clock.Now)
	key := ModelKey(ProviderPrimary, "m1")

	blocked, _ := b.IsBlocked(ctx, key)
	assert.False(t, blocked)

	until := clock.Now().Add(30 * time.Second)
	b.BlockUntil(ctx, key, until)
	blocked, got := b.IsBlocked(ctx, key)
	assert.True(t, blocked)
	assert.True(t, got.Equal(until))

	// never shortened
	b.BlockUntil(ctx, key, clock.Now().Add(5*time.Second))
	_, got = b.IsBlocked(ctx, key)
	assert.True(t, got.Equal(until))

	// past expiries are ignored
	b.BlockUntil(ctx, "other", clock.Now().Add(-time.Second))
	_, ok := store.get("other")
	assert.False(t, ok)

	clock.Advance(30 * time.Second)
	blocked, _ = b.IsBlocked(ctx, key)
	assert.False(t, blocked, "window is active only while now < expiry")
}

func TestBackoffTracker_SoonestUnblock(t *testing.T) {
	clock := newFakeClock()
	b := NewBackoffTracker(newMemBackoff(), clock.Now)
	now := clock.Now()

	b.BlockUntil(ctx, "a", now.Add(3*time.Minute))
	b.BlockUntil(ctx, "b", now.Add(time.Minute))

	assert.True(t, b.SoonestUnblock(ctx, []string{"a", "b", "c"}).Equal(now.Add(time.Minute)))
	assert.True(t, b.SoonestUnblock(ctx, []string{"c"}).IsZero())
	assert.Len(t, b.Active(ctx, []string{"a", "b", "c"}), 2)
}

func TestBackoffTracker_StoreErrorReadsUnblocked(t *testing.T) {
	store := newMemBackoff()
	store.getErr = errors.New("redis down")
	b := NewBackoffTracker(store, nil)

	blocked, _ := b.IsBlocked(ctx, "k")
	assert.False(t, blocked)
}

func TestBackoffKeys(t *testing.T) {
	assert.Equal(t, "guard:backoff:primary", ProviderKey(ProviderPrimary))
	assert.Equal(t, "guard:backoff:primary:llama-3.1-8b-instant", ModelKey(ProviderPrimary, "llama-3.1-8b-instant"))
}
