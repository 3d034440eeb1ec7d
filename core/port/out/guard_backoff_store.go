package out

import (
	"context"
	"time"
)

// BackoffStore is a time-indexed key/value store for rate-limit windows.
// Implementations may expire entries after ttl. A missing key is not an error.
type BackoffStore interface {
	GetExpiry(ctx context.Context, key string) (time.Time, bool, error)
	SetExpiry(ctx context.Context, key string, expiry time.Time, ttl time.Duration) error
}
