package out

import "guard_server/core/domain"

// SettingsProvider hands out the current read-only settings snapshot.
// Callers must not mutate the returned value.
type SettingsProvider interface {
	Snapshot() *domain.Settings
}
