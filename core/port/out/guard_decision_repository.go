package out

import (
	"context"
	"time"

	"guard_server/core/domain"
)

// DecisionLogRepository defines the outbound port for the append-only decision log.
type DecisionLogRepository interface {
	Append(ctx context.Context, record *domain.DecisionLog) error
	List(ctx context.Context, filter *domain.DecisionFilter) ([]*domain.DecisionLog, int, error)
	CountByDecision(ctx context.Context, since time.Time) (map[string]int, error)

	// DeleteOlderThan is used only by the retention sweep.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// DocumentRepository resolves reference documents for context building.
type DocumentRepository interface {
	// GetDocument returns nil, nil when the document does not exist.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
}

// SettingsRepository persists the engine settings document.
type SettingsRepository interface {
	// Load returns nil, nil when nothing has been saved yet.
	Load(ctx context.Context) (*domain.Settings, error)
	Save(ctx context.Context, settings *domain.Settings) error
}

// ResponseArchive keeps full provider response bodies. Best-effort.
type ResponseArchive interface {
	Archive(ctx context.Context, entry *domain.ResponseArchiveEntry) error
	Get(ctx context.Context, id string) (*domain.ResponseArchiveEntry, error)
}
