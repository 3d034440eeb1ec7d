package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"guard_server/core/domain"
	"guard_server/core/port/out"
	"guard_server/pkg/crypto"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
)

// settingsRowID is the single row holding the engine settings document.
const settingsRowID = 1

// SettingsAdapter implements out.SettingsRepository using a JSONB document.
// Provider API keys are sealed at rest when an encryptor is set.
type SettingsAdapter struct {
	db      *sqlx.DB
	secrets *crypto.Encryptor
}

var _ out.SettingsRepository = (*SettingsAdapter)(nil)

// NewSettingsAdapter creates a new SettingsAdapter.
func NewSettingsAdapter(db *sqlx.DB) *SettingsAdapter {
	return &SettingsAdapter{db: db}
}

// WithEncryptor enables at-rest encryption of provider API keys.
func (a *SettingsAdapter) WithEncryptor(enc *crypto.Encryptor) *SettingsAdapter {
	a.secrets = enc
	return a
}

// Load returns nil, nil when nothing has been saved yet.
func (a *SettingsAdapter) Load(ctx context.Context) (*domain.Settings, error) {
	const query = `SELECT document FROM guard_settings WHERE id = $1`

	var doc []byte
	if err := a.db.GetContext(ctx, &doc, query, settingsRowID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("settings", err)
	}

	// 저장되지 않은 필드는 기본값 유지
	settings := domain.DefaultSettings()
	if err := json.Unmarshal(doc, &settings); err != nil {
		return nil, storeErr("settings", fmt.Errorf("decode settings: %w", err))
	}
	if err := a.openKeys(&settings); err != nil {
		return nil, storeErr("settings", err)
	}
	return &settings, nil
}

// Save upserts the settings document.
func (a *SettingsAdapter) Save(ctx context.Context, settings *domain.Settings) error {
	if settings == nil {
		return ErrInvalidInput
	}
	stored := *settings
	if err := a.sealKeys(&stored); err != nil {
		return err
	}
	doc, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	const query = `
		INSERT INTO guard_settings (id, document, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (id) DO UPDATE SET
			document = EXCLUDED.document,
			updated_at = NOW()
	`

	_, err = a.db.ExecContext(ctx, query, settingsRowID, string(doc))
	return storeErr("settings", err)
}

func (a *SettingsAdapter) sealKeys(s *domain.Settings) error {
	if a.secrets == nil {
		return nil
	}
	var err error
	if s.Primary.APIKey, err = a.secrets.Seal(s.Primary.APIKey); err != nil {
		return fmt.Errorf("seal primary key: %w", err)
	}
	if s.Secondary.APIKey, err = a.secrets.Seal(s.Secondary.APIKey); err != nil {
		return fmt.Errorf("seal secondary key: %w", err)
	}
	return nil
}

func (a *SettingsAdapter) openKeys(s *domain.Settings) error {
	if crypto.IsSealed(s.Primary.APIKey) || crypto.IsSealed(s.Secondary.APIKey) {
		if a.secrets == nil {
			return errors.New("settings contain encrypted keys but no encryption key is configured")
		}
	}
	if a.secrets == nil {
		return nil
	}
	var err error
	if s.Primary.APIKey, err = a.secrets.Open(s.Primary.APIKey); err != nil {
		return fmt.Errorf("open primary key: %w", err)
	}
	if s.Secondary.APIKey, err = a.secrets.Open(s.Secondary.APIKey); err != nil {
		return fmt.Errorf("open secondary key: %w", err)
	}
	return nil
}
