package persistence

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"

	"guard_server/core/domain"
	"guard_server/pkg/crypto"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsAdapter_Load(t *testing.T) {
	t.Run("nothing saved", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("SELECT document FROM guard_settings").
			WithArgs(settingsRowID).
			WillReturnRows(sqlmock.NewRows([]string{"document"}))

		s, err := NewSettingsAdapter(db).Load(context.Background())
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("partial document keeps defaults", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("SELECT document FROM guard_settings").
			WithArgs(settingsRowID).
			WillReturnRows(sqlmock.NewRows([]string{"document"}).
				AddRow([]byte(`{"confidence_threshold":0.6,"max_links":5}`)))

		s, err := NewSettingsAdapter(db).Load(context.Background())
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Equal(t, 0.6, s.ConfidenceThreshold)
		assert.Equal(t, 5, s.MaxLinks)
		assert.Equal(t, 15, s.TimeoutSeconds)
		assert.Equal(t, domain.DefaultPrimaryModel, s.Primary.Model)
	})

	t.Run("corrupt document", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("SELECT document FROM guard_settings").
			WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow([]byte(`{`)))

		_, err := NewSettingsAdapter(db).Load(context.Background())
		assert.Error(t, err)
	})
}

func TestSettingsAdapter_Save(t *testing.T) {
	db, mock := newMockDB(t)
	s := domain.DefaultSettings()

	var saved string
	mock.ExpectExec(regexp.QuoteMeta("$2::jsonb")).
		WithArgs(settingsRowID, captureText{&saved}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewSettingsAdapter(db).Save(context.Background(), &s))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.True(t, json.Valid([]byte(saved)))
	assert.Contains(t, saved, `"confidence_threshold":0.8`)

	assert.ErrorIs(t, NewSettingsAdapter(db).Save(context.Background(), nil), ErrInvalidInput)
}

func TestSettingsAdapter_EncryptedKeys(t *testing.T) {
	enc, err := crypto.NewEncryptor([]byte("settings-key"))
	require.NoError(t, err)

	s := domain.DefaultSettings()
	s.Primary.APIKey = "gsk_plain_key"

	var saved string
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO guard_settings").
		WithArgs(settingsRowID, captureText{&saved}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	adapter := NewSettingsAdapter(db).WithEncryptor(enc)
	require.NoError(t, adapter.Save(context.Background(), &s))
	assert.Equal(t, "gsk_plain_key", s.Primary.APIKey, "caller's value is not modified")

	var doc domain.Settings
	require.NoError(t, json.Unmarshal([]byte(saved), &doc))
	assert.True(t, crypto.IsSealed(doc.Primary.APIKey))
	assert.Empty(t, doc.Secondary.APIKey)

	mock.ExpectQuery("SELECT document FROM guard_settings").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow([]byte(saved)))
	loaded, err := adapter.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gsk_plain_key", loaded.Primary.APIKey)

	t.Run("sealed keys without encryptor", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("SELECT document FROM guard_settings").
			WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow([]byte(saved)))

		_, err := NewSettingsAdapter(db).Load(context.Background())
		assert.Error(t, err)
	})
}

// captureText matches only string arguments and records the value.
// JSONB documents must reach the driver as text, not []byte.
type captureText struct {
	dst *string
}

func (c captureText) Match(v driver.Value) bool {
	s, ok := v.(string)
	if ok {
		*c.dst = s
	}
	return ok
}
