package bootstrap

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"guard_server/adapter/in/worker"
	"guard_server/adapter/out/messaging"
	"guard_server/config"
	"guard_server/core/domain"
	"guard_server/infra/middleware"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		Environment:        "test",
		AdminJWTSecret:     "secret",
		RateLimitPerMinute: 600,
		RateLimitBurst:     100,
		BatchParallel:      2,
		LatencyWindow:      10,
		WorkerCount:        1,
		WorkerQueueSize:    10,
		WorkerMaxRetries:   1,
		WorkerRatePerSec:   10,
		WorkerBurst:        10,
		WorkerJobTimeout:   time.Minute,
		Guard:              domain.DefaultSettings(),
	}
}

func TestNewDependencies_NoStores(t *testing.T) {
	deps, cleanup, err := NewDependencies(context.Background(), testConfig())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Decisions)
	assert.Nil(t, deps.Archive)
	assert.Nil(t, deps.RecheckPublisher())
	assert.NotNil(t, deps.Backoff)
	assert.NotNil(t, deps.Service)
	assert.Equal(t, "closed", deps.Primary.BreakerState())
}

func TestNewDependencies_InvalidSeed(t *testing.T) {
	cfg := testConfig()
	cfg.Guard.ConfidenceThreshold = 2

	_, _, err := NewDependencies(context.Background(), cfg)
	require.Error(t, err)
}

func TestNewAPI_Routes(t *testing.T) {
	deps, cleanup, err := NewDependencies(context.Background(), testConfig())
	require.NoError(t, err)
	defer cleanup()

	app := NewAPI(deps)

	t.Run("health", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	})

	t.Run("ready without stores", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/ready", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	})

	t.Run("evaluate without credentials holds", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/evaluate", bytes.NewBufferString(`{"candidate":{"text":"hello there"}}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, 5000)
		require.NoError(t, err)
		require.Equal(t, 200, resp.StatusCode)

		raw, _ := io.ReadAll(resp.Body)
		var env struct {
			Data domain.Evaluation `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, domain.ActionHold, env.Data.Action)
		require.NotNil(t, env.Data.Verdict)
		assert.Equal(t, domain.VerdictErrMissingAPIKey, env.Data.Verdict.Error)
	})

	t.Run("admin requires token", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/v1/settings", nil))
		require.NoError(t, err)
		assert.Equal(t, 401, resp.StatusCode)
	})

	t.Run("admin with token", func(t *testing.T) {
		tok, err := middleware.IssueAdminToken("secret", "ops", time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest("GET", "/v1/stats", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	})

	t.Run("recheck without queue", func(t *testing.T) {
		tok, err := middleware.IssueAdminToken("secret", "ops", time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest("POST", "/v1/recheck", bytes.NewBufferString(`{"candidates":[{"text":"a"}]}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 503, resp.StatusCode)
	})
}

func TestStreamHandler(t *testing.T) {
	t.Run("maps recheck stream", func(t *testing.T) {
		assert.Equal(t, worker.JobRecheck, streamToJobType(messaging.StreamRecheck))
		assert.Equal(t, "other", streamToJobType("other"))
	})

	t.Run("invalid payload", func(t *testing.T) {
		pool := worker.NewPool(&nopProcessor{}, nil, zerolog.Nop())
		h := &streamHandler{pool: pool}
		assert.Error(t, h.Handle(context.Background(), messaging.StreamRecheck, []byte("{")))
	})

	t.Run("pool not started leaves entry pending", func(t *testing.T) {
		pool := worker.NewPool(&nopProcessor{}, nil, zerolog.Nop())
		h := &streamHandler{pool: pool}
		err := h.Handle(context.Background(), messaging.StreamRecheck, []byte(`{"job_id":"j"}`))
		assert.ErrorIs(t, err, errPoolBusy)
	})
}

type nopProcessor struct{}

func (nopProcessor) Process(context.Context, *worker.Message) error { return nil }
