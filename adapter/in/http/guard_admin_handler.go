package http

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"guard_server/core/domain"
	"guard_server/core/port/out"
	"guard_server/core/service/moderation"
	"guard_server/pkg/apperr"
	"guard_server/pkg/metrics"
	"guard_server/pkg/response"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultDecisionLimit = 50
	maxDecisionLimit     = 200
	statsWindow          = 24 * time.Hour
)

// SettingsManager reads and replaces the engine settings.
type SettingsManager interface {
	Snapshot() *domain.Settings
	Update(ctx context.Context, next domain.Settings) (*domain.Settings, error)
}

// EngineInspector exposes the engine's live diagnostics.
type EngineInspector interface {
	Probe(ctx context.Context, provider string) (*moderation.ProbeResult, error)
	ActiveBackoff(ctx context.Context) map[string]time.Time
}

// BreakerStater reports a circuit breaker state.
type BreakerStater interface {
	BreakerState() string
}

// QueueDepther reports a stream length.
type QueueDepther interface {
	Depth(ctx context.Context, stream string) (int64, error)
}

// AdminDeps wires the admin handler. Only Settings and Engine are required.
type AdminDeps struct {
	Settings    SettingsManager
	Engine      EngineInspector
	Decisions   out.DecisionLogRepository
	Archive     out.ResponseArchive
	Latency     *metrics.LatencyRegistry
	Breakers    map[string]BreakerStater
	Queue       QueueDepther
	QueueStream string
	DB          *sql.DB
	Now         func() time.Time
}

// AdminHandler serves the settings, history and diagnostics endpoints.
type AdminHandler struct {
	d AdminDeps
}

func NewAdminHandler(d AdminDeps) *AdminHandler {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &AdminHandler{d: d}
}

// Register mounts the routes behind admin.
func (h *AdminHandler) Register(router fiber.Router, admin fiber.Handler) {
	router.Get("/decisions", admin, h.ListDecisions)
	router.Get("/archive/:id", admin, h.GetArchived)
	router.Get("/settings", admin, h.GetSettings)
	router.Put("/settings", admin, h.UpdateSettings)
	router.Post("/settings/test", admin, h.TestProvider)
	router.Get("/stats", admin, h.Stats)
}

// ListDecisions pages through the decision log, newest first.
func (h *AdminHandler) ListDecisions(c *fiber.Ctx) error {
	if h.d.Decisions == nil {
		return apperr.New(apperr.CodeConfigError, "decision log is not configured", http.StatusServiceUnavailable)
	}

	p := response.GetPagination(c, defaultDecisionLimit, maxDecisionLimit)
	filter := &domain.DecisionFilter{
		Decision: c.Query("decision"),
		EntityID: c.Query("entity_id"),
		Limit:    p.Limit,
		Offset:   p.Offset,
	}
	if s := c.Query("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return apperr.InvalidInput("since", "must be RFC3339")
		}
		filter.Since = &since
	}

	records, total, err := h.d.Decisions.List(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, records, response.NewMeta(total, p.Limit, p.Offset, len(records)))
}

// GetArchived returns one full provider response body.
func (h *AdminHandler) GetArchived(c *fiber.Ctx) error {
	if h.d.Archive == nil {
		return apperr.New(apperr.CodeConfigError, "response archive is not configured", http.StatusServiceUnavailable)
	}
	entry, err := h.d.Archive.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return apperr.StoreError("archive", err)
	}
	if entry == nil {
		return apperr.NotFound("archived response")
	}
	return response.OK(c, entry)
}

// GetSettings returns the current settings with API keys masked.
func (h *AdminHandler) GetSettings(c *fiber.Ctx) error {
	return response.OK(c, h.d.Settings.Snapshot().Redacted())
}

// UpdateSettings applies a partial or full settings document.
// Absent fields keep their current value; a masked key keeps the stored key.
func (h *AdminHandler) UpdateSettings(c *fiber.Ctx) error {
	current := h.d.Settings.Snapshot()

	// 스냅샷 슬라이스를 공유하지 않도록 깊은 복사 후 덮어쓴다
	var next domain.Settings
	raw, err := json.Marshal(current)
	if err != nil {
		return apperr.InternalWithError(err)
	}
	if err := json.Unmarshal(raw, &next); err != nil {
		return apperr.InternalWithError(err)
	}
	if err := json.Unmarshal(c.Body(), &next); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if isMasked(next.Primary.APIKey) {
		next.Primary.APIKey = current.Primary.APIKey
	}
	if isMasked(next.Secondary.APIKey) {
		next.Secondary.APIKey = current.Secondary.APIKey
	}

	updated, err := h.d.Settings.Update(c.UserContext(), next)
	if err != nil {
		if apperr.IsAppError(err) {
			return err
		}
		return apperr.ValidationFailed(err.Error())
	}
	return response.OK(c, updated.Redacted())
}

func isMasked(key string) bool {
	return strings.Contains(key, "****")
}

type probeRequest struct {
	Provider string `json:"provider"`
}

// TestProvider makes one live call with a fixed sample.
func (h *AdminHandler) TestProvider(c *fiber.Ctx) error {
	req := probeRequest{Provider: c.Query("provider")}
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return apperr.BadRequest("invalid request body")
		}
	}
	if req.Provider == "" {
		req.Provider = moderation.ProviderPrimary
	}

	result, err := h.d.Engine.Probe(c.UserContext(), req.Provider)
	if err != nil {
		return apperr.BadRequest(err.Error())
	}
	if err := probeError(result); err != nil {
		return err
	}
	return response.OK(c, result)
}

// probeError maps a failed probe onto the classification error codes.
func probeError(r *moderation.ProbeResult) error {
	switch r.Kind {
	case domain.OutcomeRateLimited:
		var retryAt time.Time
		if r.RetryAt != nil {
			retryAt = *r.RetryAt
		}
		return apperr.RateLimited(r.Provider, retryAt).WithDetail("model", r.Model)
	case domain.OutcomeTransientError:
		return apperr.ProviderError(r.Provider, r.StatusCode, r.Message).
			WithDetail("model", r.Model).
			WithDetail("latency_ms", r.LatencyMS)
	}
	if r.FallbackParse {
		return apperr.ParseFailure("model reply had no JSON verdict").
			WithDetail("provider", r.Provider).
			WithDetail("model", r.Model)
	}
	return nil
}

// StatsResponse is the diagnostics snapshot.
type StatsResponse struct {
	Providers  map[string]metrics.EndpointStats `json:"providers"`
	Breakers   map[string]string                `json:"breakers"`
	Backoff    map[string]time.Time             `json:"backoff"`
	Decisions  map[string]int                   `json:"decisions_24h,omitempty"`
	QueueDepth *int64                           `json:"queue_depth,omitempty"`
	DBPool     *metrics.DBPoolStats             `json:"db_pool,omitempty"`
}

// Stats reports latency, circuit state and active backoff per provider.
func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	ctx := c.UserContext()

	resp := StatsResponse{
		Providers: map[string]metrics.EndpointStats{},
		Breakers:  make(map[string]string, len(h.d.Breakers)),
		Backoff:   h.d.Engine.ActiveBackoff(ctx),
	}
	if h.d.Latency != nil {
		resp.Providers = h.d.Latency.AllStats()
	}
	for name, b := range h.d.Breakers {
		resp.Breakers[name] = b.BreakerState()
	}
	if h.d.Decisions != nil {
		counts, err := h.d.Decisions.CountByDecision(ctx, h.d.Now().Add(-statsWindow))
		if err != nil {
			return err
		}
		resp.Decisions = counts
	}
	if h.d.Queue != nil && h.d.QueueStream != "" {
		// 큐 조회 실패는 통계에서 생략
		if n, err := h.d.Queue.Depth(ctx, h.d.QueueStream); err == nil {
			resp.QueueDepth = &n
		}
	}
	if h.d.DB != nil {
		pool := metrics.GetDBPoolStats(h.d.DB)
		resp.DBPool = &pool
	}
	return response.OK(c, resp)
}
