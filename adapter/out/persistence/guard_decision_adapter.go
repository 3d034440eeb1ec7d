// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"guard_server/core/domain"
	"guard_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// DecisionLogAdapter implements out.DecisionLogRepository using PostgreSQL.
type DecisionLogAdapter struct {
	db *sqlx.DB
}

var _ out.DecisionLogRepository = (*DecisionLogAdapter)(nil)

// NewDecisionLogAdapter creates a new DecisionLogAdapter.
func NewDecisionLogAdapter(db *sqlx.DB) *DecisionLogAdapter {
	return &DecisionLogAdapter{db: db}
}

// decisionRow represents the database row for guard_decisions.
type decisionRow struct {
	ID          int64          `db:"id"`
	CreatedAt   time.Time      `db:"created_at"`
	EntityID    sql.NullString `db:"entity_id"`
	Decision    string         `db:"decision"`
	Confidence  float64        `db:"confidence"`
	Model       string         `db:"model"`
	Tokens      sql.NullInt64  `db:"tokens"`
	LatencyMS   sql.NullInt64  `db:"latency_ms"`
	Reasons     []byte         `db:"reasons"`
	RawResponse string         `db:"raw_response"`
	Error       sql.NullString `db:"error"`
}

func (r *decisionRow) toEntity() *domain.DecisionLog {
	rec := &domain.DecisionLog{
		ID:          r.ID,
		CreatedAt:   r.CreatedAt,
		Decision:    r.Decision,
		Confidence:  r.Confidence,
		Model:       r.Model,
		RawResponse: r.RawResponse,
		Reasons:     []string{},
	}
	if r.EntityID.Valid {
		rec.EntityID = &r.EntityID.String
	}
	if r.Tokens.Valid {
		n := int(r.Tokens.Int64)
		rec.TokenCount = &n
	}
	if r.LatencyMS.Valid {
		n := int(r.LatencyMS.Int64)
		rec.LatencyMS = &n
	}
	if r.Error.Valid {
		rec.Error = &r.Error.String
	}
	if len(r.Reasons) > 0 {
		_ = json.Unmarshal(r.Reasons, &rec.Reasons)
	}
	return rec
}

// Append inserts one sealed record and fills its id.
func (a *DecisionLogAdapter) Append(ctx context.Context, rec *domain.DecisionLog) error {
	rec.Seal()

	reasons, err := json.Marshal(rec.Reasons)
	if err != nil {
		return fmt.Errorf("encode reasons: %w", err)
	}

	const query = `
		INSERT INTO guard_decisions (
			created_at, entity_id, decision, confidence, model,
			tokens, latency_ms, reasons, raw_response, error
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10
		)
		RETURNING id
	`

	err = a.db.QueryRowxContext(ctx, query,
		rec.CreatedAt,
		nullStringPtr(rec.EntityID),
		rec.Decision,
		rec.Confidence,
		rec.Model,
		nullIntPtr(rec.TokenCount),
		nullIntPtr(rec.LatencyMS),
		string(reasons), // simple protocol은 []byte를 bytea로 보냄
		rec.RawResponse,
		nullStringPtr(rec.Error),
	).Scan(&rec.ID)

	return storeErr("decision_log", err)
}

// List returns one page of records, newest first, plus the total match count.
// filter.Decision may be a comma-separated list.
func (a *DecisionLogAdapter) List(ctx context.Context, filter *domain.DecisionFilter) ([]*domain.DecisionLog, int, error) {
	if filter == nil {
		filter = &domain.DecisionFilter{}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	baseQuery := `FROM guard_decisions WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if decisions := splitList(filter.Decision); len(decisions) == 1 {
		baseQuery += fmt.Sprintf(` AND decision = $%d`, argIdx)
		args = append(args, decisions[0])
		argIdx++
	} else if len(decisions) > 1 {
		baseQuery += fmt.Sprintf(` AND decision = ANY($%d)`, argIdx)
		args = append(args, pq.Array(decisions))
		argIdx++
	}

	if filter.EntityID != "" {
		baseQuery += fmt.Sprintf(` AND entity_id = $%d`, argIdx)
		args = append(args, filter.EntityID)
		argIdx++
	}

	if filter.Since != nil {
		baseQuery += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, *filter.Since)
		argIdx++
	}

	// Count
	var total int
	if err := a.db.QueryRowxContext(ctx, `SELECT COUNT(*) `+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, storeErr("decision_log", err)
	}

	selectQuery := fmt.Sprintf(`SELECT id, created_at, entity_id, decision, confidence, model,
		tokens, latency_ms, reasons, raw_response, error %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		baseQuery, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := a.db.QueryxContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, storeErr("decision_log", err)
	}
	defer rows.Close()

	records := make([]*domain.DecisionLog, 0, limit)
	for rows.Next() {
		var row decisionRow
		if err := rows.StructScan(&row); err != nil {
			return nil, 0, storeErr("decision_log", err)
		}
		records = append(records, row.toEntity())
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr("decision_log", err)
	}

	return records, total, nil
}

// CountByDecision aggregates records created at or after since.
func (a *DecisionLogAdapter) CountByDecision(ctx context.Context, since time.Time) (map[string]int, error) {
	const query = `
		SELECT decision, COUNT(*) AS n
		FROM guard_decisions
		WHERE created_at >= $1
		GROUP BY decision
	`

	rows, err := a.db.QueryxContext(ctx, query, since)
	if err != nil {
		return nil, storeErr("decision_log", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var decision string
		var n int
		if err := rows.Scan(&decision, &n); err != nil {
			return nil, storeErr("decision_log", err)
		}
		counts[decision] = n
	}
	return counts, storeErr("decision_log", rows.Err())
}

// DeleteOlderThan removes records created before cutoff.
func (a *DecisionLogAdapter) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM guard_decisions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, storeErr("decision_log", err)
	}
	n, err := res.RowsAffected()
	return n, storeErr("decision_log", err)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullIntPtr(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
