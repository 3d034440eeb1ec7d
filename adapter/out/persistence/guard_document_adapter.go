package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guard_server/core/domain"
	"guard_server/core/port/out"
	"guard_server/pkg/cache"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// rowQuerier is the subset of *pgxpool.Pool the document adapter needs.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ rowQuerier = (*pgxpool.Pool)(nil)

// DocumentAdapter implements out.DocumentRepository using pgx.
type DocumentAdapter struct {
	db rowQuerier
}

var _ out.DocumentRepository = (*DocumentAdapter)(nil)

// NewDocumentAdapter creates a new DocumentAdapter.
func NewDocumentAdapter(db rowQuerier) *DocumentAdapter {
	return &DocumentAdapter{db: db}
}

// GetDocument returns nil, nil when the document does not exist.
func (a *DocumentAdapter) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	const query = `SELECT id, title, body, published FROM guard_documents WHERE id = $1`

	var doc domain.Document
	err := a.db.QueryRow(ctx, query, id).Scan(&doc.ID, &doc.Title, &doc.Body, &doc.Published)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("documents", fmt.Errorf("get document %s: %w", id, err))
	}
	return &doc, nil
}

// CachedDocumentAdapter wraps a DocumentRepository with Redis caching.
type CachedDocumentAdapter struct {
	delegate out.DocumentRepository
	cache    *cache.RedisCache
	ttl      time.Duration
}

var _ out.DocumentRepository = (*CachedDocumentAdapter)(nil)

// NewCachedDocumentAdapter creates a new cached document adapter.
func NewCachedDocumentAdapter(delegate out.DocumentRepository, redisCache *cache.RedisCache, ttl time.Duration) *CachedDocumentAdapter {
	if ttl <= 0 {
		ttl = 10 * time.Minute // 게시글은 자주 바뀌지 않음
	}
	return &CachedDocumentAdapter{delegate: delegate, cache: redisCache, ttl: ttl}
}

func documentCacheKey(id string) string {
	return "guard:doc:" + id
}

// GetDocument checks the cache before the delegate. Missing documents are cached briefly.
func (a *CachedDocumentAdapter) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	key := documentCacheKey(id)

	// 캐시 확인
	var doc domain.Document
	found, err := a.cache.GetJSON(ctx, key, &doc)
	if err == nil && found {
		// ID가 비어 있으면 negative cache
		if doc.ID == "" {
			return nil, nil
		}
		return &doc, nil
	}

	result, err := a.delegate.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	if result != nil {
		_ = a.cache.SetJSON(ctx, key, result, a.ttl)
	} else {
		_ = a.cache.SetJSON(ctx, key, &domain.Document{}, time.Minute)
	}
	return result, nil
}

// Invalidate drops a cached document after it changes.
func (a *CachedDocumentAdapter) Invalidate(ctx context.Context, id string) error {
	return a.cache.Delete(ctx, documentCacheKey(id))
}
