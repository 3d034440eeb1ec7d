package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"guard_server/core/domain"
	"guard_server/core/port/out"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionResponses = "guard_responses"

	// Compression threshold - only compress if the body is larger than this
	compressionThreshold = 1024 // 1KB

	defaultArchiveTTL = 30 * 24 * time.Hour
)

// ResponseArchiveAdapter implements out.ResponseArchive using MongoDB.
type ResponseArchiveAdapter struct {
	collection *mongo.Collection
	ttl        time.Duration
}

var _ out.ResponseArchive = (*ResponseArchiveAdapter)(nil)

// NewResponseArchiveAdapter creates the archive. ttl matches the decision log retention window.
func NewResponseArchiveAdapter(db *mongo.Database, ttl time.Duration) *ResponseArchiveAdapter {
	if ttl <= 0 {
		ttl = defaultArchiveTTL
	}
	return &ResponseArchiveAdapter{
		collection: db.Collection(collectionResponses),
		ttl:        ttl,
	}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *ResponseArchiveAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "entity_id", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0), // TTL index
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// responseDocument represents the MongoDB document structure.
type responseDocument struct {
	ID         string  `bson:"id"`
	Provider   string  `bson:"provider"`
	Model      string  `bson:"model"`
	StatusCode int     `bson:"status"`
	Outcome    string  `bson:"outcome"`
	EntityID   *string `bson:"entity_id,omitempty"`

	// Body (potentially compressed)
	Body         []byte `bson:"body"`
	IsCompressed bool   `bson:"is_compressed"`
	OriginalSize int64  `bson:"original_size"`

	CreatedAt time.Time `bson:"created_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// Archive stores one provider response. Missing ids and timestamps are filled in.
func (a *ResponseArchiveAdapter) Archive(ctx context.Context, entry *domain.ResponseArchiveEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	doc, err := toDocument(entry, a.ttl)
	if err != nil {
		return fmt.Errorf("failed to convert response to document: %w", err)
	}

	if _, err := a.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to archive response: %w", err)
	}
	return nil
}

// Get returns nil, nil when the entry does not exist or has expired.
func (a *ResponseArchiveAdapter) Get(ctx context.Context, id string) (*domain.ResponseArchiveEntry, error) {
	var doc responseDocument
	err := a.collection.FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get response: %w", err)
	}
	return toEntry(&doc)
}

func toDocument(entry *domain.ResponseArchiveEntry, ttl time.Duration) (*responseDocument, error) {
	body := []byte(entry.Body)
	doc := &responseDocument{
		ID:           entry.ID,
		Provider:     entry.Provider,
		Model:        entry.Model,
		StatusCode:   entry.StatusCode,
		Outcome:      entry.Outcome,
		EntityID:     entry.EntityID,
		Body:         body,
		OriginalSize: int64(len(body)),
		CreatedAt:    entry.CreatedAt,
		ExpiresAt:    entry.CreatedAt.Add(ttl),
	}

	if len(body) > compressionThreshold {
		compressed, err := compress(body)
		if err != nil {
			return nil, err
		}
		doc.Body = compressed
		doc.IsCompressed = true
	}
	return doc, nil
}

func toEntry(doc *responseDocument) (*domain.ResponseArchiveEntry, error) {
	body := doc.Body
	if doc.IsCompressed {
		var err error
		if body, err = decompress(doc.Body); err != nil {
			return nil, fmt.Errorf("failed to decompress body: %w", err)
		}
	}

	return &domain.ResponseArchiveEntry{
		ID:         doc.ID,
		CreatedAt:  doc.CreatedAt,
		Provider:   doc.Provider,
		Model:      doc.Model,
		StatusCode: doc.StatusCode,
		Outcome:    doc.Outcome,
		Body:       string(body),
		EntityID:   doc.EntityID,
	}, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
