// Package messaging provides message queue adapters.
package messaging

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"guard_server/core/port/out"

	"github.com/redis/go-redis/v9"
)

// Stream names
const (
	StreamRecheck = "guard:recheck"
)

// RedisProducer implements out.RecheckPublisher using Redis Streams.
type RedisProducer struct {
	client *redis.Client
}

// NewRedisProducer creates a new RedisProducer.
func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

// PublishRecheck publishes one page of a batch re-evaluation.
func (p *RedisProducer) PublishRecheck(ctx context.Context, job *out.RecheckJob) error {
	return p.publish(ctx, StreamRecheck, job)
}

// Depth returns the number of entries in a stream.
func (p *RedisProducer) Depth(ctx context.Context, stream string) (int64, error) {
	n, err := p.client.XLen(ctx, stream).Result()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// publish publishes a job to a stream using go-redis.
func (p *RedisProducer) publish(ctx context.Context, stream string, job interface{}) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}

	return nil
}

// Ensure RedisProducer implements out.RecheckPublisher
var _ out.RecheckPublisher = (*RedisProducer)(nil)
