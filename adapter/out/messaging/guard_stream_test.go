package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"guard_server/core/domain"
	"guard_server/core/port/out"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type recordingHandler struct {
	mu     sync.Mutex
	jobs   []*out.RecheckJob
	failOn int
	calls  int
}

func (h *recordingHandler) Handle(_ context.Context, _ string, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.calls == h.failOn {
		return errors.New("boom")
	}
	var job out.RecheckJob
	if err := json.Unmarshal(data, &job); err != nil {
		return err
	}
	h.jobs = append(h.jobs, &job)
	return nil
}

func (h *recordingHandler) received() []*out.RecheckJob {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*out.RecheckJob(nil), h.jobs...)
}

func sampleJob(id string) *out.RecheckJob {
	return &out.RecheckJob{
		JobID:      id,
		Candidates: []*domain.Candidate{{ID: "c1", Text: "hello"}},
		PageSize:   20,
	}
}

func TestRedisProducer_PublishRecheck(t *testing.T) {
	client := newTestClient(t)
	producer := NewRedisProducer(client)
	ctx := context.Background()

	require.NoError(t, producer.PublishRecheck(ctx, sampleJob("j1")))

	depth, err := producer.Depth(ctx, StreamRecheck)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	msgs, err := client.XRange(ctx, StreamRecheck, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var job out.RecheckJob
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &job))
	assert.Equal(t, "j1", job.JobID)
	assert.Equal(t, 20, job.PageSize)
	require.Len(t, job.Candidates, 1)
	assert.Equal(t, "hello", job.Candidates[0].Text)
}

func runConsumer(t *testing.T, c *Consumer) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not stop")
		}
	}
}

func TestConsumer_RunAcksHandledMessages(t *testing.T) {
	client := newTestClient(t)
	handler := &recordingHandler{}
	consumer := NewConsumer(client, &ConsumerConfig{
		Group:    "guard-workers",
		Consumer: "w1",
		Streams:  []string{StreamRecheck},
		Handler:  handler,
		Logger:   zerolog.Nop(),
		Block:    50 * time.Millisecond,
	})
	ctx := context.Background()
	require.NoError(t, consumer.EnsureGroup(ctx, StreamRecheck))
	require.NoError(t, consumer.EnsureGroup(ctx, StreamRecheck), "existing group is not an error")

	stop := runConsumer(t, consumer)
	defer stop()

	producer := NewRedisProducer(client)
	require.NoError(t, producer.PublishRecheck(ctx, sampleJob("j1")))
	require.NoError(t, producer.PublishRecheck(ctx, sampleJob("j2")))

	require.Eventually(t, func() bool { return len(handler.received()) == 2 }, 2*time.Second, 10*time.Millisecond)

	jobs := handler.received()
	assert.Equal(t, "j1", jobs[0].JobID)
	assert.Equal(t, "j2", jobs[1].JobID)

	require.Eventually(t, func() bool {
		p, err := client.XPending(ctx, StreamRecheck, "guard-workers").Result()
		return err == nil && p.Count == 0
	}, time.Second, 10*time.Millisecond)
}

func TestConsumer_ReclaimPending(t *testing.T) {
	client := newTestClient(t)
	handler := &recordingHandler{failOn: 1}
	consumer := NewConsumer(client, &ConsumerConfig{
		Group:           "guard-workers",
		Consumer:        "w1",
		Streams:         []string{StreamRecheck},
		Handler:         handler,
		Logger:          zerolog.Nop(),
		Block:           50 * time.Millisecond,
		PendingIdleTime: time.Millisecond,
	})
	ctx := context.Background()

	stop := runConsumer(t, consumer)
	require.NoError(t, NewRedisProducer(client).PublishRecheck(ctx, sampleJob("j1")))

	require.Eventually(t, func() bool {
		p, err := client.XPending(ctx, StreamRecheck, "guard-workers").Result()
		return err == nil && p.Count == 1
	}, 2*time.Second, 10*time.Millisecond)
	stop()

	assert.Empty(t, handler.received())

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, consumer.ReclaimPending(ctx))
	require.Len(t, handler.received(), 1)
	assert.Equal(t, "j1", handler.received()[0].JobID)
}
