package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"guard_server/adapter/in/worker"
	"guard_server/adapter/out/messaging"
	"guard_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const consumerGroup = "guard-workers"

// Worker runs the recheck pipeline and the retention sweep.
type Worker struct {
	pool      *worker.Pool
	consumer  *messaging.Consumer
	retention *worker.RetentionScheduler
	deps      *Dependencies
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	zlog      zerolog.Logger
}

func NewWorker(deps *Dependencies) *Worker {
	cfg := deps.Config
	zlog := logger.Default().Zerolog().With().Str("component", "worker").Logger()

	var retention *worker.RetentionScheduler
	if deps.Decisions != nil {
		retention = worker.NewRetentionScheduler(deps.Decisions, deps.Settings)
		retention.SetCheckInterval(cfg.RetentionCheckEvery)
	}

	recheck := worker.NewRecheckProcessor(deps.Service, deps.RecheckPublisher())
	handler := worker.NewHandler(recheck, retention)

	poolConfig := worker.DefaultPoolConfig()
	poolConfig.Workers = cfg.WorkerCount
	poolConfig.WorkerChanSize = cfg.WorkerQueueSize
	poolConfig.MaxRetries = cfg.WorkerMaxRetries
	poolConfig.RatePerSecond = cfg.WorkerRatePerSec
	poolConfig.Burst = cfg.WorkerBurst
	poolConfig.JobTimeoutByType[worker.JobRecheck] = cfg.WorkerJobTimeout

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		pool:      worker.NewPool(handler, poolConfig, zlog),
		retention: retention,
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		zlog:      zlog,
	}

	// Redis Stream Consumer 설정 (Redis가 있을 때만)
	if deps.Redis != nil {
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:                consumerGroup,
			Consumer:             cfg.WorkerID,
			Streams:              []string{messaging.StreamRecheck},
			Handler:              &streamHandler{pool: w.pool},
			Logger:               zlog,
			Block:                msDuration(cfg.ConsumerBlockMS),
			PendingCheckInterval: secDuration(cfg.ConsumerPendingCheckSec),
			PendingIdleTime:      secDuration(cfg.ConsumerPendingIdleSec),
			MaxRetries:           cfg.ConsumerMaxRetries,
		})
	} else {
		logger.Warn("Redis not available, recheck jobs will not be consumed")
	}

	return w
}

// streamHandler adapts Redis Stream messages to the worker pool.
type streamHandler struct {
	pool *worker.Pool
}

// errPoolBusy leaves the stream entry pending so it is reclaimed later.
var errPoolBusy = errors.New("worker pool rejected job")

func (h *streamHandler) Handle(_ context.Context, stream string, data []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse %s payload: %w", stream, err)
	}

	msg := worker.NewMessage(streamToJobType(stream), payload)
	if !h.pool.Submit(msg) {
		return errPoolBusy
	}
	logger.Debug("[StreamHandler] Job submitted to pool: %s", msg.Type)
	return nil
}

// streamToJobType maps Redis stream names to job types
func streamToJobType(stream string) string {
	switch stream {
	case messaging.StreamRecheck:
		return worker.JobRecheck
	default:
		return stream
	}
}

// Start runs until Stop is called.
func (w *Worker) Start() {
	w.pool.Start()

	if w.consumer != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.zlog.Info().Msg("Starting Redis Stream Consumer...")
			if err := w.consumer.Run(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.zlog.Error().Err(err).Msg("Redis Stream Consumer error")
			}
		}()
	}

	if w.retention != nil {
		w.retention.Start()
		w.zlog.Info().Msg("Started retention scheduler")
	}

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()
	if w.retention != nil {
		w.retention.Stop()
	}
	w.wg.Wait()
	w.pool.Stop()
}

func (w *Worker) Submit(msg *worker.Message) bool {
	return w.pool.Submit(msg)
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}
