package worker

import (
	"context"
	"time"

	"guard_server/core/port/out"
	"guard_server/pkg/logger"
)

// =============================================================================
// RetentionScheduler - 보존 기간이 지난 판정 기록 삭제
// =============================================================================

type RetentionScheduler struct {
	repo          out.DecisionLogRepository
	settings      out.SettingsProvider
	checkInterval time.Duration
	now           func() time.Time
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewRetentionScheduler creates a new retention scheduler.
func NewRetentionScheduler(repo out.DecisionLogRepository, settings out.SettingsProvider) *RetentionScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &RetentionScheduler{
		repo:          repo,
		settings:      settings,
		checkInterval: 6 * time.Hour,
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start starts the retention scheduler.
func (s *RetentionScheduler) Start() {
	logger.Info("[RetentionScheduler] Starting with interval %v", s.checkInterval)
	go s.run()
}

// Stop stops the retention scheduler.
func (s *RetentionScheduler) Stop() {
	logger.Info("[RetentionScheduler] Stopping...")
	s.cancel()
}

func (s *RetentionScheduler) run() {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	// 시작 시 즉시 한 번 실행
	s.sweep()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[RetentionScheduler] Stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *RetentionScheduler) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		logger.Error("[RetentionScheduler] Sweep failed: %v", err)
	}
}

// RunOnce deletes records older than the configured retention window.
// A zero retention keeps records forever.
func (s *RetentionScheduler) RunOnce(ctx context.Context) (int64, error) {
	days := s.settings.Snapshot().RetentionDays
	if days <= 0 {
		return 0, nil
	}

	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Info("[RetentionScheduler] Deleted %d records older than %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// SetCheckInterval sets the sweep interval. Non-positive values are ignored.
func (s *RetentionScheduler) SetCheckInterval(interval time.Duration) {
	if interval > 0 {
		s.checkInterval = interval
	}
}

// SetClock overrides the time source (for testing).
func (s *RetentionScheduler) SetClock(now func() time.Time) {
	s.now = now
}
