package worker

import (
	"context"

	"guard_server/core/port/out"
	"guard_server/pkg/logger"
)

type Handler struct {
	recheck   *RecheckProcessor
	retention *RetentionScheduler
}

func NewHandler(recheck *RecheckProcessor, retention *RetentionScheduler) *Handler {
	return &Handler{recheck: recheck, retention: retention}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing message: %s", msg.Type)

	switch msg.Type {
	case JobRecheck:
		job, err := ParsePayload[out.RecheckJob](msg)
		if err != nil {
			return err
		}
		_, err = h.recheck.Process(ctx, job)
		return err

	case JobRetention:
		if h.retention == nil {
			return nil
		}
		_, err := h.retention.RunOnce(ctx)
		return err

	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}
}
