package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"codehive/internal/service"
)

// SessionSweepHandler deletes sessions older than the retention horizon.
type SessionSweepHandler struct {
	sessions *service.SessionService
}

func NewSessionSweepHandler(sessions *service.SessionService) *SessionSweepHandler {
	if sessions == nil {
		panic("SessionService cannot be nil for SessionSweepHandler")
	}
	return &SessionSweepHandler{sessions: sessions}
}

// ProcessTask implements asynq.Handler.
func (h *SessionSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithField("task_type", t.Type())
	logCtx.Info("Processing session sweep task...")

	removed, err := h.sessions.SweepExpired(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Session sweep failed")
		return fmt.Errorf("session sweep: %w", err)
	}

	logCtx.WithField("removed", removed).Info("Session sweep task completed")
	return nil
}
