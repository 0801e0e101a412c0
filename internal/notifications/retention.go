package notifications

import (
	"context"
	"time"

	"github.com/wolfman30/homecare-visits/pkg/logging"
)

// RetentionWorker periodically deletes read notifications past the retention window.
type RetentionWorker struct {
	svc       *Service
	retention time.Duration
	interval  time.Duration
	logger    *logging.Logger
}

func NewRetentionWorker(svc *Service, retention, interval time.Duration, logger *logging.Logger) *RetentionWorker {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionWorker{svc: svc, retention: retention, interval: interval, logger: logger}
}

// Start sweeps once immediately, then every interval until ctx is done.
func (w *RetentionWorker) Start(ctx context.Context) {
	if w == nil || w.svc == nil || w.retention <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *RetentionWorker) sweep(ctx context.Context) {
	removed, err := w.svc.Cleanup(ctx, w.retention)
	if err != nil {
		w.logger.Error("notification cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		w.logger.Info("notification cleanup", "removed", removed, "retention", w.retention.String())
	}
}
