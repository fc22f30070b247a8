package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"relowatch/models"
)

type NotificationPruner interface {
	DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type LogPruner interface {
	DeleteLogsBefore(cutoff time.Time) (int64, error)
}

// RetentionWorker deletes notifications, and operational logs when a log
// pruner is set, once they are older than the configured TTL.
type RetentionWorker struct {
	notifications NotificationPruner
	logs          LogPruner
	ttl           time.Duration
	triggerCh     chan struct{}
	logFunc       LogFunc
	now           func() time.Time
}

func NewRetentionWorker(notifications NotificationPruner, logs LogPruner, ttl time.Duration) *RetentionWorker {
	return &RetentionWorker{
		notifications: notifications,
		logs:          logs,
		ttl:           ttl,
		triggerCh:     make(chan struct{}, 1),
		logFunc:       NoOpLogger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (w *RetentionWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to run immediately
func (w *RetentionWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

type Sweep struct {
	Notifications int64
	Logs          int64
}

func (w *RetentionWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Retention worker stopping")
			return
		case <-ticker.C:
			w.sweep(ctx)
		case <-w.triggerCh:
			log.Info("Retention worker triggered manually")
			w.sweep(ctx)
		}
	}
}

func (w *RetentionWorker) sweep(ctx context.Context) {
	res, err := w.RunOnce(ctx)
	if err != nil {
		log.Error("Retention sweep failed", "error", err)
		w.logFunc(models.LogLevelError, fmt.Sprintf("Retention sweep failed: %v", err))
		return
	}
	if res.Notifications > 0 || res.Logs > 0 {
		msg := fmt.Sprintf("Retention: removed %d notifications, %d logs", res.Notifications, res.Logs)
		log.Info(msg)
		w.logFunc(models.LogLevelInfo, msg)
	}
}

// RunOnce removes everything created before now minus the TTL.
func (w *RetentionWorker) RunOnce(ctx context.Context) (Sweep, error) {
	cutoff := w.now().Add(-w.ttl)

	var res Sweep
	n, err := w.notifications.DeleteNotificationsBefore(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("delete notifications: %w", err)
	}
	res.Notifications = n

	if w.logs != nil {
		n, err := w.logs.DeleteLogsBefore(cutoff)
		if err != nil {
			return res, fmt.Errorf("delete logs: %w", err)
		}
		res.Logs = n
	}

	return res, nil
}
