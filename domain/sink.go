package domain

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// ActivityRecorder receives activity log entries. Failures never reach the
// caller of the engine.
type ActivityRecorder interface {
	Record(ctx context.Context, a Activity) error
}

// NotificationDispatcher delivers user notifications.
type NotificationDispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

// EffectSink receives the side effects of persisted mutations.
type EffectSink interface {
	Dispatch(ctx context.Context, fx Effects)
}

// Deliver sends every activity and notification in fx, logging failures.
// It returns the number of deliveries that failed.
func Deliver(ctx context.Context, rec ActivityRecorder, notifier NotificationDispatcher, logger *log.Logger, fx Effects) int {
	if logger == nil {
		logger = log.StandardLogger()
	}
	failed := 0
	if rec != nil {
		for _, a := range fx.Activities {
			if err := rec.Record(ctx, a); err != nil {
				failed++
				logger.WithError(err).WithFields(log.Fields{
					"board":    a.BoardID,
					"card":     a.CardID,
					"activity": a.Type(),
				}).Error("activity record failed")
			}
		}
	}
	if notifier != nil {
		for _, n := range fx.Notifications {
			if err := notifier.Notify(ctx, n); err != nil {
				failed++
				logger.WithError(err).WithFields(log.Fields{
					"user":         n.UserID,
					"notification": n.Type,
					"card":         n.Data.CardID,
				}).Error("notification dispatch failed")
			}
		}
	}
	return failed
}

// InlineSink delivers effects synchronously on the calling goroutine.
type InlineSink struct {
	Recorder ActivityRecorder
	Notifier NotificationDispatcher
	Logger   *log.Logger
}

func (s InlineSink) Dispatch(ctx context.Context, fx Effects) {
	Deliver(ctx, s.Recorder, s.Notifier, s.Logger, fx)
}
