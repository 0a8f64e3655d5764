package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// maxDequeueCount is how many times a message may fail before it is dropped.
const maxDequeueCount = 5

var errPoisonMessage = errors.New("poison message")

type activityQueue interface {
	Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error)
	Delete(ctx context.Context, id, receipt string) error
}

type activityAppender interface {
	Append(ctx context.Context, a domain.Activity) error
}

type projector struct {
	queue   activityQueue
	log     activityAppender
	redis   *redis.Client
	channel string
	poll    time.Duration
	logger  *log.Logger
}

// processActivity appends one queued activity to the activity table and
// publishes it. Undecodable payloads yield errPoisonMessage. A failed publish
// is logged and does not fail the message.
func processActivity(ctx context.Context, logger log.FieldLogger, appender activityAppender, rc *redis.Client, channel string, payload string) (domain.Activity, error) {
	var a domain.Activity
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return a, fmt.Errorf("%w: %v", errPoisonMessage, err)
	}
	if a.BoardID == "" || a.ID == "" {
		return a, fmt.Errorf("%w: missing board or activity id", errPoisonMessage)
	}
	if err := appender.Append(ctx, a); err != nil {
		return a, err
	}
	if rc != nil {
		if err := rc.Publish(ctx, channel, payload).Err(); err != nil {
			logger.WithError(err).WithFields(log.Fields{
				"activity": a.ID,
				"board":    a.BoardID,
				"channel":  channel,
			}).Error("unable to publish activity")
		}
	}
	return a, nil
}

// run drains the queue until ctx ends. Failed messages stay on the queue and
// become visible again, unless they are poison or have failed too often.
func (p *projector) run(ctx context.Context) {
	for ctx.Err() == nil {
		if !p.step(ctx) {
			sleep(ctx, p.poll)
		}
	}
}

// step handles at most one message and reports whether one was found.
func (p *projector) step(ctx context.Context) bool {
	msg, err := p.queue.Dequeue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.WithError(err).Warn("activity dequeue failed")
		}
		return false
	}
	if msg == nil {
		return false
	}
	id, receipt := deref(msg.MessageID), deref(msg.PopReceipt)

	a, err := processActivity(ctx, p.logger, p.log, p.redis, p.channel, deref(msg.MessageText))
	fields := log.Fields{"message": id, "board": a.BoardID, "activity": a.ID}
	switch {
	case errors.Is(err, errPoisonMessage):
		p.logger.WithError(err).WithFields(fields).Warn("dropping undecodable activity")
	case err != nil && msg.DequeueCount != nil && *msg.DequeueCount >= maxDequeueCount:
		p.logger.WithError(err).WithFields(fields).Error("dropping activity after repeated failures")
	case err != nil:
		p.logger.WithError(err).WithFields(fields).Warn("activity append failed, will retry")
		return true
	default:
		p.logger.WithFields(fields).Debug("activity projected")
	}
	if err := p.queue.Delete(ctx, id, receipt); err != nil {
		p.logger.WithError(err).WithFields(fields).Warn("activity delete failed")
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
