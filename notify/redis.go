package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

const (
	DefaultInboxSize = 100
	DefaultInboxTTL  = 30 * 24 * time.Hour
)

// Message is the stored and published form of a notification.
type Message struct {
	domain.Notification
	SentAt time.Time `json:"sentAt"`
}

// Redis delivers notifications to a per-user inbox list and publishes them on
// a per-user channel for any connected listener.
type Redis struct {
	client    *redis.Client
	inboxSize int64
	inboxTTL  time.Duration
	now       func() time.Time
}

func NewRedis(client *redis.Client, inboxSize int, inboxTTL time.Duration) *Redis {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	if inboxTTL <= 0 {
		inboxTTL = DefaultInboxTTL
	}
	return &Redis{client: client, inboxSize: int64(inboxSize), inboxTTL: inboxTTL, now: time.Now}
}

// Notify implements domain.NotificationDispatcher.
func (r *Redis) Notify(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(Message{Notification: n, SentAt: r.now().UTC()})
	if err != nil {
		return err
	}
	inbox := InboxKey(n.UserID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, inbox, payload)
		pipe.LTrim(ctx, inbox, 0, r.inboxSize-1)
		pipe.Expire(ctx, inbox, r.inboxTTL)
		pipe.Publish(ctx, Channel(n.UserID), payload)
		return nil
	})
	return err
}

// Inbox returns up to limit of the user's most recent notifications.
func (r *Redis) Inbox(ctx context.Context, userID string, limit int) ([]Message, error) {
	if limit <= 0 || int64(limit) > r.inboxSize {
		limit = int(r.inboxSize)
	}
	raw, err := r.client.LRange(ctx, InboxKey(userID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func InboxKey(userID string) string {
	return "inbox:" + userID
}

func Channel(userID string) string {
	return "notifications:" + userID
}
