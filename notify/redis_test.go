package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func assigned(user, card string) domain.Notification {
	return domain.Notification{
		UserID:  user,
		Type:    domain.CardAssignedNotification,
		Title:   "You were assigned to a card",
		Message: "assigned",
		Data:    domain.CardRef{ProjectID: "p1", BoardID: "b1", CardID: card, ActorID: "u1"},
	}
}

func TestNotifyPublishesAndStoresInbox(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, Channel("u2"))
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	r := NewRedis(client, 10, time.Hour)
	if err := r.Notify(ctx, assigned("u2", "c1")); err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var got Message
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Type != domain.CardAssignedNotification || got.Data.CardID != "c1" || got.SentAt.IsZero() {
			t.Fatalf("unexpected message: %#v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publish")
	}

	if ttl := mr.TTL(InboxKey("u2")); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("unexpected inbox TTL: %v", ttl)
	}
	inbox, err := r.Inbox(ctx, "u2", 0)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 1 || inbox[0].UserID != "u2" {
		t.Fatalf("unexpected inbox: %#v", inbox)
	}
}

func TestInboxIsCappedNewestFirst(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	r := NewRedis(client, 2, time.Hour)
	for _, card := range []string{"c1", "c2", "c3"} {
		if err := r.Notify(ctx, assigned("u2", card)); err != nil {
			t.Fatalf("notify %s: %v", card, err)
		}
	}
	inbox, err := r.Inbox(ctx, "u2", 10)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 2 || inbox[0].Data.CardID != "c3" || inbox[1].Data.CardID != "c2" {
		t.Fatalf("unexpected inbox: %#v", inbox)
	}
}

func TestNotifyFailsWhenRedisIsDown(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()
	r := NewRedis(client, 0, 0)
	if err := r.Notify(context.Background(), assigned("u2", "c1")); err == nil {
		t.Fatal("expected error")
	}
}
