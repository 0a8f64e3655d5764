package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/domain"
)

type fakeAppender struct {
	mu  sync.Mutex
	got []domain.Activity
	err error
}

func (f *fakeAppender) Append(ctx context.Context, a domain.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, a)
	return nil
}

type fakeQueue struct {
	mu      sync.Mutex
	pending []*azqueue.DequeuedMessage
	deleted []string
}

func (f *fakeQueue) Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, nil
	}
	msg := f.pending[0]
	f.pending = f.pending[1:]
	return msg, nil
}

func (f *fakeQueue) Delete(ctx context.Context, id, receipt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func queued(id, text string, dequeueCount int64) *azqueue.DequeuedMessage {
	return &azqueue.DequeuedMessage{
		MessageID:    to.Ptr(id),
		PopReceipt:   to.Ptr("receipt-" + id),
		MessageText:  to.Ptr(text),
		DequeueCount: to.Ptr(dequeueCount),
	}
}

func activityPayload(t *testing.T) string {
	t.Helper()
	raw, err := json.Marshal(domain.Activity{
		ID:        "a1",
		ProjectID: "p1",
		BoardID:   "b1",
		CardID:    "c1",
		UserID:    "u1",
		Details:   domain.CardMoved{FromColumn: "todo", ToColumn: "done", FromOrder: 0, ToOrder: 2},
		At:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

func newTestProjector(t *testing.T, q activityQueue, appender activityAppender, rc *redis.Client) *projector {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return &projector{queue: q, log: appender, redis: rc, channel: "board-activity", poll: 10 * time.Millisecond, logger: logger}
}

func TestProcessActivityAppendsAndPublishes(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	ctx := context.Background()

	pubsub := rc.Subscribe(ctx, "board-activity")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	appender := &fakeAppender{}
	payload := activityPayload(t)
	logger, _ := test.NewNullLogger()
	a, err := processActivity(ctx, logger, appender, rc, "board-activity", payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if a.Type() != domain.CardMovedActivity || len(appender.got) != 1 {
		t.Fatalf("unexpected result %#v, appended %d", a, len(appender.got))
	}

	select {
	case msg := <-pubsub.Channel():
		if msg.Payload != payload {
			t.Fatalf("unexpected payload %s", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publish")
	}
}

func TestProcessActivityRejectsPoison(t *testing.T) {
	for _, payload := range []string{"not json", `{"id":"a1","boardId":"b1","type":"card_exploded","details":{}}`, `{"type":"card_deleted","details":{}}`} {
		if _, err := processActivity(context.Background(), logrus.New(), &fakeAppender{}, nil, "c", payload); !errors.Is(err, errPoisonMessage) {
			t.Fatalf("expected poison for %q, got %v", payload, err)
		}
	}
}

func TestProcessActivityLogsPublishFailure(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr(), MaxRetries: -1})
	defer rc.Close()
	m.Close()

	logger, hook := test.NewNullLogger()
	appender := &fakeAppender{}
	if _, err := processActivity(context.Background(), logger, appender, rc, "board-activity", activityPayload(t)); err != nil {
		t.Fatalf("publish failure should not fail the message: %v", err)
	}
	if len(appender.got) != 1 {
		t.Fatalf("expected activity to be appended, got %d", len(appender.got))
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.ErrorLevel {
		t.Fatalf("expected an error log, got %#v", entry)
	}
	if entry.Data[logrus.ErrorKey] == nil || entry.Data["activity"] != "a1" || entry.Data["channel"] != "board-activity" {
		t.Fatalf("unexpected log fields: %#v", entry.Data)
	}
}

func TestStepDeletesProjectedAndPoisonMessages(t *testing.T) {
	q := &fakeQueue{pending: []*azqueue.DequeuedMessage{
		queued("m1", activityPayload(t), 1),
		queued("m2", "garbage", 1),
	}}
	appender := &fakeAppender{}
	p := newTestProjector(t, q, appender, nil)

	ctx := context.Background()
	if !p.step(ctx) || !p.step(ctx) {
		t.Fatal("expected both messages to be handled")
	}
	if p.step(ctx) {
		t.Fatal("expected empty queue")
	}
	if len(q.deleted) != 2 || len(appender.got) != 1 {
		t.Fatalf("deleted %v, appended %d", q.deleted, len(appender.got))
	}
}

func TestStepRetriesFailedAppendUntilLimit(t *testing.T) {
	q := &fakeQueue{pending: []*azqueue.DequeuedMessage{
		queued("m1", activityPayload(t), 1),
		queued("m2", activityPayload(t), maxDequeueCount),
	}}
	appender := &fakeAppender{err: errors.New("table unavailable")}
	p := newTestProjector(t, q, appender, nil)

	p.step(context.Background())
	if len(q.deleted) != 0 {
		t.Fatalf("failed message should stay queued, deleted %v", q.deleted)
	}
	p.step(context.Background())
	if len(q.deleted) != 1 || q.deleted[0] != "m2" {
		t.Fatalf("expected exhausted message to be dropped, deleted %v", q.deleted)
	}
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	q := &fakeQueue{pending: []*azqueue.DequeuedMessage{queued("m1", activityPayload(t), 1)}}
	appender := &fakeAppender{}
	p := newTestProjector(t, q, appender, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for {
		appender.mu.Lock()
		n := len(appender.got)
		appender.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("message was not projected")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}
