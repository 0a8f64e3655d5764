package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"prism-board/domain"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// ActivityQueue records activities by enqueueing them for the projector.
type ActivityQueue struct {
	queue queueClient
}

func NewActivityQueue(connStr, queueName string) (*ActivityQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Minute,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &ActivityQueue{queue: q}, nil
}

// Record implements domain.ActivityRecorder.
func (q *ActivityQueue) Record(ctx context.Context, a domain.Activity) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// Dequeue retrieves a single message, or nil when the queue is empty.
func (q *ActivityQueue) Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	resp, err := q.queue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return resp.Messages[0], nil
}

// Delete removes a processed message from the queue.
func (q *ActivityQueue) Delete(ctx context.Context, id, receipt string) error {
	_, err := q.queue.DeleteMessage(ctx, id, receipt, nil)
	return err
}

type activityTable interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// ActivityLog is the board activity table. Rows are partitioned by board and
// their row keys sort newest first.
type ActivityLog struct {
	table activityTable
}

func NewActivityLog(connStr, tableName string) (*ActivityLog, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tablesClientOptions())
	if err != nil {
		return nil, err
	}
	return &ActivityLog{table: svc.NewClient(tableName)}, nil
}

type activityEntity struct {
	aztables.Entity
	ProjectID string `json:"ProjectID"`
	CardID    string `json:"CardID"`
	UserID    string `json:"UserID"`
	Type      string `json:"Type"`
	Payload   string `json:"Payload"`
}

func activityRowKey(a domain.Activity) string {
	return fmt.Sprintf("%019d-%s", math.MaxInt64-a.At.UnixNano(), a.ID)
}

// Append stores an activity. Appending the same activity twice is not an error,
// so redelivered queue messages are harmless.
func (l *ActivityLog) Append(ctx context.Context, a domain.Activity) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	ent := map[string]any{
		"PartitionKey": a.BoardID,
		"RowKey":       activityRowKey(a),
		"ProjectID":    a.ProjectID,
		"CardID":       a.CardID,
		"UserID":       a.UserID,
		"Type":         string(a.Type()),
		"Payload":      string(payload),
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := l.table.AddEntity(ctx, data, nil); err != nil {
		if statusCode(err) == http.StatusConflict {
			return nil
		}
		return err
	}
	return nil
}

// List returns up to limit activities of a board, newest first.
func (l *ActivityLog) List(ctx context.Context, boardID string, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	filter := "PartitionKey eq '" + strings.ReplaceAll(boardID, "'", "''") + "'"
	top := int32(limit)
	pager := l.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	out := make([]domain.Activity, 0, limit)
	for pager.More() && len(out) < limit {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent activityEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			var a domain.Activity
			if err := json.Unmarshal([]byte(ent.Payload), &a); err != nil {
				return nil, fmt.Errorf("decode activity %s: %w", ent.RowKey, err)
			}
			out = append(out, a)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
