package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"prism-board/domain"
)

const (
	boardRowKey = "board"

	// A string property holds at most 64 KiB of UTF-16. Chunks are cut on rune
	// boundaries, so 30000 bytes never exceed that.
	documentChunkSize = 30000
	// The service counts string properties as UTF-16 against its 1 MiB entity
	// limit. The remainder covers the key and index properties.
	maxDocumentUTF16Bytes = 1<<20 - 64<<10
)

var errDocumentTooLarge = errors.New("board document exceeds table entity limits")

// tableClient is the subset of *aztables.Client used for board documents.
type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
}

// Tables stores each board as a single Azure Table entity. The entity ETag is
// the board version, so every save is a conditional replace.
type Tables struct {
	boards tableClient
}

func tablesClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewTables creates a board store from a storage connection string.
func NewTables(connStr, boardsTable string) (*Tables, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tablesClientOptions())
	if err != nil {
		return nil, err
	}
	return &Tables{boards: svc.NewClient(boardsTable)}, nil
}

func (t *Tables) LoadBoard(ctx context.Context, id string) (*domain.Board, error) {
	resp, err := t.boards.GetEntity(ctx, id, boardRowKey, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", domain.ErrBoardNotFound, id)
		}
		return nil, err
	}
	b, err := decodeBoardEntity(resp.Value)
	if err != nil {
		return nil, fmt.Errorf("decode board %s: %w", id, err)
	}
	b.Version = string(resp.ETag)
	return b, nil
}

func (t *Tables) SaveBoard(ctx context.Context, b *domain.Board) (string, error) {
	payload, err := encodeBoardEntity(b)
	if err != nil {
		return "", err
	}
	etag := azcore.ETag(b.Version)
	resp, err := t.boards.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &etag,
		UpdateMode: aztables.UpdateModeReplace,
	})
	if err != nil {
		switch statusCode(err) {
		case http.StatusPreconditionFailed:
			return "", fmt.Errorf("%w: board %s", domain.ErrConcurrentModification, b.ID)
		case http.StatusNotFound:
			return "", fmt.Errorf("%w: %s", domain.ErrBoardNotFound, b.ID)
		}
		return "", err
	}
	return string(resp.ETag), nil
}

func (t *Tables) CreateBoard(ctx context.Context, b *domain.Board) (string, error) {
	payload, err := encodeBoardEntity(b)
	if err != nil {
		return "", err
	}
	resp, err := t.boards.AddEntity(ctx, payload, nil)
	if err != nil {
		if statusCode(err) == http.StatusConflict {
			return "", fmt.Errorf("board %s already exists: %w", b.ID, err)
		}
		return "", err
	}
	return string(resp.ETag), nil
}

func (t *Tables) DeleteBoard(ctx context.Context, id string) error {
	if _, err := t.boards.DeleteEntity(ctx, id, boardRowKey, nil); err != nil {
		if statusCode(err) == http.StatusNotFound {
			return fmt.Errorf("%w: %s", domain.ErrBoardNotFound, id)
		}
		return err
	}
	return nil
}

// encodeBoardEntity writes the board JSON across Document0..DocumentN
// properties. ProjectID and Name are duplicated for table queries.
func encodeBoardEntity(b *domain.Board) ([]byte, error) {
	doc, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	if size := utf16Size(doc); size > maxDocumentUTF16Bytes {
		return nil, fmt.Errorf("%w: %d bytes as UTF-16", errDocumentTooLarge, size)
	}
	chunks := splitDocument(string(doc), documentChunkSize)
	ent := map[string]any{
		"PartitionKey":   b.ID,
		"RowKey":         boardRowKey,
		"ProjectID":      b.ProjectID,
		"Name":           b.Name,
		"DocumentChunks": len(chunks),
	}
	for i, c := range chunks {
		ent["Document"+strconv.Itoa(i)] = c
	}
	return json.Marshal(ent)
}

func decodeBoardEntity(data []byte) (*domain.Board, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	n, ok := raw["DocumentChunks"].(float64)
	if !ok || n < 1 {
		return nil, errors.New("entity has no document")
	}
	var doc []byte
	for i := 0; i < int(n); i++ {
		part, ok := raw["Document"+strconv.Itoa(i)].(string)
		if !ok {
			return nil, fmt.Errorf("document chunk %d missing", i)
		}
		doc = append(doc, part...)
	}
	var b domain.Board
	if err := json.Unmarshal(doc, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// splitDocument cuts s into pieces of at most size bytes without splitting a rune.
func splitDocument(s string, size int) []string {
	var out []string
	for len(s) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	return append(out, s)
}

// utf16Size is the encoded size of doc once the service stores it as UTF-16.
func utf16Size(doc []byte) int {
	n := 0
	for len(doc) > 0 {
		r, size := utf8.DecodeRune(doc)
		doc = doc[size:]
		if l := utf16.RuneLen(r); l > 0 {
			n += 2 * l
		} else {
			n += 2
		}
	}
	return n
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}
