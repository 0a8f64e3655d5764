package api

import (
	"time"

	"github.com/bytedance/sonic"

	"prism-board/domain"
	"prism-board/notify"
)

const (
	postCommandMaxSize   = 64 * 1024 // 64 KiB
	postCommandBodyLimit = "64K"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// /POST /api/boards request body
type createBoardRequest struct {
	ProjectID string   `json:"projectId"`
	Name      string   `json:"name"`
	Columns   []string `json:"columns,omitempty"`
}

// /POST /api/boards/:boardId/commands request body
type commandRequest struct {
	Type           string                 `json:"type"`
	IdempotencyKey string                 `json:"idempotencyKey,omitempty"`
	Data           sonic.NoCopyRawMessage `json:"data"`
}

// /POST /api/boards/:boardId/commands response body
type commandResponse struct {
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	Version        string `json:"version,omitempty"`
	Result         any    `json:"result,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type activityResponse struct {
	Activity []domain.Activity `json:"activity"`
}

type notificationsResponse struct {
	Notifications []notify.Message `json:"notifications"`
}

type createColumnData struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type reorderColumnData struct {
	ColumnID string `json:"columnId"`
	Position *int   `json:"position"`
}

type renameColumnData struct {
	ColumnID string `json:"columnId"`
	Name     string `json:"name"`
}

type recolorColumnData struct {
	ColumnID string `json:"columnId"`
	Color    string `json:"color"`
}

type deleteColumnData struct {
	ColumnID       string `json:"columnId"`
	Mode           string `json:"mode"`
	TargetColumnID string `json:"targetColumnId,omitempty"`
}

type createCardData struct {
	ColumnID    string     `json:"columnId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

type updateCardData struct {
	CardID       string     `json:"cardId"`
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Labels       *[]string  `json:"labels,omitempty"`
	Priority     *string    `json:"priority,omitempty"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	ClearDueDate bool       `json:"clearDueDate,omitempty"`
}

type moveCardData struct {
	CardID         string `json:"cardId"`
	TargetColumnID string `json:"targetColumnId"`
	Position       *int   `json:"position"`
}

type cardData struct {
	CardID string `json:"cardId"`
}

type assigneeData struct {
	CardID string `json:"cardId"`
	UserID string `json:"userId"`
}

type labelData struct {
	CardID string `json:"cardId"`
	Label  string `json:"label"`
}

type commentData struct {
	CardID string `json:"cardId"`
	Text   string `json:"text"`
}

type settingsData struct {
	AllowComments *bool `json:"allowComments"`
}
