package api

import (
	"context"

	"prism-board/domain"
	"prism-board/notify"
)

// Boards is the board engine surface used by the handlers. Commands return
// the board version their write was persisted at.
type Boards interface {
	CreateBoard(ctx context.Context, actor, projectID, name string, columns []string) (*domain.Board, error)
	GetBoard(ctx context.Context, boardID string) (*domain.Board, error)
	DeleteBoard(ctx context.Context, actor, boardID string) error
	UpdateSettings(ctx context.Context, actor, boardID string, settings domain.Settings) (*domain.Board, error)

	CreateColumn(ctx context.Context, actor, boardID, name, color string) (domain.Column, string, error)
	ReorderColumn(ctx context.Context, actor, boardID, columnID string, position int) (domain.Column, string, error)
	RenameColumn(ctx context.Context, actor, boardID, columnID, name string) (domain.Column, string, error)
	RecolorColumn(ctx context.Context, actor, boardID, columnID, color string) (domain.Column, string, error)
	DeleteColumn(ctx context.Context, actor, boardID, columnID string, d domain.Disposition) (*domain.Board, error)

	CreateCard(ctx context.Context, actor, boardID, columnID, title string, fields domain.CardFields) (domain.Card, string, error)
	UpdateCard(ctx context.Context, actor, boardID, cardID string, patch domain.CardPatch) (domain.Card, string, error)
	MoveCard(ctx context.Context, actor, boardID, cardID, targetColumnID string, position int) (domain.Card, string, error)
	DeleteCard(ctx context.Context, actor, boardID, cardID string) (string, error)
	AddAssignee(ctx context.Context, actor, boardID, cardID, userID string) (domain.Card, string, error)
	RemoveAssignee(ctx context.Context, actor, boardID, cardID, userID string) (domain.Card, string, error)
	AddLabel(ctx context.Context, actor, boardID, cardID, label string) (domain.Card, string, error)
	RemoveLabel(ctx context.Context, actor, boardID, cardID, label string) (domain.Card, string, error)
	AddComment(ctx context.Context, actor, boardID, cardID, text string) (domain.Comment, string, error)
}

// ActivityReader lists the projected activity of a board, newest first.
type ActivityReader interface {
	List(ctx context.Context, boardID string, limit int) ([]domain.Activity, error)
}

// InboxReader returns a user's recent notifications.
type InboxReader interface {
	Inbox(ctx context.Context, userID string, limit int) ([]notify.Message, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate commands.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker func(ctx context.Context) error
