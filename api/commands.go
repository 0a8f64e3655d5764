package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"prism-board/domain"
)

var errUnknownCommand = errors.New("unknown command type")

type commandHandler func(ctx context.Context, boards Boards, actor, boardID string, data []byte) (result any, version string, err error)

var commandHandlers = map[string]commandHandler{
	"create-column":   createColumnCommand,
	"reorder-column":  reorderColumnCommand,
	"rename-column":   renameColumnCommand,
	"recolor-column":  recolorColumnCommand,
	"delete-column":   deleteColumnCommand,
	"create-card":     createCardCommand,
	"update-card":     updateCardCommand,
	"move-card":       moveCardCommand,
	"delete-card":     deleteCardCommand,
	"add-assignee":    assigneeCommand(Boards.AddAssignee),
	"remove-assignee": assigneeCommand(Boards.RemoveAssignee),
	"add-label":       labelCommand(Boards.AddLabel),
	"remove-label":    labelCommand(Boards.RemoveLabel),
	"add-comment":     addCommentCommand,
	"update-settings": updateSettingsCommand,
}

// runCommand decodes the typed payload and applies it through the engine.
func runCommand(ctx context.Context, boards Boards, actor, boardID string, cmd commandRequest) (any, string, error) {
	h, ok := commandHandlers[cmd.Type]
	if !ok {
		return nil, "", fmt.Errorf("%w: %w %q", domain.ErrValidation, errUnknownCommand, cmd.Type)
	}
	return h(ctx, boards, actor, boardID, cmd.Data)
}

func decodeData(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: missing command data", domain.ErrValidation)
	}
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid command data: %v", domain.ErrValidation, err)
	}
	return nil
}

func required(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", domain.ErrValidation, name)
	}
	return nil
}

func createColumnCommand(ctx context.Context, boards Boards, actor, boardID string, data []byte) (any, string, error) {
	var d createColumnData
	if err := decodeData(data, &d); err != nil {
		return nil, "", err
	}
	col, version, err := boards.CreateColumn(ctx, actor, boardID, d.Name, d.Color)
	return col, version, err
}

func reorderColumnCommand(ctx context.Context, boards Boards, actor, boardID string, data []byte) (any, string, error) {
	var d reorderColumnData
	if err := decodeData(data, &d); err != nil {
		return nil, "", err
	}
	if err := required("columnId", d.ColumnID); err != nil {
		return nil, "", err
	}
	if d.Position == nil {
		return nil, "", fmt.Errorf("%w: position is required", domain.ErrInvalidPosition)
	}
	col, version, err := boards.ReorderColumn(ctx, actor, boardID, d.ColumnID, *d.Position)
	return col, version, err
}

func renameColumnCommand(ctx context.Context, boards Boards, actor, boardID string, data []byte) (any, string, error) {
	var d renameColumnData
	if err := decodeData(data, &d); err != nil {
		return nil, "", err
	}
	if err := required("columnId", d.ColumnID); err != nil {
		return nil, "", err
	}
	col, version, err := boards.RenameColumn(ctx, actor, boardID, d.ColumnID, d.Name)
	return col, version, err
}

func recolorColumnCommand(ctx context.Context, boards Boards, actor, boardID string, data []byte) (any, string, error) {
	var d recolorColumnData
	if err := decodeData(data, &d); err != nil {
		return nil, "", err
	}
	if err := required("columnId", d.ColumnID); err != nil {
		return nil, "", err
	}
	col, version, err := boards.RecolorColumn(ctx, actor, boardID, d.ColumnID, d.Color)
	return col, version, err
}

func deleteColumnCommand(ctx context.Context, boards Boards, actor, boardID string, data []byte) (any, string, error) {
	var d deleteColumnData
	if err := decodeData(data, &d); err != nil {
		return nil, "", err
	}
	if err := required("columnId", d.ColumnID); err != nil {
		return nil, "", err
	}
	disposition, err := domain.ParseDisposition(d.Mode, d.TargetColumnID)
	if err != nil {
		return nil, "", err
	}
	b, err := boards.DeleteColumn(ctx, actor, boardID, d.ColumnID, disposition)
	if err != nil {
		return nil, "", err
	}
	return b, b.Version, nil
}

func createCardCommand(ctx context.Context, boards Boards, actor, boardID string, data []byte) (any, string, error) {
	var d createCardData
	if err := decodeData(data, &d); err != nil {
		return nil, "", err
	}
	if err := required("columnId", d.ColumnID); err != nil {
		return nil, "", err
	}
	card, version, err := boards.CreateCard(ctx, actor, boardID, d.ColumnID, d.Title, domain.CardFields{
		Description: d.Description,
		Labels:      d.Labels,
		Priority:    d.Priority,
		DueDate:     d.DueDate,
	})
	return card, version, err
}

func updateCardCommand(ctx context.Context, boards Boards, actor, boardID string, data []byte) (any, string, error) {
	var d updateCardData
	if err := decodeData(data, &d); err != nil {
		return nil, "", err
	}
	if err := required("cardId", d.CardID); err != nil {
		return nil, "", err
	}
	if d.ClearDueDate && d.DueDate != nil {
		return nil, "", fmt.Errorf("%w: dueDate and clearDueDate are exclusive", domain.ErrValidation)
	}
	card, version, err := boards.UpdateCard(ctx, actor, boardID, d.CardID, domain.CardPatch{
		Title:        d.Title,
		Description:  d.Description,
		Labels:       d.Labels,
		Priority:     d.Priority,
		DueDate:      d.DueDate,
		ClearDueDate: d.ClearDueDate,
	})
	return card, version, err
}

func moveCardCommand(ctx context.Context, boards Boards, actor, boardID string, data []byte) (any, string, error) {
	var d moveCardData
	if err := decodeData(data, &d); err != nil {
		return nil, "", err
	}
	if err := required("cardId", d.CardID); err != nil {
		return nil, "", err
	}
	if err := required("targetColumnId", d.TargetColumnID); err != nil {
		return nil, "", err
	}
	if d.Position == nil {
		return nil, "", fmt.Errorf("%w: position is required", domain.ErrInvalidPosition)
	}
	card, version, err := boards.MoveCard(ctx, actor, boardID, d.CardID, d.TargetColumnID, *d.Position)
	return card, version, err
}

func deleteCardCommand(ctx context.Context, boards Boards, actor, boardID string, data []byte) (any, string, error) {
	var d cardData
	if err := decodeData(data, &d); err != nil {
		return nil, "", err
	}
	if err := required("cardId", d.CardID); err != nil {
		return nil, "", err
	}
	version, err := boards.DeleteCard(ctx, actor, boardID, d.CardID)
	return nil, version, err
}

func assigneeCommand(op func(Boards, context.Context, string, string, string, string) (domain.Card, string, error)) commandHandler {
	return func(ctx context.Context, boards Boards, actor, boardID string, data []byte) (any, string, error) {
		var d assigneeData
		if err := decodeData(data, &d); err != nil {
			return nil, "", err
		}
		if err := required("cardId", d.CardID); err != nil {
			return nil, "", err
		}
		if err := required("userId", d.UserID); err != nil {
			return nil, "", err
		}
		card, version, err := op(boards, ctx, actor, boardID, d.CardID, d.UserID)
		return card, version, err
	}
}

func labelCommand(op func(Boards, context.Context, string, string, string, string) (domain.Card, string, error)) commandHandler {
	return func(ctx context.Context, boards Boards, actor, boardID string, data []byte) (any, string, error) {
		var d labelData
		if err := decodeData(data, &d); err != nil {
			return nil, "", err
		}
		if err := required("cardId", d.CardID); err != nil {
			return nil, "", err
		}
		card, version, err := op(boards, ctx, actor, boardID, d.CardID, d.Label)
		return card, version, err
	}
}

func addCommentCommand(ctx context.Context, boards Boards, actor, boardID string, data []byte) (any, string, error) {
	var d commentData
	if err := decodeData(data, &d); err != nil {
		return nil, "", err
	}
	if err := required("cardId", d.CardID); err != nil {
		return nil, "", err
	}
	comment, version, err := boards.AddComment(ctx, actor, boardID, d.CardID, d.Text)
	return comment, version, err
}

func updateSettingsCommand(ctx context.Context, boards Boards, actor, boardID string, data []byte) (any, string, error) {
	var d settingsData
	if err := decodeData(data, &d); err != nil {
		return nil, "", err
	}
	if d.AllowComments == nil {
		return nil, "", fmt.Errorf("%w: allowComments is required", domain.ErrValidation)
	}
	b, err := boards.UpdateSettings(ctx, actor, boardID, domain.Settings{AllowComments: *d.AllowComments})
	if err != nil {
		return nil, "", err
	}
	return b.Settings, b.Version, nil
}
