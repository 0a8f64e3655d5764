package domain

import (
	"fmt"
	"strings"
)

type dispositionKind int

const (
	dispositionUnset dispositionKind = iota
	dispositionReassign
	dispositionDelete
)

// Disposition decides what happens to the cards of a deleted column.
// The zero value is invalid.
type Disposition struct {
	kind   dispositionKind
	target string
}

// ReassignTo appends the cards of the deleted column to columnID.
func ReassignTo(columnID string) Disposition {
	return Disposition{kind: dispositionReassign, target: columnID}
}

// DeleteCards deletes the cards of the deleted column.
func DeleteCards() Disposition {
	return Disposition{kind: dispositionDelete}
}

// ParseDisposition builds a disposition from its wire form: "reassign" with a
// target column, or "delete".
func ParseDisposition(mode, target string) (Disposition, error) {
	switch mode {
	case "reassign":
		return ReassignTo(target), nil
	case "delete":
		return DeleteCards(), nil
	default:
		return Disposition{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidDisposition, mode)
	}
}

func (d Disposition) String() string {
	switch d.kind {
	case dispositionReassign:
		return "reassign:" + d.target
	case dispositionDelete:
		return "delete"
	default:
		return "unset"
	}
}

// ColumnStore performs column mutations on an in-memory board.
type ColumnStore struct {
	cards CardStore
}

// NewColumnStore creates a ColumnStore sharing the card store's clock and ids.
func NewColumnStore(cards CardStore) ColumnStore {
	return ColumnStore{cards: cards}
}

// CreateColumn appends a column at the end of the board.
func (s ColumnStore) CreateColumn(b *Board, name, color string) (Column, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Column{}, fmt.Errorf("%w: column name is required", ErrValidation)
	}
	col := Column{
		ID:    s.cards.newID(),
		Name:  name,
		Order: len(b.Columns),
		Color: strings.TrimSpace(color),
	}
	scope, err := InsertAt(b.columnScope(), col.ID, len(b.Columns))
	if err != nil {
		return Column{}, err
	}
	b.Columns = append(b.Columns, col)
	b.applyColumnScope(scope)
	return col, nil
}

// ReorderColumn moves a column to targetPosition, clamped to the board.
func (s ColumnStore) ReorderColumn(b *Board, columnID string, targetPosition int) (Column, error) {
	if b.columnIndex(columnID) < 0 {
		return Column{}, fmt.Errorf("%w: %s", ErrColumnNotFound, columnID)
	}
	scope := b.columnScope()
	from := indexOf(scope, columnID)
	to := ClampPosition(targetPosition, len(scope)-1)
	next, err := MoveWithinScope(scope, from, to)
	if err != nil {
		return Column{}, err
	}
	b.applyColumnScope(next)
	col, _ := b.Column(columnID)
	return col, nil
}

// RenameColumn changes a column's name.
func (s ColumnStore) RenameColumn(b *Board, columnID, name string) (Column, error) {
	i := b.columnIndex(columnID)
	if i < 0 {
		return Column{}, fmt.Errorf("%w: %s", ErrColumnNotFound, columnID)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Column{}, fmt.Errorf("%w: column name is required", ErrValidation)
	}
	b.Columns[i].Name = name
	return b.Columns[i], nil
}

// RecolorColumn changes a column's color. An empty color clears it.
func (s ColumnStore) RecolorColumn(b *Board, columnID, color string) (Column, error) {
	i := b.columnIndex(columnID)
	if i < 0 {
		return Column{}, fmt.Errorf("%w: %s", ErrColumnNotFound, columnID)
	}
	b.Columns[i].Color = strings.TrimSpace(color)
	return b.Columns[i], nil
}

// DeleteColumn removes a column after disposing of its cards. Every check runs
// before the board is touched, so a failed call leaves no card pointing at a
// removed column.
func (s ColumnStore) DeleteColumn(b *Board, fx *Effects, actor, columnID string, d Disposition) error {
	ci := b.columnIndex(columnID)
	if ci < 0 {
		return fmt.Errorf("%w: %s", ErrColumnNotFound, columnID)
	}
	switch d.kind {
	case dispositionReassign:
		if d.target == columnID {
			return fmt.Errorf("%w: cannot reassign cards to the column being deleted", ErrInvalidDisposition)
		}
		if b.columnIndex(d.target) < 0 {
			return fmt.Errorf("%w: target column %s does not exist", ErrInvalidDisposition, d.target)
		}
	case dispositionDelete:
	default:
		return fmt.Errorf("%w: disposition is required", ErrInvalidDisposition)
	}

	colScope := b.columnScope()
	colScope, err := RemoveAt(colScope, indexOf(colScope, columnID))
	if err != nil {
		return err
	}

	orphans := b.cardScope(columnID)
	now := s.cards.now().UTC()
	if d.kind == dispositionReassign {
		dst := b.cardScope(d.target)
		base := len(dst)
		next := append(dst, orphans...)
		b.applyCardScope(d.target, next)
		for k, id := range orphans {
			b.Cards[b.cardIndex(id)].UpdatedAt = now
			fx.record(s.cards.activity(b, actor, id, CardMoved{
				FromColumn: columnID,
				ToColumn:   d.target,
				FromOrder:  k,
				ToOrder:    base + k,
			}))
		}
	} else {
		for _, id := range orphans {
			card := b.Cards[b.cardIndex(id)]
			s.cards.removeCard(b, card)
			fx.record(s.cards.activity(b, actor, id, CardDeleted{Title: card.Title, ColumnID: columnID, Cascade: true}))
		}
	}

	b.Columns = append(b.Columns[:ci], b.Columns[ci+1:]...)
	b.applyColumnScope(colScope)
	return nil
}
