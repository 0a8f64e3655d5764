package domain

import (
	"fmt"
	"sort"
	"time"
)

// Priority is the urgency of a card.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority validates a priority value. An empty value maps to medium.
func ParsePriority(v string) (Priority, error) {
	switch p := Priority(v); p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p, nil
	case "":
		return PriorityMedium, nil
	default:
		return "", fmt.Errorf("%w: unknown priority %q", ErrValidation, v)
	}
}

// Settings holds per-board options.
type Settings struct {
	AllowComments bool `json:"allowComments"`
}

// DefaultSettings returns the settings applied to new boards.
func DefaultSettings() Settings {
	return Settings{AllowComments: true}
}

// Comment is an append-only note on a card.
type Comment struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Card is a unit of work. Cards live flat on the board and point at their column.
type Card struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	ColumnID    string     `json:"columnId"`
	Assignees   []string   `json:"assignees"`
	Labels      []string   `json:"labels"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Comments    []Comment  `json:"comments"`
	CreatedBy   string     `json:"createdBy"`
	Order       int        `json:"order"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Column is a named lane on a board.
type Column struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
	Color string `json:"color,omitempty"`
}

// Board is the unit of persistence and of concurrency control.
type Board struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ProjectID string    `json:"projectId"`
	Columns   []Column  `json:"columns"`
	Cards     []Card    `json:"cards"`
	Settings  Settings  `json:"settings"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Version is the storage revision the board was loaded at.
	Version string `json:"-"`
}

func (b *Board) columnIndex(id string) int {
	for i := range b.Columns {
		if b.Columns[i].ID == id {
			return i
		}
	}
	return -1
}

func (b *Board) cardIndex(id string) int {
	for i := range b.Cards {
		if b.Cards[i].ID == id {
			return i
		}
	}
	return -1
}

// Column returns the column with the given id.
func (b *Board) Column(id string) (Column, bool) {
	if i := b.columnIndex(id); i >= 0 {
		return b.Columns[i], true
	}
	return Column{}, false
}

// Card returns the card with the given id.
func (b *Board) Card(id string) (Card, bool) {
	if i := b.cardIndex(id); i >= 0 {
		return b.Cards[i], true
	}
	return Card{}, false
}

// CardsInColumn returns the cards of a column sorted by order.
func (b *Board) CardsInColumn(columnID string) []Card {
	out := make([]Card, 0)
	for _, id := range b.cardScope(columnID) {
		out = append(out, b.Cards[b.cardIndex(id)])
	}
	return out
}

// columnScope lists column ids by current order. Ties keep slice order.
func (b *Board) columnScope() []string {
	idx := make([]int, len(b.Columns))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return b.Columns[idx[i]].Order < b.Columns[idx[j]].Order
	})
	scope := make([]string, len(idx))
	for i, k := range idx {
		scope[i] = b.Columns[k].ID
	}
	return scope
}

// cardScope lists the card ids of one column by current order. Ties keep slice order.
func (b *Board) cardScope(columnID string) []string {
	idx := make([]int, 0)
	for i := range b.Cards {
		if b.Cards[i].ColumnID == columnID {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return b.Cards[idx[i]].Order < b.Cards[idx[j]].Order
	})
	scope := make([]string, len(idx))
	for i, k := range idx {
		scope[i] = b.Cards[k].ID
	}
	return scope
}

// applyColumnScope assigns each column its position in scope and sorts Columns to match.
func (b *Board) applyColumnScope(scope []string) {
	pos := make(map[string]int, len(scope))
	for i, id := range scope {
		pos[id] = i
	}
	for i := range b.Columns {
		b.Columns[i].Order = pos[b.Columns[i].ID]
	}
	sort.SliceStable(b.Columns, func(i, j int) bool { return b.Columns[i].Order < b.Columns[j].Order })
}

// applyCardScope assigns each listed card its position in scope and moves it into columnID.
func (b *Board) applyCardScope(columnID string, scope []string) {
	for i, id := range scope {
		k := b.cardIndex(id)
		b.Cards[k].ColumnID = columnID
		b.Cards[k].Order = i
	}
}

// densify rewrites every column scope and card scope from its current
// ordering, so drifted orders become 0..n-1 again. Cards whose column is
// missing are left alone for Validate to report.
func (b *Board) densify() {
	b.applyColumnScope(b.columnScope())
	for _, c := range b.Columns {
		b.applyCardScope(c.ID, b.cardScope(c.ID))
	}
}

// normalize sorts Cards by column order then card order so stored documents read naturally.
func (b *Board) normalize() {
	colPos := make(map[string]int, len(b.Columns))
	for _, c := range b.Columns {
		colPos[c.ID] = c.Order
	}
	sort.SliceStable(b.Cards, func(i, j int) bool {
		ci, cj := colPos[b.Cards[i].ColumnID], colPos[b.Cards[j].ColumnID]
		if ci != cj {
			return ci < cj
		}
		return b.Cards[i].Order < b.Cards[j].Order
	})
}

// Validate checks the structural invariants of the board.
func (b *Board) Validate() error {
	colOrders := make(map[int]bool, len(b.Columns))
	cols := make(map[string]bool, len(b.Columns))
	for _, c := range b.Columns {
		if cols[c.ID] {
			return fmt.Errorf("%w: duplicate column %s", ErrCorruptBoard, c.ID)
		}
		cols[c.ID] = true
		if c.Order < 0 || c.Order >= len(b.Columns) || colOrders[c.Order] {
			return fmt.Errorf("%w: column %s has order %d", ErrCorruptBoard, c.ID, c.Order)
		}
		colOrders[c.Order] = true
	}

	cards := make(map[string]bool, len(b.Cards))
	perColumn := make(map[string][]int)
	for _, c := range b.Cards {
		if cards[c.ID] {
			return fmt.Errorf("%w: duplicate card %s", ErrCorruptBoard, c.ID)
		}
		cards[c.ID] = true
		if !cols[c.ColumnID] {
			return fmt.Errorf("%w: card %s references missing column %s", ErrCorruptBoard, c.ID, c.ColumnID)
		}
		perColumn[c.ColumnID] = append(perColumn[c.ColumnID], c.Order)
	}
	for colID, orders := range perColumn {
		seen := make(map[int]bool, len(orders))
		for _, o := range orders {
			if o < 0 || o >= len(orders) || seen[o] {
				return fmt.Errorf("%w: column %s card order %d", ErrCorruptBoard, colID, o)
			}
			seen[o] = true
		}
	}
	return nil
}

// Clone returns a deep copy of the board.
func (b *Board) Clone() *Board {
	if b == nil {
		return nil
	}
	out := *b
	out.Columns = append([]Column(nil), b.Columns...)
	out.Cards = make([]Card, len(b.Cards))
	for i, c := range b.Cards {
		out.Cards[i] = c.clone()
	}
	return &out
}

func (c Card) clone() Card {
	c.Assignees = append([]string(nil), c.Assignees...)
	c.Labels = append([]string(nil), c.Labels...)
	c.Comments = append([]Comment(nil), c.Comments...)
	if c.DueDate != nil {
		d := *c.DueDate
		c.DueDate = &d
	}
	return c
}
