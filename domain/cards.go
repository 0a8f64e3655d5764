package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CardFields are the optional fields accepted when a card is created.
type CardFields struct {
	Description string
	Labels      []string
	Priority    string
	DueDate     *time.Time
}

// CardPatch lists the mutable card fields. Nil pointers leave a field unchanged.
type CardPatch struct {
	Title        *string
	Description  *string
	Labels       *[]string
	Priority     *string
	DueDate      *time.Time
	ClearDueDate bool
}

// CardStore performs card mutations on an in-memory board.
type CardStore struct {
	now   func() time.Time
	newID func() string
}

// NewCardStore creates a CardStore. Nil arguments fall back to time.Now and random UUIDs.
func NewCardStore(now func() time.Time, newID func() string) CardStore {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return CardStore{now: now, newID: newID}
}

func (s CardStore) activity(b *Board, actor, cardID string, d ActivityDetails) Activity {
	return Activity{
		ID:        s.newID(),
		ProjectID: b.ProjectID,
		BoardID:   b.ID,
		CardID:    cardID,
		UserID:    actor,
		Details:   d,
		At:        s.now().UTC(),
	}
}

// CreateCard appends a new card to the end of a column.
func (s CardStore) CreateCard(b *Board, fx *Effects, columnID, title, creator string, fields CardFields) (Card, error) {
	if b.columnIndex(columnID) < 0 {
		return Card{}, fmt.Errorf("%w: %s", ErrColumnNotFound, columnID)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return Card{}, fmt.Errorf("%w: card title is required", ErrValidation)
	}
	priority, err := ParsePriority(fields.Priority)
	if err != nil {
		return Card{}, err
	}
	now := s.now().UTC()
	card := Card{
		ID:          s.newID(),
		Title:       title,
		Description: fields.Description,
		ColumnID:    columnID,
		Assignees:   []string{},
		Labels:      normalizeLabels(fields.Labels),
		Priority:    priority,
		DueDate:     utcPtr(fields.DueDate),
		Comments:    []Comment{},
		CreatedBy:   creator,
		Order:       len(b.cardScope(columnID)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	b.Cards = append(b.Cards, card)
	fx.record(s.activity(b, creator, card.ID, CardCreated{Title: card.Title, ColumnID: columnID, Order: card.Order}))
	return card, nil
}

// UpdateCard applies the whitelisted fields of patch. Only changed fields are recorded.
func (s CardStore) UpdateCard(b *Board, fx *Effects, actor, cardID string, patch CardPatch) (Card, error) {
	i := b.cardIndex(cardID)
	if i < 0 {
		return Card{}, fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
	}
	var title string
	if patch.Title != nil {
		title = strings.TrimSpace(*patch.Title)
		if title == "" {
			return Card{}, fmt.Errorf("%w: card title is required", ErrValidation)
		}
	}
	var priority Priority
	if patch.Priority != nil {
		p, err := ParsePriority(*patch.Priority)
		if err != nil {
			return Card{}, err
		}
		priority = p
	}

	card := &b.Cards[i]
	var changes []FieldChange
	if patch.Title != nil && title != card.Title {
		changes = append(changes, FieldChange{Field: "title", Old: card.Title, New: title})
		card.Title = title
	}
	if patch.Description != nil && *patch.Description != card.Description {
		changes = append(changes, FieldChange{Field: "description", Old: card.Description, New: *patch.Description})
		card.Description = *patch.Description
	}
	if patch.Labels != nil {
		labels := normalizeLabels(*patch.Labels)
		if !slices.Equal(labels, card.Labels) {
			changes = append(changes, FieldChange{Field: "labels", Old: formatLabels(card.Labels), New: formatLabels(labels)})
			card.Labels = labels
		}
	}
	if patch.Priority != nil && priority != card.Priority {
		changes = append(changes, FieldChange{Field: "priority", Old: string(card.Priority), New: string(priority)})
		card.Priority = priority
	}
	switch {
	case patch.ClearDueDate:
		if card.DueDate != nil {
			changes = append(changes, FieldChange{Field: "dueDate", Old: formatDue(card.DueDate), New: ""})
			card.DueDate = nil
		}
	case patch.DueDate != nil:
		due := utcPtr(patch.DueDate)
		if card.DueDate == nil || !card.DueDate.Equal(*due) {
			changes = append(changes, FieldChange{Field: "dueDate", Old: formatDue(card.DueDate), New: formatDue(due)})
			card.DueDate = due
		}
	}
	if len(changes) == 0 {
		return *card, nil
	}
	card.UpdatedAt = s.now().UTC()
	fx.record(s.activity(b, actor, card.ID, CardUpdated{Changes: changes}))
	return *card, nil
}

// MoveCard moves a card to targetPosition within targetColumnID. Both the
// source and target scopes are computed from the current board before any
// card is touched, then both are re-densified.
func (s CardStore) MoveCard(b *Board, fx *Effects, actor, cardID, targetColumnID string, targetPosition int) (Card, error) {
	i := b.cardIndex(cardID)
	if i < 0 {
		return Card{}, fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
	}
	if b.columnIndex(targetColumnID) < 0 {
		return Card{}, fmt.Errorf("%w: %s", ErrColumnNotFound, targetColumnID)
	}
	fromColumn := b.Cards[i].ColumnID
	src := b.cardScope(fromColumn)
	from := indexOf(src, cardID)

	var to int
	if fromColumn == targetColumnID {
		to = ClampPosition(targetPosition, len(src)-1)
		next, err := MoveWithinScope(src, from, to)
		if err != nil {
			return Card{}, err
		}
		b.applyCardScope(fromColumn, next)
		if from == to {
			return b.Cards[i], nil
		}
	} else {
		srcNext, err := RemoveAt(src, from)
		if err != nil {
			return Card{}, err
		}
		dst := b.cardScope(targetColumnID)
		to = ClampPosition(targetPosition, len(dst))
		dstNext, err := InsertAt(dst, cardID, to)
		if err != nil {
			return Card{}, err
		}
		b.applyCardScope(fromColumn, srcNext)
		b.applyCardScope(targetColumnID, dstNext)
	}

	b.Cards[i].UpdatedAt = s.now().UTC()
	fx.record(s.activity(b, actor, cardID, CardMoved{
		FromColumn: fromColumn,
		ToColumn:   targetColumnID,
		FromOrder:  from,
		ToOrder:    to,
	}))
	return b.Cards[i], nil
}

// DeleteCard removes a card and closes the gap it leaves in its column.
func (s CardStore) DeleteCard(b *Board, fx *Effects, actor, cardID string) error {
	i := b.cardIndex(cardID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
	}
	card := b.Cards[i]
	s.removeCard(b, card)
	fx.record(s.activity(b, actor, card.ID, CardDeleted{Title: card.Title, ColumnID: card.ColumnID}))
	return nil
}

func (s CardStore) removeCard(b *Board, card Card) {
	scope := b.cardScope(card.ColumnID)
	if pos := indexOf(scope, card.ID); pos >= 0 {
		// pos comes from the scope itself, so RemoveAt cannot fail.
		scope, _ = RemoveAt(scope, pos)
	}
	i := b.cardIndex(card.ID)
	b.Cards = append(b.Cards[:i], b.Cards[i+1:]...)
	b.applyCardScope(card.ColumnID, scope)
}

// AddAssignee adds userID to the card. Adding a present user is a no-op and
// sends nothing. It reports whether the assignee list changed.
func (s CardStore) AddAssignee(b *Board, fx *Effects, actor, cardID, userID string) (bool, error) {
	i := b.cardIndex(cardID)
	if i < 0 {
		return false, fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
	}
	if strings.TrimSpace(userID) == "" {
		return false, fmt.Errorf("%w: assignee is required", ErrValidation)
	}
	card := &b.Cards[i]
	if slices.Contains(card.Assignees, userID) {
		return false, nil
	}
	card.Assignees = append(card.Assignees, userID)
	card.UpdatedAt = s.now().UTC()
	fx.record(s.activity(b, actor, card.ID, AssignmentChanged{Added: []string{userID}}))
	fx.notify(Notification{
		UserID:  userID,
		Type:    CardAssignedNotification,
		Title:   "You were assigned to a card",
		Message: fmt.Sprintf("You were assigned to %q", card.Title),
		Data:    CardRef{ProjectID: b.ProjectID, BoardID: b.ID, CardID: card.ID, ActorID: actor},
	})
	return true, nil
}

// RemoveAssignee removes userID from the card. Removing an absent user is a no-op.
func (s CardStore) RemoveAssignee(b *Board, fx *Effects, actor, cardID, userID string) (bool, error) {
	i := b.cardIndex(cardID)
	if i < 0 {
		return false, fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
	}
	card := &b.Cards[i]
	pos := slices.Index(card.Assignees, userID)
	if pos < 0 {
		return false, nil
	}
	card.Assignees = slices.Delete(card.Assignees, pos, pos+1)
	card.UpdatedAt = s.now().UTC()
	fx.record(s.activity(b, actor, card.ID, AssignmentChanged{Removed: []string{userID}}))
	return true, nil
}

// AddLabel adds a label to the card if it is not already present.
func (s CardStore) AddLabel(b *Board, fx *Effects, actor, cardID, label string) (bool, error) {
	i := b.cardIndex(cardID)
	if i < 0 {
		return false, fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return false, fmt.Errorf("%w: label is required", ErrValidation)
	}
	card := &b.Cards[i]
	if slices.Contains(card.Labels, label) {
		return false, nil
	}
	old := formatLabels(card.Labels)
	card.Labels = append(card.Labels, label)
	card.UpdatedAt = s.now().UTC()
	fx.record(s.activity(b, actor, card.ID, CardUpdated{Changes: []FieldChange{{Field: "labels", Old: old, New: formatLabels(card.Labels)}}}))
	return true, nil
}

// RemoveLabel removes a label from the card if present.
func (s CardStore) RemoveLabel(b *Board, fx *Effects, actor, cardID, label string) (bool, error) {
	i := b.cardIndex(cardID)
	if i < 0 {
		return false, fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
	}
	card := &b.Cards[i]
	pos := slices.Index(card.Labels, strings.TrimSpace(label))
	if pos < 0 {
		return false, nil
	}
	old := formatLabels(card.Labels)
	card.Labels = slices.Delete(card.Labels, pos, pos+1)
	card.UpdatedAt = s.now().UTC()
	fx.record(s.activity(b, actor, card.ID, CardUpdated{Changes: []FieldChange{{Field: "labels", Old: old, New: formatLabels(card.Labels)}}}))
	return true, nil
}

// AddComment appends a comment with a server-assigned timestamp.
func (s CardStore) AddComment(b *Board, fx *Effects, author, cardID, text string) (Comment, error) {
	i := b.cardIndex(cardID)
	if i < 0 {
		return Comment{}, fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Comment{}, fmt.Errorf("%w: comment text is required", ErrValidation)
	}
	if !b.Settings.AllowComments {
		return Comment{}, fmt.Errorf("%w: %w", ErrValidation, ErrCommentsDisabled)
	}
	now := s.now().UTC()
	comment := Comment{ID: s.newID(), AuthorID: author, Text: text, CreatedAt: now}
	card := &b.Cards[i]
	card.Comments = append(card.Comments, comment)
	card.UpdatedAt = now
	fx.record(s.activity(b, author, card.ID, CommentAdded{CommentID: comment.ID, Text: comment.Text}))
	return comment, nil
}

func normalizeLabels(in []string) []string {
	out := make([]string, 0, len(in))
	for _, l := range in {
		l = strings.TrimSpace(l)
		if l == "" || slices.Contains(out, l) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func formatLabels(labels []string) string {
	return strings.Join(labels, ",")
}

func formatDue(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.UTC().Format(time.RFC3339)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
