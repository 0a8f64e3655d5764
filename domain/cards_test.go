package domain

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestCreateCardAppendsToColumn(t *testing.T) {
	b := newTestBoard(map[string][]string{"todo": {"c1", "c2"}})
	fx := &Effects{}
	card, err := testCardStore().CreateCard(b, fx, "todo", "  New  ", "u1", CardFields{Labels: []string{"bug", " bug", ""}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if card.Order != 2 || card.Title != "New" || card.Priority != PriorityMedium || card.CreatedBy != "u1" {
		t.Fatalf("unexpected card: %#v", card)
	}
	if !slices.Equal(card.Labels, []string{"bug"}) {
		t.Fatalf("labels not normalized: %v", card.Labels)
	}
	mustValid(t, b)
	if len(fx.Activities) != 1 {
		t.Fatalf("expected one activity, got %d", len(fx.Activities))
	}
	got, ok := fx.Activities[0].Details.(CardCreated)
	if !ok || got.ColumnID != "todo" || got.Order != 2 || fx.Activities[0].UserID != "u1" || fx.Activities[0].BoardID != "b1" {
		t.Fatalf("unexpected activity: %#v", fx.Activities[0])
	}
}

func TestCreateCardValidation(t *testing.T) {
	b := newTestBoard(nil)
	s := testCardStore()
	if _, err := s.CreateCard(b, nil, "missing", "t", "u1", CardFields{}); !errors.Is(err, ErrColumnNotFound) {
		t.Fatalf("expected ErrColumnNotFound, got %v", err)
	}
	if _, err := s.CreateCard(b, nil, "todo", "   ", "u1", CardFields{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := s.CreateCard(b, nil, "todo", "t", "u1", CardFields{Priority: "asap"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for priority, got %v", err)
	}
	if len(b.Cards) != 0 {
		t.Fatalf("board modified by failed creates: %#v", b.Cards)
	}
}

func TestMoveCardAcrossColumns(t *testing.T) {
	b := newTestBoard(map[string][]string{"todo": {"c1", "c2"}})
	fx := &Effects{}
	card, err := testCardStore().MoveCard(b, fx, "u1", "c2", "doing", 0)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	mustValid(t, b)
	if card.ColumnID != "doing" || card.Order != 0 {
		t.Fatalf("unexpected card: %#v", card)
	}
	if got := columnCards(b, "todo"); !slices.Equal(got, []string{"c1"}) {
		t.Fatalf("todo: %v", got)
	}
	if got := columnCards(b, "doing"); !slices.Equal(got, []string{"c2"}) {
		t.Fatalf("doing: %v", got)
	}
	moved, ok := fx.Activities[0].Details.(CardMoved)
	if !ok || moved != (CardMoved{FromColumn: "todo", ToColumn: "doing", FromOrder: 1, ToOrder: 0}) {
		t.Fatalf("unexpected activity: %#v", fx.Activities[0].Details)
	}
}

func TestMoveCardClosesGapInSource(t *testing.T) {
	b := newTestBoard(map[string][]string{"todo": {"c1", "c2", "c3"}, "doing": {"d1"}})
	if _, err := testCardStore().MoveCard(b, nil, "u1", "c1", "doing", 99); err != nil {
		t.Fatalf("move: %v", err)
	}
	mustValid(t, b)
	if got := columnCards(b, "todo"); !slices.Equal(got, []string{"c2", "c3"}) {
		t.Fatalf("todo: %v", got)
	}
	if got := columnCards(b, "doing"); !slices.Equal(got, []string{"d1", "c1"}) {
		t.Fatalf("doing: %v", got)
	}
}

func TestMoveCardWithinColumn(t *testing.T) {
	b := newTestBoard(map[string][]string{"todo": {"c1", "c2", "c3", "c4"}})
	s := testCardStore()
	if _, err := s.MoveCard(b, nil, "u1", "c1", "todo", 2); err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := columnCards(b, "todo"); !slices.Equal(got, []string{"c2", "c3", "c1", "c4"}) {
		t.Fatalf("after down move: %v", got)
	}
	if _, err := s.MoveCard(b, nil, "u1", "c4", "todo", -3); err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := columnCards(b, "todo"); !slices.Equal(got, []string{"c4", "c2", "c3", "c1"}) {
		t.Fatalf("after clamped up move: %v", got)
	}
	mustValid(t, b)
}

func TestMoveCardToSamePositionRecordsNothing(t *testing.T) {
	b := newTestBoard(map[string][]string{"todo": {"c1", "c2"}})
	fx := &Effects{}
	if _, err := testCardStore().MoveCard(b, fx, "u1", "c2", "todo", 1); err != nil {
		t.Fatalf("move: %v", err)
	}
	if !fx.Empty() {
		t.Fatalf("expected no effects, got %#v", fx)
	}
}

func TestMoveCardFailuresLeaveBoardUntouched(t *testing.T) {
	b := newTestBoard(map[string][]string{"todo": {"c1", "c2"}})
	before := b.Clone()
	s := testCardStore()
	if _, err := s.MoveCard(b, nil, "u1", "c1", "nope", 0); !errors.Is(err, ErrColumnNotFound) {
		t.Fatalf("expected ErrColumnNotFound, got %v", err)
	}
	if _, err := s.MoveCard(b, nil, "u1", "zz", "doing", 0); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}
	if !slices.Equal(columnCards(b, "todo"), columnCards(before, "todo")) || len(b.Cards) != len(before.Cards) {
		t.Fatalf("board changed after failed moves")
	}
}

func TestDeleteCardRedensifies(t *testing.T) {
	b := newTestBoard(map[string][]string{"todo": {"c1", "c2", "c3"}})
	fx := &Effects{}
	if err := testCardStore().DeleteCard(b, fx, "u1", "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	mustValid(t, b)
	cards := b.CardsInColumn("todo")
	if len(cards) != 2 || cards[0].ID != "c2" || cards[0].Order != 0 || cards[1].ID != "c3" || cards[1].Order != 1 {
		t.Fatalf("unexpected cards: %#v", cards)
	}
	if del, ok := fx.Activities[0].Details.(CardDeleted); !ok || del.Title != "card c1" || del.Cascade {
		t.Fatalf("unexpected activity: %#v", fx.Activities[0].Details)
	}
	if err := testCardStore().DeleteCard(b, nil, "u1", "c1"); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}
}

func TestUpdateCardRecordsChangedFieldsOnly(t *testing.T) {
	b := newTestBoard(map[string][]string{"todo": {"c1"}})
	fx := &Effects{}
	due := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	card, err := testCardStore().UpdateCard(b, fx, "u2", "c1", CardPatch{
		Title:    ptrString("card c1"),
		Priority: ptrString("high"),
		DueDate:  &due,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if card.Priority != PriorityHigh || card.DueDate == nil || !card.DueDate.Equal(due) || !card.UpdatedAt.Equal(testNow) {
		t.Fatalf("unexpected card: %#v", card)
	}
	upd, ok := fx.Activities[0].Details.(CardUpdated)
	if !ok || len(upd.Changes) != 2 {
		t.Fatalf("unexpected activity: %#v", fx.Activities[0].Details)
	}
	if upd.Changes[0] != (FieldChange{Field: "priority", Old: "medium", New: "high"}) {
		t.Fatalf("unexpected priority change: %#v", upd.Changes[0])
	}
	if upd.Changes[1].Field != "dueDate" || upd.Changes[1].New != "2024-06-01T00:00:00Z" {
		t.Fatalf("unexpected due change: %#v", upd.Changes[1])
	}
}

func TestUpdateCardRejectsBeforeChanging(t *testing.T) {
	b := newTestBoard(map[string][]string{"todo": {"c1"}})
	fx := &Effects{}
	_, err := testCardStore().UpdateCard(b, fx, "u1", "c1", CardPatch{
		Description: ptrString("changed"),
		Priority:    ptrString("whenever"),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if card, _ := b.Card("c1"); card.Description != "" {
		t.Fatalf("description applied despite error")
	}
	if !fx.Empty() {
		t.Fatalf("effects recorded despite error")
	}
}

func TestAssigneesAreIdempotent(t *testing.T) {
	b := newTestBoard(map[string][]string{"todo": {"c1"}})
	s := testCardStore()
	fx := &Effects{}
	changed, err := s.AddAssignee(b, fx, "u1", "c1", "u2")
	if err != nil || !changed {
		t.Fatalf("add: changed=%v err=%v", changed, err)
	}
	if len(fx.Notifications) != 1 || fx.Notifications[0].UserID != "u2" || fx.Notifications[0].Type != CardAssignedNotification {
		t.Fatalf("unexpected notifications: %#v", fx.Notifications)
	}
	if fx.Notifications[0].Data != (CardRef{ProjectID: "p1", BoardID: "b1", CardID: "c1", ActorID: "u1"}) {
		t.Fatalf("unexpected notification data: %#v", fx.Notifications[0].Data)
	}

	again := &Effects{}
	changed, err = s.AddAssignee(b, again, "u1", "c1", "u2")
	if err != nil || changed || !again.Empty() {
		t.Fatalf("second add: changed=%v err=%v fx=%#v", changed, err, again)
	}
	if card, _ := b.Card("c1"); !slices.Equal(card.Assignees, []string{"u2"}) {
		t.Fatalf("unexpected assignees: %v", card.Assignees)
	}

	removed := &Effects{}
	changed, err = s.RemoveAssignee(b, removed, "u1", "c1", "u2")
	if err != nil || !changed || len(removed.Notifications) != 0 || len(removed.Activities) != 1 {
		t.Fatalf("remove: changed=%v err=%v fx=%#v", changed, err, removed)
	}
	changed, err = s.RemoveAssignee(b, nil, "u1", "c1", "u2")
	if err != nil || changed {
		t.Fatalf("second remove: changed=%v err=%v", changed, err)
	}
}

func TestLabels(t *testing.T) {
	b := newTestBoard(map[string][]string{"todo": {"c1"}})
	s := testCardStore()
	if changed, err := s.AddLabel(b, nil, "u1", "c1", "bug"); err != nil || !changed {
		t.Fatalf("add: changed=%v err=%v", changed, err)
	}
	if changed, _ := s.AddLabel(b, nil, "u1", "c1", " bug "); changed {
		t.Fatalf("duplicate label added")
	}
	if _, err := s.AddLabel(b, nil, "u1", "c1", " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if changed, err := s.RemoveLabel(b, nil, "u1", "c1", "bug"); err != nil || !changed {
		t.Fatalf("remove: changed=%v err=%v", changed, err)
	}
	if card, _ := b.Card("c1"); len(card.Labels) != 0 {
		t.Fatalf("unexpected labels: %v", card.Labels)
	}
}

func TestAddComment(t *testing.T) {
	b := newTestBoard(map[string][]string{"todo": {"c1"}})
	s := testCardStore()
	fx := &Effects{}
	comment, err := s.AddComment(b, fx, "u3", "c1", " looks good ")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if comment.Text != "looks good" || comment.AuthorID != "u3" || !comment.CreatedAt.Equal(testNow) {
		t.Fatalf("unexpected comment: %#v", comment)
	}
	if card, _ := b.Card("c1"); len(card.Comments) != 1 {
		t.Fatalf("comment not stored")
	}
	if added, ok := fx.Activities[0].Details.(CommentAdded); !ok || added.CommentID != comment.ID {
		t.Fatalf("unexpected activity: %#v", fx.Activities[0].Details)
	}

	if _, err := s.AddComment(b, nil, "u3", "c1", "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	b.Settings.AllowComments = false
	_, err = s.AddComment(b, nil, "u3", "c1", "hi")
	if !errors.Is(err, ErrCommentsDisabled) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrCommentsDisabled, got %v", err)
	}
}
