package domain

import (
	"fmt"
	"testing"
	"time"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ptrString(s string) *string { return &s }

// seqIDs returns deterministic ids: id-1, id-2, ...
func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func testCardStore() CardStore {
	return NewCardStore(func() time.Time { return testNow }, seqIDs())
}

// newTestBoard builds a board with columns Todo, Doing, Done (ids todo, doing,
// done) and the given cards per column, in order.
func newTestBoard(cards map[string][]string) *Board {
	b := &Board{
		ID:        "b1",
		Name:      "Board",
		ProjectID: "p1",
		Settings:  DefaultSettings(),
		Columns: []Column{
			{ID: "todo", Name: "Todo", Order: 0},
			{ID: "doing", Name: "Doing", Order: 1},
			{ID: "done", Name: "Done", Order: 2},
		},
	}
	for _, col := range []string{"todo", "doing", "done"} {
		for i, id := range cards[col] {
			b.Cards = append(b.Cards, Card{
				ID:       id,
				Title:    "card " + id,
				ColumnID: col,
				Order:    i,
				Priority: PriorityMedium,
			})
		}
	}
	return b
}

func mustValid(t *testing.T, b *Board) {
	t.Helper()
	if err := b.Validate(); err != nil {
		t.Fatalf("board invalid: %v", err)
	}
}

// columnCards returns the card ids of a column in order.
func columnCards(b *Board, columnID string) []string {
	var ids []string
	for _, c := range b.CardsInColumn(columnID) {
		ids = append(ids, c.ID)
	}
	return ids
}
