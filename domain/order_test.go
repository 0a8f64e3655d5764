package domain

import (
	"errors"
	"slices"
	"testing"
)

func TestInsertAt(t *testing.T) {
	cases := []struct {
		scope []string
		pos   int
		want  []string
	}{
		{nil, 0, []string{"x"}},
		{[]string{"a", "b"}, 0, []string{"x", "a", "b"}},
		{[]string{"a", "b"}, 1, []string{"a", "x", "b"}},
		{[]string{"a", "b"}, 2, []string{"a", "b", "x"}},
	}
	for _, c := range cases {
		got, err := InsertAt(c.scope, "x", c.pos)
		if err != nil {
			t.Fatalf("insert %v at %d: %v", c.scope, c.pos, err)
		}
		if !slices.Equal(got, c.want) {
			t.Fatalf("insert %v at %d: got %v want %v", c.scope, c.pos, got, c.want)
		}
	}
}

func TestInsertAtRejectsOutOfRange(t *testing.T) {
	for _, pos := range []int{-1, 3} {
		if _, err := InsertAt([]string{"a", "b"}, "x", pos); !errors.Is(err, ErrInvalidPosition) {
			t.Fatalf("pos %d: expected ErrInvalidPosition, got %v", pos, err)
		}
	}
}

func TestInsertAtDoesNotAliasInput(t *testing.T) {
	scope := make([]string, 2, 8)
	scope[0], scope[1] = "a", "b"
	got, _ := InsertAt(scope[:1], "x", 1)
	if scope[1] != "b" || !slices.Equal(got, []string{"a", "x"}) {
		t.Fatalf("input modified: scope=%v got=%v", scope, got)
	}
}

func TestRemoveAt(t *testing.T) {
	got, err := RemoveAt([]string{"a", "b", "c"}, 1)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !slices.Equal(got, []string{"a", "c"}) {
		t.Fatalf("unexpected scope: %v", got)
	}
	if _, err := RemoveAt([]string{"a"}, 1); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
	if _, err := RemoveAt(nil, 0); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition on empty scope, got %v", err)
	}
}

func TestMoveWithinScope(t *testing.T) {
	scope := []string{"a", "b", "c", "d"}
	cases := []struct {
		from, to int
		want     []string
	}{
		{0, 3, []string{"b", "c", "d", "a"}},
		{3, 0, []string{"d", "a", "b", "c"}},
		{1, 2, []string{"a", "c", "b", "d"}},
		{2, 2, []string{"a", "b", "c", "d"}},
	}
	for _, c := range cases {
		got, err := MoveWithinScope(scope, c.from, c.to)
		if err != nil {
			t.Fatalf("move %d->%d: %v", c.from, c.to, err)
		}
		if !slices.Equal(got, c.want) {
			t.Fatalf("move %d->%d: got %v want %v", c.from, c.to, got, c.want)
		}
	}
	if _, err := MoveWithinScope(scope, 0, 4); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
	if _, err := MoveWithinScope(scope, -1, 0); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
}

func TestClampPosition(t *testing.T) {
	if ClampPosition(-5, 3) != 0 || ClampPosition(9, 3) != 3 || ClampPosition(2, 3) != 2 {
		t.Fatalf("unexpected clamp results")
	}
}
