package domain

import "fmt"

// A scope is an ordered list of member ids. A member's order value is its
// index, so every scope returned here is dense by construction.

// ClampPosition limits pos to [0, n].
func ClampPosition(pos, n int) int {
	if pos < 0 {
		return 0
	}
	if pos > n {
		return n
	}
	return pos
}

// InsertAt returns a new scope with id placed at position. Members at or
// after position shift up by one. position must be within [0, len(scope)].
func InsertAt(scope []string, id string, position int) ([]string, error) {
	if position < 0 || position > len(scope) {
		return nil, fmt.Errorf("%w: insert at %d in scope of %d", ErrInvalidPosition, position, len(scope))
	}
	out := make([]string, 0, len(scope)+1)
	out = append(out, scope[:position]...)
	out = append(out, id)
	out = append(out, scope[position:]...)
	return out, nil
}

// RemoveAt returns a new scope without the member at position.
func RemoveAt(scope []string, position int) ([]string, error) {
	if position < 0 || position >= len(scope) {
		return nil, fmt.Errorf("%w: remove at %d in scope of %d", ErrInvalidPosition, position, len(scope))
	}
	out := make([]string, 0, len(scope)-1)
	out = append(out, scope[:position]...)
	out = append(out, scope[position+1:]...)
	return out, nil
}

// MoveWithinScope moves the member at from so that it ends up at index to.
// to is measured against the final scope, so it must be within [0, len(scope)-1].
func MoveWithinScope(scope []string, from, to int) ([]string, error) {
	if from < 0 || from >= len(scope) {
		return nil, fmt.Errorf("%w: move from %d in scope of %d", ErrInvalidPosition, from, len(scope))
	}
	if to < 0 || to >= len(scope) {
		return nil, fmt.Errorf("%w: move to %d in scope of %d", ErrInvalidPosition, to, len(scope))
	}
	id := scope[from]
	rest, err := RemoveAt(scope, from)
	if err != nil {
		return nil, err
	}
	return InsertAt(rest, id, to)
}

func indexOf(scope []string, id string) int {
	for i, v := range scope {
		if v == id {
			return i
		}
	}
	return -1
}
