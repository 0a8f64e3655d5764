package domain

import "errors"

var (
	// ErrValidation marks malformed input such as an empty title or comment.
	ErrValidation = errors.New("validation error")
	// ErrCommentsDisabled is returned when a board does not accept comments.
	ErrCommentsDisabled = errors.New("comments are disabled on this board")

	ErrBoardNotFound  = errors.New("board not found")
	ErrColumnNotFound = errors.New("column not found")
	ErrCardNotFound   = errors.New("card not found")

	ErrInvalidPosition    = errors.New("invalid position")
	ErrInvalidDisposition = errors.New("invalid disposition")

	// ErrConcurrentModification indicates that the underlying storage rejected
	// a save because a newer version of the board is already persisted.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrPersistence wraps any other storage failure, including timeouts.
	ErrPersistence = errors.New("persistence error")

	// ErrCorruptBoard is returned by Board.Validate when an invariant is broken.
	ErrCorruptBoard = errors.New("board invariant violated")
)

// IsNotFound reports whether err is one of the not found variants.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBoardNotFound) || errors.Is(err, ErrColumnNotFound) || errors.Is(err, ErrCardNotFound)
}
