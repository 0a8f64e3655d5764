package api

import (
	"errors"
	"net/http"

	"prism-board/domain"
)

var (
	errDuplicateCommand = errors.New("duplicate command")
	errBodyTooLarge     = errors.New("request body too large")
)

// statusFor maps engine errors onto HTTP status codes and an error stage for
// request metrics.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, "validation"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidPosition),
		errors.Is(err, domain.ErrInvalidDisposition):
		return http.StatusBadRequest, "validation"
	case domain.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrConcurrentModification):
		return http.StatusConflict, "conflict"
	case errors.Is(err, errDuplicateCommand):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable, "storage"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
