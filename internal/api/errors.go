package api

import (
	"errors"
	"net/http"

	"duckbridge/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var initErr *domain.InitializationError
	var timeout *domain.TimeoutError
	var registration *domain.RegistrationError
	var query *domain.QueryError
	var validation *domain.ValidationError

	switch {
	case errors.Is(err, domain.ErrEngineClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &initErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &timeout):
		return http.StatusServiceUnavailable
	case errors.As(err, &registration):
		return http.StatusUnprocessableEntity
	case errors.As(err, &query), errors.As(err, &validation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
