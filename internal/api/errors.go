package api

import (
	stderrors "errors"
	"net/http"

	"github.com/openbuilders/loyalty-checkout/internal/errors"
)

// APIError is an error that is sent to the client as is.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

var (
	errMethodNotAllowed = &APIError{http.StatusMethodNotAllowed, "Method not allowed"}
	errNotFound         = &APIError{http.StatusNotFound, "Not found"}
	errInternal         = &APIError{http.StatusInternalServerError, "internal error"}
	errCreatingTx       = &APIError{http.StatusInternalServerError, "error creating transaction"}
	errBadBody          = &APIError{http.StatusBadRequest, "Invalid request body"}
)

func statusOf(code errors.ErrorCode) int {
	switch code {
	case errors.CodeValidation, errors.CodeCredential, errors.CodeSerialization:
		return http.StatusBadRequest
	case errors.CodeConflict:
		return http.StatusConflict
	case errors.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// toAPIError decides what the client sees for err. Messages of server-side
// failures never leave the process.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}

	var serviceErr errors.ServiceError
	if stderrors.As(err, &serviceErr) {
		status := statusOf(serviceErr.Code)
		if status < http.StatusInternalServerError {
			return &APIError{Status: status, Message: serviceErr.Message}
		}
	}

	return errInternal
}
