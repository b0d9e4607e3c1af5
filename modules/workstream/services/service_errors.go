package services

import (
	"fmt"
	"net/http"
)

// Kind classifies a ServiceError for callers that branch on failure class
// rather than on HTTP status.
type Kind string

const (
	KindPermissionDenied Kind = "permission_denied"
	KindConflict         Kind = "conflict"
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindInternal         Kind = "internal"
)

type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func (e *ServiceError) Kind() Kind {
	switch e.Status {
	case http.StatusForbidden:
		return KindPermissionDenied
	case http.StatusConflict:
		return KindConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusNotFound:
		return KindNotFound
	}
	return KindInternal
}

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

func newPermissionDenied(message string) *ServiceError {
	return newServiceError(http.StatusForbidden, "WS_PERMISSION_DENIED", message, nil)
}

func newConflict(code, message string) *ServiceError {
	return newServiceError(http.StatusConflict, code, message, nil)
}

func newValidation(code, message string) *ServiceError {
	return newServiceError(http.StatusBadRequest, code, message, nil)
}
