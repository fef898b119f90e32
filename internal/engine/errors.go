package engine

import (
	"fmt"
	"net/http"
)

// DomainError carries a stable status-like code alongside the transport
// status. NotFound and AccessDenied are terminal per request; upstream
// failures on the store abort the mutation.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errNotFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

func errAccessDenied(message string) *DomainError {
	return domainError(http.StatusForbidden, "ACCESS_DENIED", message, nil)
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func errIllegalTransition(from, to string) *DomainError {
	return domainError(http.StatusConflict, "ILLEGAL_TRANSITION",
		fmt.Sprintf("no transition from %q to %q", from, to), nil)
}

func errUpstream(what string, err error) *DomainError {
	return domainError(http.StatusBadGateway, "UPSTREAM_FAILURE", what+" failed", map[string]any{
		"cause": err.Error(),
	})
}
