package util

import (
	"errors"
	"fmt"
	"net/http"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

// NewThreadArchived signals a send against an archived thread. Terminal for
// sends; history on the thread remains readable.
func NewThreadArchived(threadID string) error {
	return NewDomainError("THREAD_ARCHIVED", "thread is archived", http.StatusConflict, map[string]any{
		"thread_id": threadID,
	})
}

// NewTransientStore wraps a recoverable store or transport failure. Callers
// retry with backoff.
func NewTransientStore(err error) error {
	return &DomainError{
		Code:       "TRANSIENT_STORE",
		Message:    "temporary storage failure",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsTransient reports whether the error is worth retrying with backoff.
// Unknown errors count as transient so infrastructure hiccups are never
// silently terminal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return true
	}
	return domainErr.Code == "TRANSIENT_STORE" || domainErr.Code == "INTERNAL_ERROR"
}

// IsTerminalSend reports whether a send must not be retried: the caller is
// not a participant, the thread is gone, or the thread is archived.
func IsTerminalSend(err error) bool {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	switch domainErr.Code {
	case "UNAUTHORIZED", "FORBIDDEN", "NOT_FOUND", "THREAD_ARCHIVED", "VALIDATION_FAILED":
		return true
	}
	return false
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
