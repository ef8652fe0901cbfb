package domain

import "fmt"

// AppError is the base domain error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Standard domain error constructors.

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: "NOT_FOUND", Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: "VALIDATION_ERROR", Message: msg, Status: 400}
}

// ErrStoreUnavailable signals that the local store could not be opened
// after exhausting the retry budget.
func ErrStoreUnavailable(cause error) *AppError {
	return &AppError{Code: "STORE_UNAVAILABLE", Message: "local store unavailable", Status: 503, Cause: cause}
}

// ErrOffline signals that the remote store is unreachable. Background
// sync passes treat offline as retriable and stay silent; a manual
// sync request gets this instead of a meaningless zero count.
func ErrOffline() *AppError {
	return &AppError{Code: "OFFLINE", Message: "remote store unreachable", Status: 503}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: "INTERNAL_ERROR", Message: msg, Status: 500, Cause: cause}
}
