package models

import (
	"errors"
	"fmt"
)

// Error codes. Validation-class codes are reported to the user and never
// change state; STORAGE_ERROR means the write was dropped.
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeDuplicateLike = "DUPLICATE_LIKE"
	CodeForbidden     = "FORBIDDEN"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeStorage       = "STORAGE_ERROR"
)

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewValidationError reports input that was rejected before any write.
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

// NewDuplicateLikeError reports a like by a user already present in likedBy.
func NewDuplicateLikeError(username, postID string) *AppError {
	return &AppError{
		Code:    CodeDuplicateLike,
		Message: fmt.Sprintf("%s already liked post %s", username, postID),
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

// NewStorageError wraps a durable store failure for key.
func NewStorageError(key string, err error) *AppError {
	return &AppError{
		Code:    CodeStorage,
		Message: fmt.Sprintf("could not persist %s", key),
		Err:     err,
	}
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
