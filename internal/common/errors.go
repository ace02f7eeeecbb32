package common

import (
	"errors"
	"net/http"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// WithDetails attaches a details payload rendered alongside the error.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

func BadRequest(code, message string, err error) *AppError {
	return NewAppError(code, message, http.StatusBadRequest, err)
}

func NotFound(code, message string) *AppError {
	return NewAppError(code, message, http.StatusNotFound, nil)
}

func Forbidden(message string) *AppError {
	return NewAppError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func Conflict(code, message string) *AppError {
	return NewAppError(code, message, http.StatusConflict, nil)
}

// Unprocessable reports a well-formed request that business rules refuse.
func Unprocessable(code, message string) *AppError {
	return NewAppError(code, message, http.StatusUnprocessableEntity, nil)
}

// Unavailable reports a failing upstream dependency.
func Unavailable(code, message string, err error) *AppError {
	return NewAppError(code, message, http.StatusServiceUnavailable, err)
}

// BusinessError is implemented by domain errors whose message is safe to show
// to the customer. They render as 422 with their own code.
type BusinessError interface {
	error
	ErrorCode() string
}

// WriteError renders err using the canonical error shape. Unknown errors are
// reported as INTERNAL without leaking their text.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	var bizErr BusinessError
	if errors.As(err, &bizErr) {
		JSONError(w, http.StatusUnprocessableEntity, bizErr.ErrorCode(), bizErr.Error(), nil)
		return
	}
	JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
}
