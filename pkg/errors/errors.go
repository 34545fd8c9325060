package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError is an error with the HTTP status and code it is reported with
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the cause
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another AppError with the same code and message, so a sentinel
// carrying a cause still compares equal to the bare sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

func newAppError(code string, status int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

// BadRequest creates a 400 error
func BadRequest(message string, err error) *AppError {
	return newAppError(CodeBadRequest, http.StatusBadRequest, message, err)
}

// NotFound creates a 404 error
func NotFound(message string, err error) *AppError {
	return newAppError(CodeNotFound, http.StatusNotFound, message, err)
}

// Conflict creates a 409 error
func Conflict(message string, err error) *AppError {
	return newAppError(CodeConflict, http.StatusConflict, message, err)
}

// InvalidTransition creates a 409 error for lifecycle ordering violations
func InvalidTransition(message string, err error) *AppError {
	return newAppError(CodeInvalidTransition, http.StatusConflict, message, err)
}

// Internal creates a 500 error
func Internal(message string, err error) *AppError {
	return newAppError(CodeInternal, http.StatusInternalServerError, message, err)
}

// ServiceUnavailable creates a 503 error
func ServiceUnavailable(message string, err error) *AppError {
	return newAppError(CodeServiceUnavailable, http.StatusServiceUnavailable, message, err)
}

var (
	ErrStationNotFound = NotFound("Station not found", nil)
	ErrRideNotFound    = NotFound("Ride not found", nil)
	ErrTripNotFound    = NotFound("Trip not found", nil)

	ErrInvalidTransition   = InvalidTransition("Invalid status transition", nil)
	ErrDriverMismatch      = Conflict("Ride is assigned to a different driver", nil)
	ErrRideNotAssignable   = Conflict("Ride is not matched to this driver and rider", nil)
	ErrTripExists          = Conflict("Ride or driver already has an unfinished trip", nil)
	ErrUpstreamUnavailable = ServiceUnavailable("Record store unavailable", nil)
)

// Upstream wraps a record store failure as ErrUpstreamUnavailable
func Upstream(err error) *AppError {
	return ServiceUnavailable(ErrUpstreamUnavailable.Message, err)
}

// GetAppError returns the AppError in err's chain, or a generic internal error
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("An unexpected error occurred", err)
}
