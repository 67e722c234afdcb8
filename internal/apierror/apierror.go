// Package apierror defines the handful of error kinds the Control API
// surfaces to clients, per spec section 7.
package apierror

import (
	"encoding/json"
	"errors"
	"net/http"
)

type Type string

const (
	TypeValidation Type = "ValidationError"
	TypeAuth       Type = "AuthError"
	TypeNotFound   Type = "NotFound"
	TypeConflict   Type = "Conflict"
	TypeInternal   Type = "Internal"
)

// Error is the wire shape for every JSON error response: {error_type, message}.
type Error struct {
	ErrType Type   `json:"error_type"`
	Message string `json:"message"`
	status  int
}

func (e *Error) Error() string { return string(e.ErrType) + ": " + e.Message }

func (e *Error) Status() int { return e.status }

func New(t Type, status int, message string) *Error {
	return &Error{ErrType: t, Message: message, status: status}
}

func Validation(message string) *Error { return New(TypeValidation, http.StatusBadRequest, message) }
func Auth(message string) *Error       { return New(TypeAuth, http.StatusUnauthorized, message) }
func NotFound(message string) *Error   { return New(TypeNotFound, http.StatusNotFound, message) }
func Conflict(message string) *Error   { return New(TypeConflict, http.StatusConflict, message) }
func Internal(message string) *Error   { return New(TypeInternal, http.StatusInternalServerError, message) }

// As unwraps err into an *Error, synthesizing an Internal one if err isn't
// already typed. Never fatal to the calling handler.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err.Error())
}

// Write serializes err (or any error) as the standard JSON error body.
func Write(w http.ResponseWriter, err error) {
	apiErr := As(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.status)
	_ = json.NewEncoder(w).Encode(apiErr)
}
