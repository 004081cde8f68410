package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for session protocol errors.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeRoomNotFound   = "room_not_found"
	ErrCodeRoomInactive   = "room_inactive"
	ErrCodeMessageTooLong = "message_too_long"
	ErrCodeDeleteDenied   = "delete_denied"
	ErrCodeInternal       = "internal"
	ErrCodeRateLimited    = "rate_limited"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrRoomNotFound    = errors.New("room not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrPermission      = errors.New("permission denied")
	ErrRoomInactive    = errors.New("room inactive")
	ErrRoomLimit       = errors.New("room limit reached")

	ErrEmptyMessage    = fmt.Errorf("message is empty: %w", ErrValidation)
	ErrMessageTooLong  = fmt.Errorf("message too long: %w", ErrValidation)
	ErrPasswordTooLong = fmt.Errorf("room password too long: %w", ErrValidation)
)

// StoreError reports a failed durable write. The operation that returned it
// left in-memory state unchanged.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// errorFor maps a registry error onto the session error sent to the client.
func errorFor(err error) *CoreError {
	switch {
	case errors.Is(err, ErrMessageTooLong):
		return coreError(ErrCodeMessageTooLong, "message is too long")
	case errors.Is(err, ErrValidation):
		return coreError(ErrCodeBadRequest, strings.TrimSuffix(err.Error(), ": "+ErrValidation.Error()))
	case errors.Is(err, ErrRoomNotFound):
		return coreError(ErrCodeRoomNotFound, "room not found")
	case errors.Is(err, ErrRoomInactive):
		return coreError(ErrCodeRoomInactive, "room is no longer active")
	default:
		return coreError(ErrCodeInternal, "internal error")
	}
}
