package capture

import (
	"errors"
	"strings"
)

// ErrPermissionDenied indicates the user has not granted screen recording access.
var ErrPermissionDenied = errors.New("screen recording permission denied")

type permissionError struct {
	message string
}

func (e *permissionError) Error() string {
	return e.message
}

func (e *permissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// NewPermissionError returns an error carrying the backend's own message
// that matches ErrPermissionDenied.
func NewPermissionError(message string) error {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		trimmed = ErrPermissionDenied.Error()
	}
	return &permissionError{message: trimmed}
}
