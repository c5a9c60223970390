package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrBannedUser        = errors.New("user is banned")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// OpError is returned by every service operation. Err is one of the sentinels
// above or a wrapped store failure.
type OpError struct {
	Op     string
	Reason string
	Err    error
}

func (e *OpError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func NewOpError(op, reason string, err error) *OpError {
	return &OpError{Op: op, Reason: reason, Err: err}
}

// IsAdvisoryMiss is true for read failures an advisory lookup may swallow.
func IsAdvisoryMiss(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrNotFound)
}
