// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies gateway failures independently of transport.
type ErrorCode int

const (
	ErrCodeNone ErrorCode = iota
	ErrCodeValidation
	ErrCodeNotFound
	ErrCodeConflict
	ErrCodeLockConflict
	ErrCodeLockTimeout
	ErrCodeNodeUnavailable
	ErrCodeUpstream
	ErrCodePersistence
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeValidation:
		return "validation"
	case ErrCodeNotFound:
		return "not_found"
	case ErrCodeConflict:
		return "conflict"
	case ErrCodeLockConflict:
		return "lock_conflict"
	case ErrCodeLockTimeout:
		return "lock_timeout"
	case ErrCodeNodeUnavailable:
		return "node_unavailable"
	case ErrCodeUpstream:
		return "upstream"
	case ErrCodePersistence:
		return "persistence"
	default:
		return "none"
	}
}

// ParseErrorCode is the inverse of ErrorCode.String. Unknown names map to
// ErrCodeNone.
func ParseErrorCode(name string) ErrorCode {
	for c := ErrCodeValidation; c <= ErrCodePersistence; c++ {
		if c.String() == name {
			return c
		}
	}
	return ErrCodeNone
}

// Error is a domain-level error carrying a classification code.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, ErrNotFound) works
// for every not-found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Err == nil
}

// Code sentinels for errors.Is.
var (
	ErrValidation      = &Error{Code: ErrCodeValidation}
	ErrNotFound        = &Error{Code: ErrCodeNotFound}
	ErrConflict        = &Error{Code: ErrCodeConflict}
	ErrLockConflict    = &Error{Code: ErrCodeLockConflict}
	ErrLockTimeout     = &Error{Code: ErrCodeLockTimeout}
	ErrNodeUnavailable = &Error{Code: ErrCodeNodeUnavailable}
	ErrUpstream        = &Error{Code: ErrCodeUpstream}
	ErrPersistence     = &Error{Code: ErrCodePersistence}
)

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeNone
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

func NewValidationError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(kind, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %s not found", kind, id)}
}

func NewConflictError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeConflict, Message: fmt.Sprintf(format, args...)}
}

func NewLockConflictError(resourceID string) *Error {
	return &Error{Code: ErrCodeLockConflict, Message: fmt.Sprintf("resource %s is locked", resourceID)}
}

func NewLockTimeoutError(resourceID string, err error) *Error {
	return &Error{Code: ErrCodeLockTimeout, Message: fmt.Sprintf("timed out waiting for lock on %s", resourceID), Err: err}
}

func NewNodeUnavailableError(reason string) *Error {
	return &Error{Code: ErrCodeNodeUnavailable, Message: "no healthy node available: " + reason}
}

func NewUpstreamError(endpoint string, err error) *Error {
	return &Error{Code: ErrCodeUpstream, Message: "node " + endpoint + " request failed", Err: err}
}

func NewPersistenceError(op string, err error) *Error {
	return &Error{Code: ErrCodePersistence, Message: op, Err: err}
}
