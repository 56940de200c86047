// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Package errs defines the typed error taxonomy shared by the control plane.
// Every failure that crosses a package boundary carries a Kind so the HTTP
// layer and the CLI can map it to a status code or an exit message without
// string matching.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable error class.
type Kind string

const (
	Unauthorized           Kind = "UNAUTHORIZED"
	Forbidden              Kind = "FORBIDDEN"
	Validation             Kind = "VALIDATION_ERROR"
	NotFound               Kind = "NOT_FOUND"
	HostMismatch           Kind = "HOST_MISMATCH"
	InvalidStateTransition Kind = "INVALID_STATE_TRANSITION"
	Conflict               Kind = "CONFLICT"
	Internal               Kind = "INTERNAL_ERROR"
)

// Error is a classified error. Err, when set, is the underlying cause and is
// reachable through errors.Is / errors.As.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain. Unclassified
// errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a Kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden, HostMismatch:
		return http.StatusForbidden
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case InvalidStateTransition, Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
