// Package errs defines the error taxonomy shared by the rental workflow core.
// Every failure that crosses the application boundary carries a Kind so the
// transport layer can map it to a status code without inspecting messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	KindInvalidTransition       Kind = "invalid_transition"
	KindConflict                Kind = "conflict"
	KindIncompleteReport        Kind = "incomplete_report"
	KindInvalidAmount           Kind = "invalid_amount"
	KindAlreadyBilled           Kind = "already_billed"
	KindCollaboratorUnavailable Kind = "collaborator_unavailable"
	KindCollaboratorRejected    Kind = "collaborator_rejected"
	KindNotFound                Kind = "not_found"
	KindValidation              Kind = "validation"
	KindInternal                Kind = "internal"
)

// Error is a classified error with a human readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Sentinels for errors.Is checks. Matching is by Kind only.
var (
	ErrInvalidTransition       = &Error{Kind: KindInvalidTransition}
	ErrConflict                = &Error{Kind: KindConflict}
	ErrIncompleteReport        = &Error{Kind: KindIncompleteReport}
	ErrInvalidAmount           = &Error{Kind: KindInvalidAmount}
	ErrAlreadyBilled           = &Error{Kind: KindAlreadyBilled}
	ErrCollaboratorUnavailable = &Error{Kind: KindCollaboratorUnavailable}
	ErrCollaboratorRejected    = &Error{Kind: KindCollaboratorRejected}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrValidation              = &Error{Kind: KindValidation}
)

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the message of the first *Error in err's chain, falling
// back to err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// NotFound is shorthand for a KindNotFound error about an entity.
func NotFound(entity string, id interface{}) *Error {
	return New(KindNotFound, "%s %v not found", entity, id)
}
