package hierarchy

import (
	"errors"
	"fmt"
)

// Kind identifies a category of hierarchy failure. Callers match kinds with
// errors.Is against the exported sentinels below.
type Kind string

const (
	KindInvalidTransition    Kind = "invalid_transition"
	KindSpawnNotAllowed      Kind = "spawn_not_allowed"
	KindAlreadyEscalated     Kind = "already_escalated"
	KindAlreadyDelivered     Kind = "already_delivered"
	KindNoParentToEscalateTo Kind = "no_parent_to_escalate_to"
	KindCorruptHierarchy     Kind = "corrupt_hierarchy"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
)

// Error is the typed failure returned by every hierarchy operation.
type Error struct {
	Kind      Kind
	SessionID string
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.SessionID != "" {
		msg = fmt.Sprintf("session %s: %s", e.SessionID, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same kind, so sentinel comparison works
// regardless of the message and session id attached at the failure site.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is matching, one per kind in the taxonomy.
var (
	ErrInvalidTransition    = &Error{Kind: KindInvalidTransition}
	ErrSpawnNotAllowed      = &Error{Kind: KindSpawnNotAllowed}
	ErrAlreadyEscalated     = &Error{Kind: KindAlreadyEscalated}
	ErrAlreadyDelivered     = &Error{Kind: KindAlreadyDelivered}
	ErrNoParentToEscalateTo = &Error{Kind: KindNoParentToEscalateTo}
	ErrCorruptHierarchy     = &Error{Kind: KindCorruptHierarchy}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrConflict             = &Error{Kind: KindConflict}
)

// NewError builds a typed hierarchy error. Store implementations use it to
// report NotFound and Conflict in the shared taxonomy.
func NewError(kind Kind, sessionID, format string, args ...any) *Error {
	return &Error{Kind: kind, SessionID: sessionID, Msg: fmt.Sprintf(format, args...)}
}

func newError(kind Kind, sessionID, format string, args ...any) *Error {
	return NewError(kind, sessionID, format, args...)
}

// WrapError attaches a kind and session id to an underlying error.
func WrapError(kind Kind, sessionID string, err error) *Error {
	return &Error{Kind: kind, SessionID: sessionID, Err: err}
}

// IsKind reports whether err carries the given hierarchy error kind.
func IsKind(err error, kind Kind) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind == kind
	}
	return false
}
