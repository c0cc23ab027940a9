package query

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine-readable failure category returned to callers.
type Kind string

const (
	KindInvalidInput             Kind = "invalid_input"
	KindBlocked                  Kind = "blocked"
	KindCommandNotAllowed        Kind = "command_not_allowed"
	KindUnsupportedQuery         Kind = "unsupported_query"
	KindBackendConnectionFailure Kind = "backend_connection_failure"
	KindBackendExecutionFailure  Kind = "backend_execution_failure"
	KindToolSpawnFailure         Kind = "tool_spawn_failure"
	KindTimeout                  Kind = "timeout"
)

// Error carries a Kind and a message that is safe to show to clients. The
// wrapped cause is for logs only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind Kind, message string) *Error { return &Error{Kind: kind, Message: message} }

func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind, true
	}
	return "", false
}
