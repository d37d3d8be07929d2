package domain

import (
	"errors"
	"strings"
)

// Kind classifies failures surfaced by the version and sandbox pipeline.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindStorage    Kind = "storage"
	KindTimeout    Kind = "timeout"
	KindExecution  Kind = "execution"
	KindIntegrity  Kind = "integrity"
)

// Error carries a Kind plus the operation that failed. Callers match kinds
// with errors.Is against the Err* sentinels or with IsKind.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrStorage    = &Error{Kind: KindStorage}
	ErrTimeout    = &Error{Kind: KindTimeout}
	ErrExecution  = &Error{Kind: KindExecution}
	ErrIntegrity  = &Error{Kind: KindIntegrity}
)

func NewError(kind Kind, op string, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func WrapError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := make([]string, 0, 3)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	parts = append(parts, string(e.Kind))
	msg := strings.Join(parts, ": ")
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	if t.Op != "" || t.Message != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
