// Package apperr classifies errors surfaced by the drop engine and battle
// orchestrator so transports can map them to status codes without knowing
// every sentinel.
package apperr

import "errors"

type Kind string

const (
	KindUnknown           Kind = "unknown"
	KindValidation        Kind = "validation"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindConflict          Kind = "conflict"
	KindIntegrity         Kind = "integrity"
	KindNotFound          Kind = "not_found"
)

// Error is a classified error. A bare Error (no message) acts as a kind
// matcher: errors.Is(err, ErrConflict) is true for any conflict error.
type Error struct {
	Kind Kind
	Msg  string
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return e.Msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Kind == e.Kind
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrIntegrity         = &Error{Kind: KindIntegrity}
	ErrNotFound          = &Error{Kind: KindNotFound}
)

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Integrity wraps err so that it classifies as an integrity failure while
// keeping the original chain intact.
func Integrity(err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{kind: ErrIntegrity, err: err}
}

type wrapped struct {
	kind *Error
	err  error
}

func (w *wrapped) Error() string { return w.err.Error() }

func (w *wrapped) Unwrap() []error { return []error{w.kind, w.err} }
