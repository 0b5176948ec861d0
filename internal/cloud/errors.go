package cloud

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrVendorRejected   = errors.New("rejected by vendor")
	ErrOperationFailed  = errors.New("operation failed")
	ErrActivationFailed = errors.New("api activation failed")
	ErrConflict         = errors.New("conflicting modification")
)

// Error is a classified adapter failure with the scope it happened in.
type Error struct {
	Provider ProviderName
	Op       string
	Scope    string
	Kind     error
	Err      error
}

// NewError builds a classified error. A nil kind means ErrVendorRejected.
func NewError(p ProviderName, op, scope string, kind, err error) *Error {
	if kind == nil {
		kind = ErrVendorRejected
	}
	return &Error{Provider: p, Op: op, Scope: scope, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Provider, e.Op)
	if e.Scope != "" {
		msg += " in " + e.Scope
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error's kind, so errors.Is works for both the kind and
// the wrapped cause.
func (e *Error) Is(target error) bool { return target == e.Kind }

// IsNotFound reports whether err is classified as ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
