package platform

import (
	"errors"
	"fmt"
)

// ErrorKind classifies platform action failures. Retry policy branches on
// the kind, never on the underlying error text.
type ErrorKind int

const (
	ErrOther ErrorKind = iota
	ErrForbidden
	ErrNotFound
	ErrRateLimited
	ErrNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case ErrForbidden:
		return "forbidden"
	case ErrNotFound:
		return "not_found"
	case ErrRateLimited:
		return "rate_limited"
	case ErrNetwork:
		return "network"
	default:
		return "other"
	}
}

// Transient reports whether an action with this error kind may be retried.
func (k ErrorKind) Transient() bool {
	return k == ErrRateLimited || k == ErrNetwork
}

// ActionError wraps a platform action failure with its kind.
type ActionError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// KindOf extracts the error kind from an action error, ErrOther otherwise.
func KindOf(err error) ErrorKind {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ErrOther
}
