// Package failure tags errors with how the caller should react to them.
package failure

import (
	"context"
	"errors"
)

// Kind classifies an error for retry decisions.
type Kind int

const (
	// Retryable errors are transient upstream failures (timeouts, 5xx, missing replies).
	Retryable Kind = iota + 1
	// Permanent errors will never succeed for the same input; the input is dropped.
	Permanent
	// Fatal errors stop the component that observed them.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Retryable:
		return "retryable"
	case Permanent:
		return "permanent"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func NewRetryable(op string, err error) error { return Wrap(Retryable, op, err) }

func NewPermanent(op string, err error) error { return Wrap(Permanent, op, err) }

func NewFatal(op string, err error) error { return Wrap(Fatal, op, err) }

// KindOf reports the outermost tagged kind in err's chain.
// Untagged errors are treated as transient, except context cancellation which is fatal.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	return Retryable
}

func IsRetryable(err error) bool { return KindOf(err) == Retryable }

func IsPermanent(err error) bool { return KindOf(err) == Permanent }

func IsFatal(err error) bool { return KindOf(err) == Fatal }
