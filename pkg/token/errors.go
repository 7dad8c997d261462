package token

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the operator and for the exit status
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindIO
	KindCrypto
	KindPolicy
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindIO:
		return "IOError"
	case KindCrypto:
		return "CryptoError"
	case KindPolicy:
		return "PolicyError"
	default:
		return "Error"
	}
}

// ExitCode returns the process exit status for errors of this kind
func (k Kind) ExitCode() int {
	switch k {
	case KindConfiguration:
		return 2
	case KindIO:
		return 3
	case KindCrypto:
		return 4
	case KindPolicy:
		return 5
	default:
		return 1
	}
}

// Error is a classified failure. Detail carries the diagnostic text of the
// underlying library, when there is one.
type Error struct {
	Kind   Kind
	Op     string
	Msg    string
	Detail string
	Err    error
}

// Sentinels for errors.Is matching on kind
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrIO            = &Error{Kind: KindIO}
	ErrCrypto        = &Error{Kind: KindCrypto}
	ErrPolicy        = &Error{Kind: KindPolicy}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Detail != "" {
		msg += ", see error message: " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func configErrorf(op, format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ExitCode maps err to a process exit status; nil maps to 0
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return KindOf(err).ExitCode()
}
