package transport

import "errors"

// Kind classifies a send failure for retry decisions. Unclassified errors
// are permanent; only KindTransient is retried.
type Kind int

const (
	KindTransient Kind = iota + 1
	KindAuthFailure
	KindConfigMissing
	KindNotConnected
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuthFailure:
		return "auth_failure"
	case KindConfigMissing:
		return "config_missing"
	case KindNotConnected:
		return "not_connected"
	default:
		return "permanent"
	}
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Transient(err error) error {
	return &Error{Kind: KindTransient, Err: err}
}

func AuthFailure(err error) error {
	return &Error{Kind: KindAuthFailure, Err: err}
}

func ConfigMissing(err error) error {
	return &Error{Kind: KindConfigMissing, Err: err}
}

func NotConnected(err error) error {
	return &Error{Kind: KindNotConnected, Err: err}
}

// KindOf reports the classification of err, false when unclassified.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}

func IsRetryable(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindTransient
}
