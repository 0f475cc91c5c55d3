package oracle

import "fmt"

// ErrorKind classifies an oracle failure.
type ErrorKind int

const (
	// KindUnavailable covers transport errors, non-2xx statuses and empty bodies.
	KindUnavailable ErrorKind = iota + 1
	// KindPayloadInvalid is a 2xx response without a usable score and signal.
	KindPayloadInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindPayloadInvalid:
		return "payload_invalid"
	default:
		return "unknown"
	}
}

// Error is the failure result of a Score call.
type Error struct {
	Kind       ErrorKind
	Attempts   int
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("oracle %s after %d attempt(s) (status %d): %v", e.Kind, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("oracle %s after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
