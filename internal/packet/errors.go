package packet

import "fmt"

// ErrorKind classifies a decode failure.
type ErrorKind string

const (
	BadLength   ErrorKind = "bad_length"
	InvalidText ErrorKind = "invalid_text"
)

// DecodeError is returned for payloads that cannot be decoded.
type DecodeError struct {
	Kind ErrorKind
	What string // "frame", "battery", "text"
	Want int    // expected length, BadLength only
	Got  int
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case BadLength:
		return fmt.Sprintf("%s: %s: want %d bytes, got %d", e.Kind, e.What, e.Want, e.Got)
	default:
		return fmt.Sprintf("%s: %s (%d bytes)", e.Kind, e.What, e.Got)
	}
}

// Is allows errors.Is to compare DecodeError values by Kind
func (e *DecodeError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrBadLength   = &DecodeError{Kind: BadLength}
	ErrInvalidText = &DecodeError{Kind: InvalidText}
)

func badLength(what string, want, got int) error {
	return &DecodeError{Kind: BadLength, What: what, Want: want, Got: got}
}
