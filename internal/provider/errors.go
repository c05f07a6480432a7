package provider

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	// KindTimeout marks a call that exceeded its deadline. It is a
	// first-class status: probe reports present it separately and the
	// call is never retried in place.
	KindTimeout ErrorKind = "timeout"
	// KindAPI marks a structured non-2xx response from the backend.
	KindAPI ErrorKind = "api"
	// KindTransport marks connection-level failures.
	KindTransport ErrorKind = "transport"
	// KindEmpty marks a 2xx response whose payload carried no usable text.
	KindEmpty ErrorKind = "empty"
)

// Error is the strict boundary type for backend failures. Raw provider
// payloads never leave this package.
type Error struct {
	Kind       ErrorKind
	Model      string
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.Kind == KindAPI {
		return fmt.Sprintf("provider: model %s: API error %d", e.Model, e.StatusCode)
	}
	return fmt.Sprintf("provider: model %s: %s error: %s", e.Model, e.Kind, e.Detail)
}

// AsError unwraps err into a *Error if it is one.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsTimeout reports whether err is a provider timeout.
func IsTimeout(err error) bool {
	pe, ok := AsError(err)
	return ok && pe.Kind == KindTimeout
}
