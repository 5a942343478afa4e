package irt

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedResponse means the service answered 2xx with a body that
	// does not carry a usable students array.
	ErrMalformedResponse = errors.New("irt: malformed response")
	// ErrCircuitOpen is returned without calling the service while the
	// breaker is open.
	ErrCircuitOpen = errors.New("irt: circuit open")
)

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "irt http error"
	}
	if e.Body == "" {
		return fmt.Sprintf("irt http error: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("irt http error: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}
