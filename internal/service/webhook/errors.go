package webhook

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrUnavailable matches any failure to complete the HTTP exchange.
	ErrUnavailable = errors.New("webhook unavailable")
	// ErrInvalidResponse matches a 2xx reply whose body is not JSON.
	ErrInvalidResponse = errors.New("webhook returned invalid JSON")
)

// UnavailableError wraps a transport failure: refused connection, DNS, timeout.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return "contact webhook: " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// StatusError reports a non-2xx upstream status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook responded with status %d", e.StatusCode)
}

// InvalidResponseError carries the body that failed to parse.
type InvalidResponseError struct {
	Body string
	Err  error
}

func (e *InvalidResponseError) Error() string {
	return "parse webhook response: " + e.Err.Error()
}

func (e *InvalidResponseError) Unwrap() error { return e.Err }

func (e *InvalidResponseError) Is(target error) bool { return target == ErrInvalidResponse }
