package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies an adapter failure. The quota guard keys its
// behavior off this classification.
type ErrorKind string

const (
	ErrTimeout       ErrorKind = "timeout"
	ErrHTTPStatus    ErrorKind = "http_status"
	ErrParse         ErrorKind = "parse"
	ErrQuotaExceeded ErrorKind = "quota_exceeded"
)

// FetchError is the typed error returned by every adapter.
type FetchError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s (status %d): %v", e.Kind, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("fetch %s (status %d)", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch %s", e.Kind)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsQuotaExceeded reports whether err carries a quota-exceeded classification.
func IsQuotaExceeded(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == ErrQuotaExceeded
}

func timeoutError(err error) *FetchError {
	return &FetchError{Kind: ErrTimeout, Err: err}
}

func parseError(err error) *FetchError {
	return &FetchError{Kind: ErrParse, Err: err}
}

// statusError maps an unexpected HTTP status to the taxonomy. 429 and 403
// are how the upstream APIs signal exhausted quotas.
func statusError(status int) *FetchError {
	if status == http.StatusTooManyRequests || status == http.StatusForbidden {
		return &FetchError{Kind: ErrQuotaExceeded, Status: status}
	}
	return &FetchError{Kind: ErrHTTPStatus, Status: status}
}

// transportError classifies a round-trip failure, distinguishing timeouts
// from other network errors.
func transportError(err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timeoutError(err)
	}
	return &FetchError{Kind: ErrHTTPStatus, Err: err}
}
