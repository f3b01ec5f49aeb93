package devicelog

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type ErrorKind string

const (
	KindAuthFailed ErrorKind = "auth_failed"
	KindStatus     ErrorKind = "status_error"
	KindTimeout    ErrorKind = "timeout"
	KindFetch      ErrorKind = "fetch_error"
)

// FetchError is the terminal failure of a log acquisition.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == KindStatus && e.Err == nil:
		return fmt.Sprintf("%s: status %d", e.Kind, e.StatusCode)
	case e.Err == nil:
		return string(e.Kind)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Kind reports the failure kind of err, or KindFetch for foreign errors.
func Kind(err error) ErrorKind {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	return KindFetch
}

var errLoginRejected = errors.New("login rejected by device")

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
