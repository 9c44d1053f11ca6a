package fetch

import (
	"errors"
	"fmt"
)

// TransportError is a connection-level failure: refused, reset, DNS or timeout.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPStatusError is a response with a non-2xx status.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP error: %d", e.URL, e.StatusCode)
}

// ClientError reports a 4xx status.
func (e *HTTPStatusError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// ServerError reports a 5xx status.
func (e *HTTPStatusError) ServerError() bool {
	return e.StatusCode >= 500
}

// IsPermanent reports whether err is a fetch failure that will not go away
// on retry: a transport error or a 4xx status.
func IsPermanent(err error) bool {
	var transport *TransportError
	if errors.As(err, &transport) {
		return true
	}
	var status *HTTPStatusError
	return errors.As(err, &status) && status.ClientError()
}
