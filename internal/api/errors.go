package api

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is returned when the server answers with a non-success HTTP
// status. The sync engine branches on the code: 401 is fatal to the
// session, 422 means the record itself is invalid and should be dropped,
// everything else is retried on the next sync.
type StatusError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request for %s failed: HTTP %d: %s", e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request for %s failed: HTTP %d", e.URL, e.StatusCode)
}

// DecodeError is returned when a response body cannot be parsed. It is
// treated like a transient network failure by callers since the
// malformed payload may be a passing server-side condition.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding response from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsUnauthorized reports whether err is an HTTP 401 from the server,
// meaning the API token has been revoked or expired.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}

// IsInvalid reports whether err is an HTTP 422, the server rejecting the
// submitted record as unprocessable. Retrying such a record can never
// succeed.
func IsInvalid(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnprocessableEntity
}
