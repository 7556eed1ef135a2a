package dispatch

import (
	"errors"
	"fmt"
)

// Sentinel errors exposed by the dispatcher.
var (
	// ErrSession wraps every failure to establish a session before a request.
	ErrSession         = errors.New("dispatch.session_unavailable")
	ErrInvalidResponse = errors.New("dispatch.invalid_response")
	ErrMissingSessions = errors.New("dispatch.missing_sessions")
	ErrMissingBaseURL  = errors.New("dispatch.missing_base_url")
	ErrMediaDisabled   = errors.New("dispatch.media_disabled")
)

// StatusError reports a response whose status is not a success for its method.
// Body holds the raw response body for inspection.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	Body       []byte
}

func (statusErr *StatusError) Error() string {
	return fmt.Sprintf("dispatch.unexpected_status: %s %s: %s", statusErr.Method, statusErr.URL, statusErr.Status)
}
