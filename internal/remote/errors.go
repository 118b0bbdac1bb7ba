package remote

import (
	"errors"
	"fmt"
)

// RejectedError is a terminal, service-side rejection of a specific request:
// the server understood the request and said no (edit window expired,
// unauthorized sender). Retrying will not change the answer, so callers
// surface it once and never feed it back into the pending queue.
//
// Everything else returned by this package is treated as transient
// (timeouts, unreachable host, 5xx) and degrades to the retry path.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected by service: %s", e.Reason)
}

// IsRejected reports whether err is a terminal service rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
