package station

import "errors"

var (
	// ErrServiceUnavailable is returned when a remote call could not complete
	// (network failure, timeout, non-2xx status, SOAP fault, open breaker).
	ErrServiceUnavailable = errors.New("station service unavailable")

	// ErrMalformedResponse is returned when a response is missing expected
	// fields or its date range disagrees with its value count.
	ErrMalformedResponse = errors.New("malformed station response")

	// ErrEmptyResponse is returned when the service has no records for the
	// requested window.
	ErrEmptyResponse = errors.New("no station records for requested window")

	// ErrInvalidQuery is returned when a query fails validation before any
	// remote call is made.
	ErrInvalidQuery = errors.New("invalid station query")

	// ErrRunInProgress is returned when a snapshot refresh is requested while
	// another one is still running.
	ErrRunInProgress = errors.New("snapshot refresh already running")

	// ErrSnapshotNotFound is returned by stores that have not been written yet.
	ErrSnapshotNotFound = errors.New("no snapshot captured yet")
)
