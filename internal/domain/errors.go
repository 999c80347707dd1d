package domain

import "errors"

var (
	// ErrVendorUnavailable indicates a transport or auth failure talking to a
	// vendor API. Period-scoped and retryable by re-invoking the sync.
	ErrVendorUnavailable = errors.New("vendor unavailable")

	// ErrMalformedPayload indicates a staging payload that cannot be parsed
	// into normalized rows. The staging record stays unprocessed so it can be
	// reprocessed after a fix.
	ErrMalformedPayload = errors.New("malformed vendor payload")

	// ErrJobNotFound is returned by job stores for unknown job IDs.
	ErrJobNotFound = errors.New("sync job not found")

	// ErrStagingNotFound is returned by staging stores for unknown record IDs.
	ErrStagingNotFound = errors.New("staging record not found")
)
