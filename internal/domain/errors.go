package domain

import "errors"

// Sentinel errors shared across packages. Wrap with fmt.Errorf("...: %w", err)
// and test with errors.Is.
var (
	ErrSafetyDenied     = errors.New("order denied by safety guard")
	ErrEmergencyStopped = errors.New("emergency stop active")
	ErrVenueRejected    = errors.New("order rejected by venue")
	ErrVenueTransient   = errors.New("transient venue failure")
	ErrFeedStale        = errors.New("order book data stale")
	ErrNotFound         = errors.New("not found")
	ErrMarketClosed     = errors.New("market window closed")
)
