package errs

import "errors"

// Errors returned by the price, range, policy and deposit packages.
// Callers match them with errors.Is; packages wrap them with context.
var (
	// ErrPriceOutOfDomain is returned when a price, tick or sqrt price lies
	// outside the valid range of a DEX. Not retryable.
	ErrPriceOutOfDomain = errors.New("price out of domain")
	// ErrInvalidConfig is returned when rebalance parameters contradict
	// their own invariants.
	ErrInvalidConfig = errors.New("invalid rebalance config")
	// ErrInsufficientBalance is returned when a computed swap sells more
	// than the held balance by more than rounding noise.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrStaleReference is returned when a pool snapshot or TWAP is older
	// than the threshold supplied by the caller.
	ErrStaleReference = errors.New("stale price reference")
	// ErrUnsupported is returned for operations a DEX does not provide.
	ErrUnsupported = errors.New("unsupported operation")
)
