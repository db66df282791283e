package apperr

import "errors"

var (
	// ErrInvalidPubkey covers both length and alphabet failures. The message
	// is deliberately generic so callers cannot tell which rule fired.
	ErrInvalidPubkey = errors.New("invalid pubkey")

	ErrInvalidMaxHops = errors.New("invalid max_hops")
	ErrTooManyTargets = errors.New("too many targets")
	ErrInternal       = errors.New("internal error")
)
