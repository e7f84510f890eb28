package service

import "errors"

// Client-facing error classes. Handlers map these to HTTP status codes;
// anything else is an internal error.
var (
	ErrInvalidMobile     = errors.New("invalid mobile number")
	ErrCountryNotAllowed = errors.New("country not allowed")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrBlacklisted       = errors.New("mobile is blacklisted")

	// ErrNotVerified covers every PIN-setup rejection: no verification flag,
	// expired flag, and token mismatch. Callers cannot tell these apart.
	ErrNotVerified = errors.New("mobile not verified")

	// ErrFallbackActive is returned while the fast store is down and the
	// service is operating in capture-only mode.
	ErrFallbackActive = errors.New("service temporarily in fallback mode")

	// ErrSyncBackendUnavailable is returned when the external backend rejects
	// a recovery batch; the drained items have been requeued.
	ErrSyncBackendUnavailable = errors.New("sync backend unavailable")
)
