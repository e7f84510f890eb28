package model

import "errors"

var (
	// ErrChallengeNotFound covers never issued, already consumed, and
	// expired challenges; callers cannot tell these apart by design.
	ErrChallengeNotFound = errors.New("challenge not found")

	// ErrVerificationNotFound covers absent and expired verification flags.
	ErrVerificationNotFound = errors.New("verification not found")

	// ErrTokenMismatch is returned when a submitted token does not match the
	// stored verification flag.
	ErrTokenMismatch = errors.New("token mismatch")

	// ErrQueueEmpty signals an empty FIFO list.
	ErrQueueEmpty = errors.New("queue empty")
)
