package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrLockHeld          = errors.New("lock already held")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRateLimited       = errors.New("rate limited")
	ErrMissingInstrument = errors.New("missing instrument id")
	ErrMissingTimestamp  = errors.New("missing event timestamp")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrTimestampOrder    = errors.New("last-updated timestamp before open timestamp")
)
