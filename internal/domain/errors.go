package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrNotApproved       = errors.New("not approved")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrOverflow          = errors.New("arithmetic overflow")
	ErrOracleUnavailable = errors.New("oracle unavailable")
	ErrOracleStale       = errors.New("oracle price too old")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAuthorityMismatch = errors.New("authority mismatch")
	ErrDuplicateSchedule = errors.New("schedule id already in use")
	ErrAccountInUse      = errors.New("account backs an open position")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrLockHeld          = errors.New("lock already held")
)
