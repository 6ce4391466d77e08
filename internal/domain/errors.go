package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrLockHeld        = errors.New("lock already held")
	ErrReverted        = errors.New("transaction reverted")
	ErrMissingContract = errors.New("contract address not configured")
	ErrContextDone     = errors.New("context cancelled")
)
