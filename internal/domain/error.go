package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotOwner           = errors.New("resource belongs to another user")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid executor context")

	// Credit ledger
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAlreadyFinalized    = errors.New("reservation already finalized")

	// Pipeline state machine
	ErrInvalidStep       = errors.New("step out of range")
	ErrStepNotRetryable  = errors.New("step is not in a retryable state")
	ErrStepNotStartable  = errors.New("step cannot be started in its current state")
	ErrStepRegression    = errors.New("current step may not move backwards")
	ErrShotCountMismatch = errors.New("shot numbers must be contiguous from 1")

	// Job queue
	ErrJobCancelled    = errors.New("job cancelled")
	ErrJobNotCancelled = errors.New("job is not in a cancellable state")

	// Provider / infra
	ErrProviderTerminal = errors.New("provider rejected the request")
	ErrLockHeld         = errors.New("lock is held by another worker")
)
