package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrStaleState            = errors.New("stale position state")
	ErrKillSwitchActive      = errors.New("kill switch active")
	ErrMarketDataUnavailable = errors.New("market data unavailable")
	ErrInvalidConfiguration  = errors.New("invalid risk configuration")
	ErrLockHeld              = errors.New("lock already held")
)

// ExecutionError is returned by the broker collaborator when a close request
// fails. Retryable failures leave the position at EXIT_TRIGGERED for the next
// tick; fatal ones (for example an expired instrument) force the position to
// EXITED so it cannot hang forever.
type ExecutionError struct {
	Retryable bool
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("execution failed (retryable): %v", e.Err)
	}
	return fmt.Sprintf("execution failed (fatal): %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// RetryableExecution reports whether err is an ExecutionError that should be
// retried on a later tick.
func RetryableExecution(err error) bool {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}
