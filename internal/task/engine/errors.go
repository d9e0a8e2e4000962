package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped: previous run still in flight")
)

// NoRetry marks err as permanent; the engine records it without retrying.
//
//	return engine.NoRetry(fmt.Errorf("invalid schedule: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e permanentError
	return errors.As(err, &e)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// RetryAfter attaches a suggested retry delay to err. The engine honors it,
// capped at the task's max delay, with jitter applied on top.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return delayedError{err: err, after: after}
}

// RetryAfterError is implemented by errors carrying an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type delayedError struct {
	err   error
	after time.Duration
}

func (e delayedError) Error() string             { return fmt.Sprintf("retry after %s: %v", e.after, e.err) }
func (e delayedError) Unwrap() error             { return e.err }
func (e delayedError) RetryAfter() time.Duration { return e.after }
