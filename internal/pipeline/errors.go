package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrShutdownTimeout is returned by Worker.Stop when the consumer did not exit
	// within the stop timeout. The goroutine is abandoned; teardown can proceed.
	ErrShutdownTimeout = errors.New("worker did not stop before timeout")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("worker already started")

	// ErrNoPoints may be returned (or wrapped) by an engine that cannot run
	// without steering points. The worker counts the cycle as skipped.
	ErrNoPoints = errors.New("no steering points")
)

// InferenceError reports a failed inference cycle. It never leaves the consumer
// goroutine except through logs and Stats.
type InferenceError struct {
	Cycle uint64
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference cycle %d: %v", e.Cycle, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
