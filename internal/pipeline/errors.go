package pipeline

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned by Start when the pipeline is running.
// Callers treat it as a non-fatal idempotency guard.
var ErrAlreadyRunning = errors.New("pipeline already running")

// ErrQueueClosed is returned by Queue.Push once the queue is closed.
var ErrQueueClosed = errors.New("queue closed")

// ConfigError reports a missing or invalid pipeline parameter. It is fatal
// to Initialize.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pipeline config: %s %s", e.Field, e.Reason)
}

// StageError wraps a failure inside a single pipeline stage. The coordinator
// surfaces it through the error callback instead of crashing the process.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
