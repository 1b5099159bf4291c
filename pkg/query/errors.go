package query

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound indicates an operation referenced an unknown session id.
var ErrSessionNotFound = errors.New("session does not exist")

// ErrAgentNotInitialized indicates no agent is currently bound to the
// processor. All query operations fail with this rather than crashing.
var ErrAgentNotInitialized = errors.New("agent not initialized")

// ErrNoOutput indicates a streamed query produced zero chunks. A stream
// with no content is a failure signal, not a valid empty answer.
var ErrNoOutput = errors.New("stream query produced no valid output")

// RetryableError reports that the agent's tool channel was closed and the
// processor rebuilt the agent. The caller must resubmit the same query;
// it is not buffered for auto-retry.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "server resources closed, attempted reinitialization, please retry query"
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the caller should resubmit the query.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// ExecutionError wraps a generic agent failure. The session remains usable.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	msg := "unknown error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("query processing failed: %s", msg)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
