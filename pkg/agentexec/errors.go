package agentexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// ResourceClosedError indicates the tool-connection channel backing the
// agent was closed out from under it. The query processor treats this as a
// signal to rebuild the agent rather than retry in place.
type ResourceClosedError struct {
	Server string
	Err    error
}

func (e *ResourceClosedError) Error() string {
	if e.Server != "" {
		return fmt.Sprintf("resource closed (%s): %v", e.Server, e.Err)
	}
	return fmt.Sprintf("resource closed: %v", e.Err)
}

func (e *ResourceClosedError) Unwrap() error {
	return e.Err
}

// InitializationError indicates the agent or one of its tool connections
// could not be constructed.
type InitializationError struct {
	Stage string
	Err   error
}

func (e *InitializationError) Error() string {
	msg := "initialization failed"
	if e.Stage != "" {
		msg = fmt.Sprintf("initialization failed at %s", e.Stage)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// ClassifyToolError maps a raw error from a tool-connection call into the
// error taxonomy. Transport closure becomes ResourceClosedError; context
// cancellation passes through untouched; everything else is returned as-is
// with the server name attached.
func ClassifyToolError(server string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if looksLikeClosedResource(err) {
		return &ResourceClosedError{Server: server, Err: err}
	}
	return fmt.Errorf("tool call on %s: %w", server, err)
}

// IsResourceClosed reports whether an error indicates a closed
// tool-connection channel.
func IsResourceClosed(err error) bool {
	if err == nil {
		return false
	}
	var rc *ResourceClosedError
	if errors.As(err, &rc) {
		return true
	}
	return looksLikeClosedResource(err)
}

// IsInitialization reports whether an error originated in agent construction.
func IsInitialization(err error) bool {
	var ie *InitializationError
	return errors.As(err, &ie)
}

func looksLikeClosedResource(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "use of closed network connection"):
		return true
	case strings.Contains(lower, "broken pipe"):
		return true
	case strings.Contains(lower, "connection reset by peer"):
		return true
	case strings.Contains(lower, "session closed"), strings.Contains(lower, "transport is closed"):
		return true
	case strings.Contains(lower, "closed pipe"):
		return true
	default:
		return false
	}
}
