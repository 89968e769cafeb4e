// SPDX-License-Identifier: MIT
package session

import (
	"errors"
	"fmt"

	"spectrogram/internal/capture"
)

// Cause classifies why Connect failed.
type Cause int

const (
	NoMonitorSource Cause = iota + 1
	Allocation
	TransportConnect
	NotReady
)

func (c Cause) String() string {
	switch c {
	case NoMonitorSource:
		return "no_monitor_source"
	case Allocation:
		return "allocation"
	case TransportConnect:
		return "transport_connect"
	case NotReady:
		return "not_ready"
	default:
		return "unknown"
	}
}

var (
	// ErrNoMonitorSource aliases the capture sentinel so callers need only
	// import this package.
	ErrNoMonitorSource  = capture.ErrNoMonitorSource
	ErrAllocation       = errors.New("session: allocation failed")
	ErrTransportConnect = errors.New("session: transport connect failed")
	ErrNotReady         = errors.New("session: stream not ready")

	// ErrClosed is returned by Read after Disconnect.
	ErrClosed = errors.New("session: disconnected")
)

func (c Cause) sentinel() error {
	switch c {
	case NoMonitorSource:
		return ErrNoMonitorSource
	case Allocation:
		return ErrAllocation
	case TransportConnect:
		return ErrTransportConnect
	case NotReady:
		return ErrNotReady
	default:
		return nil
	}
}

// ConnectError reports a failed Connect. Anything opened before the failure
// has already been released.
type ConnectError struct {
	Cause Cause
	Err   error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("session: connect failed (%s)", e.Cause)
	}
	return fmt.Sprintf("session: connect failed (%s): %v", e.Cause, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's Cause, so
// errors.Is(err, ErrNotReady) works without a type assertion.
func (e *ConnectError) Is(target error) bool {
	s := e.Cause.sentinel()
	return s != nil && target == s
}
