// Package liberrors contains errors shared between the server packages.
package liberrors

import (
	"fmt"

	"github.com/camsrv/rtspd/pkg/base"
)

// ErrServerTerminated is an error that can be returned by a server.
type ErrServerTerminated struct{}

// Error implements the error interface.
func (e ErrServerTerminated) Error() string {
	return "terminated"
}

// ErrServerCSeqMissing is an error that can be returned by a server.
type ErrServerCSeqMissing struct{}

// Error implements the error interface.
func (e ErrServerCSeqMissing) Error() string {
	return "CSeq is missing"
}

// ErrServerUnhandledRequest is an error that can be returned by a server.
type ErrServerUnhandledRequest struct {
	Request *base.Request
}

// Error implements the error interface.
func (e ErrServerUnhandledRequest) Error() string {
	return fmt.Sprintf("unhandled request: %v %v", e.Request.Method, e.Request.URL)
}

// ErrServerInvalidState is an error that can be returned by a server.
type ErrServerInvalidState struct {
	AllowedList []fmt.Stringer
	State       fmt.Stringer
}

// Error implements the error interface.
func (e ErrServerInvalidState) Error() string {
	return fmt.Sprintf("must be in state %v, while is in state %v",
		e.AllowedList, e.State)
}

// ErrServerInvalidPath is an error that can be returned by a server.
type ErrServerInvalidPath struct{}

// Error implements the error interface.
func (e ErrServerInvalidPath) Error() string {
	return "invalid path"
}

// ErrServerStreamNotFound is an error that can be returned by a server.
type ErrServerStreamNotFound struct {
	Path string
}

// Error implements the error interface.
func (e ErrServerStreamNotFound) Error() string {
	return fmt.Sprintf("no stream is available at path '%s'", e.Path)
}

// ErrServerSessionNotFound is an error that can be returned by a server.
type ErrServerSessionNotFound struct{}

// Error implements the error interface.
func (e ErrServerSessionNotFound) Error() string {
	return "session not found"
}

// ErrServerSessionTimedOut is an error that can be returned by a server.
type ErrServerSessionTimedOut struct{}

// Error implements the error interface.
func (e ErrServerSessionTimedOut) Error() string {
	return "session timed out"
}

// ErrServerTooManySessions is an error that can be returned by a server.
type ErrServerTooManySessions struct {
	Max int
}

// Error implements the error interface.
func (e ErrServerTooManySessions) Error() string {
	return fmt.Sprintf("session count exceeds %d", e.Max)
}

// ErrServerTooManyStreams is an error that can be returned by a server.
type ErrServerTooManyStreams struct {
	Max int
}

// Error implements the error interface.
func (e ErrServerTooManyStreams) Error() string {
	return fmt.Sprintf("stream count exceeds %d", e.Max)
}

// ErrServerTransportHeaderInvalid is an error that can be returned by a server.
type ErrServerTransportHeaderInvalid struct {
	Err error
}

// Error implements the error interface.
func (e ErrServerTransportHeaderInvalid) Error() string {
	return fmt.Sprintf("invalid transport header: %v", e.Err)
}

// ErrServerUnsupportedTransport is an error that can be returned by a server.
type ErrServerUnsupportedTransport struct {
	Value string
}

// Error implements the error interface.
func (e ErrServerUnsupportedTransport) Error() string {
	return fmt.Sprintf("unsupported transport '%s'", e.Value)
}

// ErrServerAuth is an error that can be returned by a server.
type ErrServerAuth struct{}

// Error implements the error interface.
func (e ErrServerAuth) Error() string {
	return "authentication error"
}
