package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("client closed")
	// ErrNotConnected is returned when no connection is currently up.
	ErrNotConnected = errors.New("not connected")
)

// TransportError wraps a network-level failure on the push or pull path.
// Transport errors are retryable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Temporary reports that the failure may succeed on retry.
func (e *TransportError) Temporary() bool { return true }

// RPCError is a JSON-RPC 2.0 error object. RPC errors are not retried.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// IsTransient reports whether err is a retryable transport failure.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
