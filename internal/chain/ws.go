package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"leverage-sync/internal/domain"
)

// WSClient is the push interface: a persistent log subscription.
type WSClient interface {
	// SubscribeLogs subscribes to logs emitted by the filter's addresses.
	// The channel stays open across reconnects and closes on Close.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan domain.LogRecord, error)

	// State returns the current connection state.
	State() ConnState

	// Disconnects signals when the connection is lost, after every log
	// read from it has been delivered and before any log of the next
	// connection. Signals coalesce; the channel closes on Close.
	Disconnects() <-chan struct{}

	// Reconnects signals after every successful reconnect and resubscribe.
	// Signals coalesce; the channel closes on Close.
	Reconnects() <-chan struct{}

	// Close closes the connection. Closed is terminal.
	Close() error
}

// LogsFilter defines subscription filter for logs.
type LogsFilter struct {
	Addresses []common.Address
}

// ConnState is the connection state of a WSClient.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
