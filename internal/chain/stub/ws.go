package stub

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"leverage-sync/internal/chain"
	"leverage-sync/internal/domain"
)

// WSClient implements chain.WSClient. Tests push records and simulate
// reconnects directly.
type WSClient struct {
	mu         sync.Mutex
	subs       []stubSub
	state       chain.ConnState
	disconnects chan struct{}
	reconnects  chan struct{}
	closed      bool

	// SubscribeErr, when set, is returned by SubscribeLogs.
	SubscribeErr error
}

type stubSub struct {
	filter chain.LogsFilter
	ch     chan domain.LogRecord
}

var _ chain.WSClient = (*WSClient)(nil)

// NewWSClient creates a connected stub client.
func NewWSClient() *WSClient {
	return &WSClient{
		state:       chain.StateConnected,
		disconnects: make(chan struct{}, 1),
		reconnects:  make(chan struct{}, 1),
	}
}

// SubscribeLogs registers a subscription.
func (c *WSClient) SubscribeLogs(_ context.Context, filter chain.LogsFilter) (<-chan domain.LogRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, chain.ErrClosed
	}
	if c.SubscribeErr != nil {
		return nil, c.SubscribeErr
	}
	ch := make(chan domain.LogRecord, 1024)
	c.subs = append(c.subs, stubSub{filter: filter, ch: ch})
	return ch, nil
}

// Push delivers rec to every subscription whose filter matches its address.
// Returns the number of subscriptions it was delivered to.
func (c *WSClient) Push(rec domain.LogRecord) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	n := 0
	for _, s := range c.subs {
		if matches(s.filter, rec.Address) {
			s.ch <- rec
			n++
		}
	}
	return n
}

// SimulateDisconnect marks the connection lost and emits a disconnect
// signal. Records pushed afterwards belong to the next connection.
func (c *WSClient) SimulateDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.state = chain.StateDisconnected
	select {
	case c.disconnects <- struct{}{}:
	default:
	}
}

// SimulateReconnect cycles the state and emits a reconnect signal.
func (c *WSClient) SimulateReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.state = chain.StateConnected
	select {
	case c.reconnects <- struct{}{}:
	default:
	}
}

// SetState forces the reported connection state.
func (c *WSClient) SetState(s chain.ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.state = s
	}
}

// State returns the current state.
func (c *WSClient) State() chain.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Disconnects returns the disconnect signal channel.
func (c *WSClient) Disconnects() <-chan struct{} {
	return c.disconnects
}

// Reconnects returns the reconnect signal channel.
func (c *WSClient) Reconnects() <-chan struct{} {
	return c.reconnects
}

// Close closes all subscriptions.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.state = chain.StateClosed
	for _, s := range c.subs {
		close(s.ch)
	}
	close(c.disconnects)
	close(c.reconnects)
	return nil
}

// Closed reports whether Close was called.
func (c *WSClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func matches(f chain.LogsFilter, addr common.Address) bool {
	if len(f.Addresses) == 0 {
		return true
	}
	for _, a := range f.Addresses {
		if a == addr {
			return true
		}
	}
	return false
}
