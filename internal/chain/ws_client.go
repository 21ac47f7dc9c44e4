package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"leverage-sync/internal/domain"
	"leverage-sync/internal/observability"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is the base delay of the reconnect backoff.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the reconnect backoff.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages. Pongs extend it.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
	// Buffer is the per-subscription channel capacity.
	Buffer int
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		Buffer:            10000,
	}
}

// WSOption configures WSClientImpl.
type WSOption func(*WSClientImpl)

// WithWSLogger sets the client logger.
func WithWSLogger(log zerolog.Logger) WSOption {
	return func(c *WSClientImpl) {
		c.log = log
	}
}

// WithWSMetrics sets the metrics sink.
func WithWSMetrics(m *observability.Metrics) WSOption {
	return func(c *WSClientImpl) {
		c.metrics = m
	}
}

type subscription struct {
	filter   LogsFilter
	ch       chan domain.LogRecord
	serverID string
}

type subscribeResult struct {
	id  string
	err error
}

type pendingSub struct {
	ch      chan subscribeResult
	localID uint64
}

// WSClientImpl implements WSClient over eth_subscribe using gorilla/websocket.
//
// One goroutine owns reading and reconnecting. Subscriptions are keyed by a
// local id that survives reconnects; the server-assigned id is remapped on
// every resubscribe.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	backoff  Backoff
	log      zerolog.Logger
	metrics  *observability.Metrics

	// connMu guards conn and serializes writes.
	conn   *websocket.Conn
	connMu sync.Mutex

	state     atomic.Int32
	closed    atomic.Bool
	requestID atomic.Uint64

	subs       map[uint64]*subscription
	byServerID map[string]uint64
	nextSubID  uint64
	subsMu     sync.RWMutex

	// pending maps request ID to the waiter for its subscription ID.
	pending   map[uint64]pendingSub
	pendingMu sync.Mutex

	disconnects chan struct{}
	reconnects  chan struct{}
	done        chan struct{}
	wg         sync.WaitGroup
}

var _ WSClient = (*WSClientImpl)(nil)

// NewWSClient creates a client and performs the initial dial.
// Later connection failures are handled internally with backoff.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig, opts ...WSOption) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultWSConfig().Buffer
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = DefaultWSConfig().SubscribeTimeout
	}

	c := &WSClientImpl{
		endpoint:   endpoint,
		config:     cfg,
		backoff:    NewBackoff(cfg.ReconnectDelay, cfg.MaxReconnectDelay),
		log:        zerolog.Nop(),
		subs:       make(map[uint64]*subscription),
		byServerID: make(map[string]uint64),
		pending:    make(map[uint64]pendingSub),
		disconnects: make(chan struct{}, 1),
		reconnects:  make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.setState(StateConnecting)
	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return nil, err
	}
	c.conn = conn
	c.setState(StateConnected)

	c.wg.Add(2)
	go c.run()
	go c.pingLoop()

	return c, nil
}

func (c *WSClientImpl) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, &TransportError{Op: "websocket dial", Err: err}
	}

	readTimeout := c.config.ReadTimeout
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	return conn, nil
}

// State returns the current connection state.
func (c *WSClientImpl) State() ConnState {
	return ConnState(c.state.Load())
}

// Disconnects signals each lost connection.
func (c *WSClientImpl) Disconnects() <-chan struct{} {
	return c.disconnects
}

// Reconnects signals after each successful reconnect and resubscribe.
func (c *WSClientImpl) Reconnects() <-chan struct{} {
	return c.reconnects
}

// setState moves to s unless the client is already Closed.
func (c *WSClientImpl) setState(s ConnState) {
	for {
		cur := c.state.Load()
		if ConnState(cur) == StateClosed {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			break
		}
	}
	c.metrics.SetWSState(int(s))
	c.log.Debug().Str("state", s.String()).Msg("connection state")
}

// SubscribeLogs subscribes to logs emitted by the filter's addresses.
func (c *WSClientImpl) SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan domain.LogRecord, error) {
	sub := &subscription{
		filter: filter,
		ch:     make(chan domain.LogRecord, c.config.Buffer),
	}

	c.subsMu.Lock()
	if c.closed.Load() {
		c.subsMu.Unlock()
		return nil, ErrClosed
	}
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = sub
	c.subsMu.Unlock()

	serverID, err := c.subscribe(ctx, filter, id)
	if err != nil {
		c.removeSub(id)
		return nil, err
	}

	c.log.Info().
		Str("subscription", serverID).
		Int("addresses", len(filter.Addresses)).
		Msg("subscribed to logs")

	return sub.ch, nil
}

func (c *WSClientImpl) removeSub(id uint64) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if sub, ok := c.subs[id]; ok {
		if sub.serverID != "" {
			delete(c.byServerID, sub.serverID)
		}
		delete(c.subs, id)
	}
}

// subscribe sends eth_subscribe for the local subscription id and waits for
// the server-assigned id. The read loop binds the server id before the
// confirmation is delivered, so no notification can arrive unmapped.
func (c *WSClientImpl) subscribe(ctx context.Context, filter LogsFilter, localID uint64) (string, error) {
	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "eth_subscribe",
		Params: []interface{}{
			"logs",
			logFilterParam{Address: filter.Addresses},
		},
	}

	resCh := make(chan subscribeResult, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = pendingSub{ch: resCh, localID: localID}
	c.pendingMu.Unlock()

	if err := c.writeJSON(req); err != nil {
		c.removePending(reqID)
		return "", err
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case res := <-resCh:
		return res.id, res.err
	case <-timer.C:
		c.removePending(reqID)
		return "", &TransportError{
			Op:  "subscribe",
			Err: fmt.Errorf("no confirmation after %s", c.config.SubscribeTimeout),
		}
	case <-c.done:
		return "", ErrClosed
	case <-ctx.Done():
		c.removePending(reqID)
		return "", ctx.Err()
	}
}

func (c *WSClientImpl) removePending(reqID uint64) {
	c.pendingMu.Lock()
	delete(c.pending, reqID)
	c.pendingMu.Unlock()
}

// failPending completes every outstanding subscribe with err.
func (c *WSClientImpl) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, p := range c.pending {
		select {
		case p.ch <- subscribeResult{err: err}:
		default:
		}
		delete(c.pending, id)
	}
}

func (c *WSClientImpl) writeJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		return &TransportError{Op: "websocket write", Err: err}
	}
	return nil
}

// Close closes the connection and all subscription channels.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.state.Store(int32(StateClosed))
	c.metrics.SetWSState(int(StateClosed))
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.wg.Wait()

	c.subsMu.Lock()
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	c.byServerID = make(map[string]uint64)
	c.subsMu.Unlock()

	c.failPending(ErrClosed)
	close(c.disconnects)
	close(c.reconnects)

	c.log.Info().Msg("websocket client closed")
	return nil
}

// run owns the connection: it reads until failure, then reconnects with
// backoff and resubscribes, until Close.
func (c *WSClientImpl) run() {
	defer c.wg.Done()

	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn != nil {
			err := c.readLoop(conn)
			if c.closed.Load() {
				return
			}
			c.log.Warn().Err(err).Msg("websocket connection lost")
			c.dropConn(conn)

			// readLoop delivered every log of conn before returning.
			select {
			case c.disconnects <- struct{}{}:
			default:
			}
		}

		c.setState(StateDisconnected)
		if !c.reconnect() {
			return
		}

		c.wg.Add(1)
		go c.resubscribeAll()
	}
}

func (c *WSClientImpl) readLoop(conn *websocket.Conn) error {
	for {
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return &TransportError{Op: "websocket read", Err: err}
		}
		c.handleMessage(message)
	}
}

// dropConn closes conn if it is still current and fails in-flight subscribes.
func (c *WSClientImpl) dropConn(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.failPending(&TransportError{Op: "subscribe", Err: errors.New("connection lost")})
}

// reconnect dials with full-jitter backoff until it succeeds or the client
// closes. Returns false when closed.
func (c *WSClientImpl) reconnect() bool {
	for attempt := 0; ; attempt++ {
		delay := c.backoff.Delay(attempt)
		c.log.Debug().Int("attempt", attempt+1).Dur("delay", delay).Msg("reconnect scheduled")

		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		c.setState(StateConnecting)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			c.setState(StateDisconnected)
			c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("reconnect failed")
			continue
		}

		c.connMu.Lock()
		if c.closed.Load() {
			c.connMu.Unlock()
			conn.Close()
			return false
		}
		c.conn = conn
		c.connMu.Unlock()

		c.setState(StateConnected)
		c.metrics.RecordReconnect()
		c.log.Info().Int("attempts", attempt+1).Msg("reconnected")
		return true
	}
}

// resubscribeAll re-issues every active subscription on the new connection
// and then signals Reconnects. A failed resubscribe drops the connection so
// the run loop retries.
func (c *WSClientImpl) resubscribeAll() {
	defer c.wg.Done()

	c.subsMu.RLock()
	filters := make(map[uint64]LogsFilter, len(c.subs))
	for id, sub := range c.subs {
		filters[id] = sub.filter
	}
	c.subsMu.RUnlock()

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	for id, filter := range filters {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.SubscribeTimeout)
		_, err := c.subscribe(ctx, filter, id)
		cancel()

		if err != nil {
			if c.closed.Load() {
				return
			}
			c.log.Warn().Err(err).Msg("resubscribe failed, dropping connection")
			if conn != nil {
				c.connMu.Lock()
				if c.conn == conn {
					conn.Close()
				}
				c.connMu.Unlock()
			}
			return
		}
	}

	c.log.Info().Int("subscriptions", len(filters)).Msg("resubscribed")

	select {
	case c.reconnects <- struct{}{}:
	default:
	}
}

// handleMessage dispatches a subscribe response or a log notification.
func (c *WSClientImpl) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.log.Warn().Err(err).Msg("malformed websocket message")
		return
	}

	switch {
	case msg.Method == "eth_subscription" && msg.Params != nil:
		c.handleNotification(msg.Params)
	case msg.ID != nil:
		c.handleResponse(*msg.ID, msg.Result, msg.Error)
	}
}

func (c *WSClientImpl) handleResponse(id uint64, result json.RawMessage, rpcErr *RPCError) {
	c.pendingMu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if !ok {
		return
	}

	var res subscribeResult
	switch {
	case rpcErr != nil:
		c.log.Warn().Int("code", rpcErr.Code).Str("msg", rpcErr.Message).Msg("subscribe rejected")
		res.err = rpcErr
	default:
		if err := json.Unmarshal(result, &res.id); err != nil || res.id == "" {
			res.err = fmt.Errorf("invalid subscription id %q", string(result))
			break
		}
		c.bindServerID(p.localID, res.id)
	}

	select {
	case p.ch <- res:
	default:
	}
}

// bindServerID remaps a local subscription to a new server-assigned id.
func (c *WSClientImpl) bindServerID(localID uint64, serverID string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	sub, ok := c.subs[localID]
	if !ok {
		return
	}
	if sub.serverID != "" {
		delete(c.byServerID, sub.serverID)
	}
	sub.serverID = serverID
	c.byServerID[serverID] = localID
}

// handleNotification forwards a log to its subscriber. It blocks while the
// subscriber's buffer is full; logs are never dropped here.
func (c *WSClientImpl) handleNotification(params *wsNotificationParams) {
	var l rpcLog
	if err := json.Unmarshal(params.Result, &l); err != nil {
		c.log.Warn().Err(err).Str("subscription", params.Subscription).Msg("malformed log notification")
		return
	}

	c.subsMu.RLock()
	var sub *subscription
	if id, ok := c.byServerID[params.Subscription]; ok {
		sub = c.subs[id]
	}
	c.subsMu.RUnlock()

	if sub == nil {
		c.log.Debug().Str("subscription", params.Subscription).Msg("notification for unknown subscription")
		return
	}

	c.metrics.RecordLogReceived()

	select {
	case sub.ch <- l.toRecord():
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	if c.config.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// The read loop notices the dead connection.
					c.log.Debug().Err(err).Msg("ping failed")
				}
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsMessage struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      *uint64               `json:"id,omitempty"`
	Method  string                `json:"method,omitempty"`
	Result  json.RawMessage       `json:"result,omitempty"`
	Error   *RPCError             `json:"error,omitempty"`
	Params  *wsNotificationParams `json:"params,omitempty"`
}

type wsNotificationParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}
