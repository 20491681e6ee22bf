package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// HandshakeTimeout bounds the dial.
	HandshakeTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		HandshakeTimeout: 10 * time.Second,
		SubscribeTimeout: 30 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// WSClient is a JSON-RPC subscription client over gorilla/websocket for
// eth_subscribe log streams.
//
// The client does not reconnect itself: a transport failure closes all
// subscription channels and signals Done. The connection manager owns the
// retry loop, so a stale client is fully invalidated before a replacement
// is dialed.
type WSClient struct {
	endpoint string
	config   WSClientConfig

	conn      *websocket.Conn
	writeMu   sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps subscription ID to delivery channel.
	subs   map[string]chan rpcLog
	subsMu sync.Mutex

	// pendingSubs maps request ID to channel waiting for a subscription ID.
	pendingSubs   map[uint64]chan string
	pendingSubsMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// DialWS connects a new WebSocket client to the endpoint.
func DialWS(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &WSClient{
		endpoint:    endpoint,
		config:      cfg,
		conn:        conn,
		subs:        make(map[string]chan rpcLog),
		pendingSubs: make(map[uint64]chan string),
		done:        make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// Done is closed when the transport fails or the client is closed.
func (c *WSClient) Done() <-chan struct{} {
	return c.done
}

// SubscribeLogs subscribes to contract logs for one address. The returned
// channel is closed when the transport fails or the client closes.
func (c *WSClient) SubscribeLogs(ctx context.Context, address string) (<-chan rpcLog, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("client closed")
	}

	reqID := c.requestID.Add(1)
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "eth_subscribe",
		Params: []interface{}{
			"logs",
			map[string]interface{}{"address": address},
		},
	}

	confirmCh := make(chan string, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = confirmCh
	c.pendingSubsMu.Unlock()

	dropPending := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	if err := c.writeJSON(req); err != nil {
		dropPending()
		return nil, fmt.Errorf("write subscribe: %w", err)
	}

	var subID string
	select {
	case subID = <-confirmCh:
		if subID == "" {
			return nil, fmt.Errorf("subscription rejected")
		}
	case <-time.After(c.config.SubscribeTimeout):
		dropPending()
		return nil, fmt.Errorf("subscription timeout after %v", c.config.SubscribeTimeout)
	case <-c.done:
		return nil, fmt.Errorf("client closed")
	case <-ctx.Done():
		dropPending()
		return nil, ctx.Err()
	}

	// Large buffer absorbs bursts; blocking send avoids event loss.
	ch := make(chan rpcLog, 10000)
	c.subsMu.Lock()
	c.subs[subID] = ch
	c.subsMu.Unlock()

	return ch, nil
}

// Close closes the WebSocket connection and all subscription channels.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	c.signalDone()

	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
	c.writeMu.Unlock()

	c.wg.Wait()
	return nil
}

// signalDone closes done and all delivery channels exactly once.
func (c *WSClient) signalDone() {
	c.doneOnce.Do(func() {
		close(c.done)

		c.subsMu.Lock()
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.subsMu.Unlock()

		c.pendingSubsMu.Lock()
		for id, ch := range c.pendingSubs {
			close(ch)
			delete(c.pendingSubs, id)
		}
		c.pendingSubsMu.Unlock()
	})
}

func (c *WSClient) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(v)
}

// readLoop reads messages and dispatches to subscribers until the transport
// fails.
func (c *WSClient) readLoop() {
	defer c.wg.Done()
	defer c.signalDone()

	for {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			// Transport failure or close: all channels are closed and the
			// manager decides when to dial again.
			return
		}
		c.handleMessage(message)
	}
}

// wsSubscribeResponse is the confirmation for eth_subscribe.
type wsSubscribeResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// wsNotification is an eth_subscription push message.
type wsNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  *struct {
		Subscription string `json:"subscription"`
		Result       rpcLog `json:"result"`
	} `json:"params"`
}

// handleMessage processes one incoming WebSocket message.
func (c *WSClient) handleMessage(message []byte) {
	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil &&
		notif.Method == "eth_subscription" && notif.Params != nil {
		c.dispatchLog(notif.Params.Subscription, notif.Params.Result)
		return
	}

	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.ID > 0 {
		c.handleSubscribeResponse(&resp)
	}
}

// handleSubscribeResponse resolves a pending subscription request.
func (c *WSClient) handleSubscribeResponse(resp *wsSubscribeResponse) {
	c.pendingSubsMu.Lock()
	ch, ok := c.pendingSubs[resp.ID]
	if ok {
		delete(c.pendingSubs, resp.ID)
	}
	c.pendingSubsMu.Unlock()

	if !ok {
		return
	}

	var subID string
	if resp.Error == nil && resp.Result != nil {
		// Subscription IDs arrive as JSON strings.
		_ = json.Unmarshal(resp.Result, &subID)
	}

	select {
	case ch <- subID:
	default:
	}
}

// dispatchLog delivers a log to its subscriber, blocking rather than dropping.
func (c *WSClient) dispatchLog(subID string, lg rpcLog) {
	if lg.Removed {
		// Reorged-out log; aggregates are merge-idempotent, skip it.
		return
	}

	c.subsMu.Lock()
	ch, ok := c.subs[subID]
	c.subsMu.Unlock()

	if ok {
		select {
		case ch <- lg:
		case <-c.done:
		}
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			// A failed ping surfaces as a read error; the reader handles it.
			c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
		}
	}
}
