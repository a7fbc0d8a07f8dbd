package chainadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"kasmix/internal/config"
)

// wireRequest is a JSON-RPC-shaped request sent over the node's WebSocket
// wRPC endpoint. The wire encoding here mirrors kaspad's own wRPC: a typed
// method name, an id for correlation, and a params object.
type wireRequest struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type wireResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wireNotification is an unsolicited server push (id == 0), used for the
// virtual-DAA-score tip subscription.
type wireNotification struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Client is a thin JSON-over-WebSocket RPC client for the node. It is the
// only component in the system that imports RPC wire types.
type Client struct {
	url            string
	reconnectMin   time.Duration
	reconnectMax   time.Duration
	requestTimeout time.Duration
	addrLimiter    *addressLimiter
	breaker        *circuitBreaker

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  atomic.Uint64
	pending map[uint64]chan wireResponse
	pendMu  sync.Mutex

	tipMu   sync.Mutex
	tipSubs []chan uint64
}

// NewClient creates a Chain Adapter client. It does not dial immediately;
// the first RPC call establishes the connection lazily.
func NewClient(url string, reconnectMin, reconnectMax time.Duration) *Client {
	return &Client{
		url:            url,
		reconnectMin:   reconnectMin,
		reconnectMax:   reconnectMax,
		requestTimeout: config.RPCRequestTimeout,
		addrLimiter:    newAddressLimiter(config.RateLimitSubmit),
		breaker:        newCircuitBreaker(config.CircuitBreakerThreshold, config.CircuitBreakerCooldown),
		pending:        make(map[uint64]chan wireResponse),
	}
}

// Ping performs a lightweight liveness check, used at startup and by the
// circuit breaker's half-open probe.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "ping", nil)
	return err
}

func (c *Client) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	backoff := c.reconnectMin
	var lastErr error
	for {
		dialCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
		cancel()
		if err == nil {
			c.conn = conn
			go c.readLoop(conn)
			slog.Info("chain adapter connected", "url", c.url)
			return conn, nil
		}

		lastErr = err
		slog.Warn("chain adapter dial failed, backing off", "url", c.url, "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", config.ErrNodeUnreachable, ctx.Err())
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > c.reconnectMax {
			backoff = c.reconnectMax
		}
		if lastErr != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", config.ErrNodeUnreachable, lastErr)
		}
	}
}

// readLoop demultiplexes responses by id and delivers them to the waiting
// caller's channel. It exits (and drops the connection) on any read error.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("chain adapter connection closed", "error", err)
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()

			c.pendMu.Lock()
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			c.pendMu.Unlock()

			c.tipMu.Lock()
			for _, ch := range c.tipSubs {
				close(ch)
			}
			c.tipSubs = nil
			c.tipMu.Unlock()
			return
		}

		var resp wireResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			slog.Warn("chain adapter received malformed frame", "error", err)
			continue
		}

		if resp.ID == 0 {
			c.dispatchNotification(data)
			continue
		}

		c.pendMu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendMu.Unlock()

		if ok {
			ch <- resp
			close(ch)
		}
	}
}

// dispatchNotification delivers a "tip" push to every active subscriber,
// dropping it for any subscriber whose channel is full so a slow consumer
// cannot stall the read loop.
func (c *Client) dispatchNotification(data []byte) {
	var note wireNotification
	if err := json.Unmarshal(data, &note); err != nil || note.Method != "tip" {
		return
	}
	var score uint64
	if err := json.Unmarshal(note.Params, &score); err != nil {
		slog.Warn("chain adapter received malformed tip notification", "error", err)
		return
	}

	c.tipMu.Lock()
	defer c.tipMu.Unlock()
	for _, ch := range c.tipSubs {
		select {
		case ch <- score:
		default:
			slog.Warn("tip subscriber channel full, dropping update", "score", score)
		}
	}
}

// call issues a single request and waits for its matching response,
// respecting the circuit breaker and the configured request timeout.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !c.breaker.allow() {
		return nil, fmt.Errorf("%w: circuit open", config.ErrNodeUnreachable)
	}

	result, err := c.doCall(ctx, method, params)
	if err != nil {
		c.breaker.recordFailure()
		return nil, err
	}
	c.breaker.recordSuccess()
	return result, nil
}

func (c *Client) doCall(ctx context.Context, method string, params any) (json.RawMessage, error) {
	conn, err := c.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if params != nil {
		raw, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}
	}

	id := c.nextID.Add(1)
	req := wireRequest{ID: id, Method: method, Params: raw}

	ch := make(chan wireResponse, 1)
	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	c.mu.Lock()
	writeErr := conn.WriteJSON(req)
	c.mu.Unlock()
	if writeErr != nil {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
		return nil, fmt.Errorf("%w: %s", config.ErrNodeUnreachable, writeErr)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: connection closed awaiting response", config.ErrNodeUnreachable)
		}
		if resp.Error != nil {
			return nil, classifyWireError(resp.Error)
		}
		return resp.Result, nil
	case <-reqCtx.Done():
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
		return nil, fmt.Errorf("%w: %s", config.ErrNodeTimeout, reqCtx.Err())
	}
}

// classifyWireError maps the node's string error codes onto sentinel errors,
// wrapping the retry-worthy ones as config.TransientError.
func classifyWireError(we *wireError) error {
	base := fmt.Errorf("%s", we.Message)
	switch we.Code {
	case config.CodeSequenceLock:
		return config.NewTransientError(fmt.Errorf("%w: %s", config.ErrSequenceLock, base))
	case config.CodeNodeUnreachable:
		return config.NewTransientError(fmt.Errorf("%w: %s", config.ErrNodeUnreachable, base))
	case config.CodeNodeTimeout:
		return config.NewTransientError(fmt.Errorf("%w: %s", config.ErrNodeTimeout, base))
	case "INSUFFICIENT_BALANCE":
		return fmt.Errorf("%w: %s", config.ErrInsufficientBalance, base)
	case "MEMPOOL_REJECT":
		return fmt.Errorf("%w: %s", config.ErrMempoolReject, base)
	case "INVALID_SIGNATURE":
		return fmt.Errorf("%w: %s", config.ErrInvalidSignature, base)
	default:
		return fmt.Errorf("%w: %s", config.ErrNodeUnreachable, base)
	}
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
