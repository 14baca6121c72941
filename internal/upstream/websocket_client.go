package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/pkg/logging"
)

// websocketClient implements Client over a single bidirectional
// WebSocket, framing JSON-RPC messages both ways. mcp-go ships no
// WebSocket transport, so this is hand-rolled on gorilla/websocket,
// following the pending-request-map/read-loop shape of
// JulianPedro-reflow-gateway's internal/stdio/process.go, adapted from
// line-delimited stdio framing to WS text frames.
type websocketClient struct {
	url     string
	headers http.Header
	service string

	conn   *websocket.Conn
	nextID int64

	mu      sync.Mutex
	pending map[int64]chan rpcMessage

	notifyMu sync.RWMutex
	notify   func(mcp.JSONRPCNotification)
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewWebSocketClient builds a Client for the WEBSOCKET transport: a
// single socket carrying JSON-RPC messages in both directions, per
// spec.md §4.6. headers carries injected credentials.
func NewWebSocketClient(service, url string, headers map[string]string) Client {
	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	return &websocketClient{url: url, headers: h, service: service, pending: make(map[int64]chan rpcMessage)}
}

func (c *websocketClient) Initialize(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: defaultInitTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.url, err)
	}
	c.conn = conn

	go c.readLoop()

	initCtx, cancel := withDefaultDeadline(ctx)
	defer cancel()

	var result mcp.InitializeResult
	if err := c.call(initCtx, "initialize", initializeRequest().Params, &result); err != nil {
		_ = c.conn.Close()
		return fmt.Errorf("initializing %s: %w", c.url, err)
	}

	if err := c.sendNotification("notifications/initialized", nil); err != nil {
		logging.Warn("Upstream", "Failed to send initialized notification to %s: %v", c.service, err)
	}

	return nil
}

func (c *websocketClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *websocketClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	var result struct {
		Tools []mcp.Tool `json:"tools"`
	}
	if err := c.call(ctx, "tools/list", nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

func (c *websocketClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	params := mcp.CallToolParams{Name: name, Arguments: args}
	var result mcp.CallToolResult
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *websocketClient) OnNotification(handler func(mcp.JSONRPCNotification)) {
	c.notifyMu.Lock()
	c.notify = handler
	c.notifyMu.Unlock()
}

func (c *websocketClient) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	id := atomic.AddInt64(&c.nextID, 1)

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}

	responseCh := make(chan rpcMessage, 1)
	c.mu.Lock()
	c.pending[id] = responseCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := rpcMessage{JSONRPC: "2.0", ID: &id, Method: method, Params: paramsJSON}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing to socket: %w", err)
	}

	select {
	case resp := <-responseCh:
		if resp.Error != nil {
			return fmt.Errorf("%s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
		}
		if result != nil && len(resp.Result) > 0 {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(60 * time.Second):
		return fmt.Errorf("timeout waiting for %s response", method)
	}
}

func (c *websocketClient) sendNotification(method string, params interface{}) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rpcMessage{JSONRPC: "2.0", Method: method, Params: paramsJSON})
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *websocketClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			logging.Debug("Upstream", "WebSocket read loop for %s ended: %v", c.service, err)
			return
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Warn("Upstream", "Malformed frame from %s: %v", c.service, err)
			continue
		}

		if msg.ID != nil {
			c.mu.Lock()
			ch, ok := c.pending[*msg.ID]
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
			continue
		}

		c.notifyMu.RLock()
		handler := c.notify
		c.notifyMu.RUnlock()
		if handler == nil {
			continue
		}
		var notification mcp.JSONRPCNotification
		if err := json.Unmarshal(data, &notification); err != nil {
			logging.Warn("Upstream", "Malformed notification from %s: %v", c.service, err)
			continue
		}
		handler(notification)
	}
}
