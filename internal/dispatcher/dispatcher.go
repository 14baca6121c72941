// Package dispatcher implements the Dispatcher (C9): parse a JSON-RPC
// 2.0 message, route initialize/tools/list/tools/call, ignore
// notifications, forward everything else as "method not found". Wires
// together the Tool Registry (C3), Policy Gate (C4), and Upstream
// Session Manager (C6) behind the three ingress shapes of the Agent
// Transport (C8). Grounded on the request/response shape of
// giantswarm-muster/internal/mcpserver's tool-call handling, adapted
// from mcp-go server-side registration to a single explicit Handle
// entry point shared by all three transports.
package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/policy"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/registry"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/upstream"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/pkg/logging"
)

const protocolVersion = "2024-11-05"

// initializeResult is the dispatcher's own wire shape for the
// `initialize` response. The mcp-go library's mcp.InitializeResult is
// written for describing servers mcp-go itself hosts; the gateway's
// response needs exactly three fixed fields, so it is built directly
// here rather than risking a mismatch with that type's internal shape.
type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      serverInfo         `json:"serverInfo"`
	Capabilities    serverCapabilities `json:"capabilities"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type serverCapabilities struct {
	Tools toolsCapability `json:"tools"`
}

type toolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// fixedServerInfo is echoed on initialize; fixed per spec.md §4.9.
var fixedServerInfo = serverInfo{Name: "noumena-mcp-gateway", Version: "1.0.0"}

// Resolver is the subset of the Tool Registry (C3) the dispatcher needs.
type Resolver interface {
	List(userID string) []registry.ListedTool
	Resolve(namespacedName string) (registry.ResolvedTool, bool)
}

// Gate is the subset of the Policy Gate (C4) the dispatcher needs.
type Gate interface {
	Evaluate(ctx context.Context, service, tool, userID string) (policy.DecisionResponse, error)
}

// Forwarder is the subset of the Upstream Session Manager (C6) the
// dispatcher needs.
type Forwarder interface {
	Forward(ctx context.Context, resolved registry.ResolvedTool, args map[string]interface{}, user upstream.UserContext) (*mcp.CallToolResult, error)
}

// Dispatcher implements the per-tool-call state machine:
// received → parsed → resolved → policy_checked → forwarded → returned.
type Dispatcher struct {
	tools   Resolver
	policy  Gate
	forward Forwarder
	now     func() time.Time
}

// New builds a Dispatcher.
func New(tools Resolver, gate Gate, forward Forwarder) *Dispatcher {
	return &Dispatcher{tools: tools, policy: gate, forward: forward, now: time.Now}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
)

// Handle parses raw as one JSON-RPC message and returns the response
// bytes, or nil if raw was a notification (spec.md §8 invariant 6: a
// message with id==null or no id never produces a response).
func (d *Dispatcher) Handle(ctx context.Context, user upstream.UserContext, raw []byte) []byte {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return encode(response{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "parse error"}})
	}

	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	switch {
	case req.Method == "initialize":
		result := d.handleInitialize()
		if isNotification {
			return nil
		}
		return encode(response{JSONRPC: "2.0", ID: req.ID, Result: result})

	case req.Method == "ping":
		if isNotification {
			return nil
		}
		return encode(response{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}})

	case len(req.Method) >= len("notifications/") && req.Method[:len("notifications/")] == "notifications/":
		// Accept silently: progress/cancelled/initialized and any other
		// server-bound notification. Never produces a response even if
		// the caller mistakenly set an id.
		return nil

	case req.Method == "tools/list":
		if isNotification {
			return nil
		}
		return encode(response{JSONRPC: "2.0", ID: req.ID, Result: d.handleToolsList(user.UserID)})

	case req.Method == "tools/call":
		if isNotification {
			return nil
		}
		return encode(response{JSONRPC: "2.0", ID: req.ID, Result: d.handleToolsCall(ctx, req.Params, user)})

	default:
		if isNotification {
			return nil
		}
		return encode(response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeMethodNotFound, Message: "Method not found"}})
	}
}

func (d *Dispatcher) handleInitialize() initializeResult {
	return initializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      fixedServerInfo,
		Capabilities:    serverCapabilities{Tools: toolsCapability{ListChanged: true}},
	}
}

func (d *Dispatcher) handleToolsList(userID string) map[string]interface{} {
	return map[string]interface{}{"tools": d.tools.List(userID)}
}

type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// callResult is the dispatcher's own wire shape for a tools/call
// result. Content blocks are carried as raw JSON rather than
// re-declared mcp.Content variants: the upstream's *mcp.CallToolResult
// already marshals to the correct MCP content-block shape, so the
// dispatcher round-trips it through JSON instead of depending on the
// exact exported field names of mcp-go's content types, which its own
// package declares privately assembled (text/image/resource variants
// behind an interface).
type callResult struct {
	Content []json.RawMessage `json:"content"`
	IsError bool              `json:"isError,omitempty"`
}

func textBlock(text string) json.RawMessage {
	block, _ := json.Marshal(map[string]string{"type": "text", "text": text})
	return block
}

// handleToolsCall runs the received → parsed → resolved →
// policy_checked → forwarded → returned state machine for one
// tools/call, per spec.md §4.9 and §7.
func (d *Dispatcher) handleToolsCall(ctx context.Context, rawParams json.RawMessage, user upstream.UserContext) *callResult {
	var params toolCallParams
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return errorResult("invalid tools/call params: " + err.Error())
	}

	resolved, ok := d.tools.Resolve(params.Name)
	if !ok {
		return errorResult("Tool '" + params.Name + "' not found or disabled")
	}

	// policy.ErrPolicyUnavailable and any other transport/decode failure
	// are surfaced identically per spec.md §7: fail closed.
	decision, err := d.policy.Evaluate(ctx, resolved.Service.Name, resolved.Tool.Name, user.UserID)
	if err != nil {
		return errorResult("Policy engine unavailable. Request denied (fail-closed).")
	}
	if !decision.Allow {
		return errorResult(decision.Reason)
	}

	started := d.now()
	result, err := d.forward.Forward(ctx, resolved, params.Arguments, user)
	if err != nil {
		logging.Warn("Dispatcher", "Upstream call %s.%s failed: %v", resolved.Service.Name, resolved.Tool.Name, err)
		return errorResult(err.Error())
	}

	return appendContext(result, resolved, started, d.now())
}

func errorResult(message string) *callResult {
	return &callResult{Content: []json.RawMessage{textBlock(message)}, IsError: true}
}

// appendContext converts the upstream's MCP content blocks into the
// dispatcher's wire shape and adds the trailing auxiliary text block
// spec.md §4.9 requires on success: a small JSON "context" object
// carrying status, service, operation, durationMs, and timestamp.
// Upstream-reported errors pass their isError flag and content through
// untouched.
func appendContext(upstreamResult interface{}, resolved registry.ResolvedTool, started, finished time.Time) *callResult {
	data, err := json.Marshal(upstreamResult)
	if err != nil {
		return errorResult("encoding upstream result: " + err.Error())
	}

	var result callResult
	if err := json.Unmarshal(data, &result); err != nil {
		return errorResult("decoding upstream result: " + err.Error())
	}

	status := "SUCCESS"
	if result.IsError {
		status = "ERROR"
	}

	ctxBlock, err := json.Marshal(map[string]interface{}{
		"status":     status,
		"service":    resolved.Service.Name,
		"operation":  resolved.Tool.Name,
		"durationMs": finished.Sub(started).Milliseconds(),
		"timestamp":  finished.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return &result
	}

	result.Content = append(result.Content, textBlock(string(ctxBlock)))
	return &result
}

func encode(r response) []byte {
	data, err := json.Marshal(r)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"internal error encoding response"}}`)
	}
	return data
}
