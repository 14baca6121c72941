// Package upstream implements the Upstream Session Manager (C6): the
// keyed (service, userId) → UpstreamSession map, its three transport
// factories, credential injection, and forwarding. Grounded on
// giantswarm-muster/internal/aggregator/session_registry.go (the keyed
// map + double-checked-locking shape) and internal/mcpserver/client_*.go
// (the per-transport client wrappers).
package upstream

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// protocolVersion and clientInfo are fixed per spec.md §4.6.
const protocolVersion = "2024-11-05"

var clientInfo = mcp.Implementation{Name: "noumena-mcp-gateway", Version: "1.0.0"}

// Client is the minimal surface the session manager needs from an
// upstream MCP connection, implemented once per transport.
type Client interface {
	Initialize(ctx context.Context) error
	Close() error
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
	// OnNotification registers the handler invoked for server-initiated
	// notifications received on this connection (spec.md §4.7).
	OnNotification(handler func(mcp.JSONRPCNotification))
}

func initializeRequest() mcp.InitializeRequest {
	return mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: protocolVersion,
			ClientInfo:      clientInfo,
			Capabilities:    mcp.ClientCapabilities{},
		},
	}
}

// defaultInitTimeout bounds the initialize handshake when the caller's
// context carries no deadline, following client_stdio.go's
// DefaultStdioInitTimeout convention.
const defaultInitTimeout = 10 * time.Second

func withDefaultDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultInitTimeout)
}

// headerOpts converts an injected-credential header map into mcp-go
// StreamableHTTP client options.
func headerOpts(headers map[string]string) []transport.StreamableHTTPCOption {
	if len(headers) == 0 {
		return nil
	}
	return []transport.StreamableHTTPCOption{transport.WithHTTPHeaders(headers)}
}
