package upstream

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// httpStreamClient wraps mcp-go's Streamable HTTP client, grounded on
// internal/mcpserver/client_streamable_http.go.
type httpStreamClient struct {
	url     string
	headers map[string]string

	inner *client.Client
}

// NewHTTPStreamClient builds a Client for the MCP "Streamable HTTP"
// transport: the agent POSTs requests and the server streams an
// SSE-framed response. headers carries injected credentials (e.g. a
// bearer token field fetched from the Credential Injector).
func NewHTTPStreamClient(url string, headers map[string]string) Client {
	return &httpStreamClient{url: url, headers: headers}
}

func (c *httpStreamClient) Initialize(ctx context.Context) error {
	inner, err := client.NewStreamableHttpClient(c.url, headerOpts(c.headers)...)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.url, err)
	}

	initCtx, cancel := withDefaultDeadline(ctx)
	defer cancel()

	if _, err := inner.Initialize(initCtx, initializeRequest()); err != nil {
		_ = inner.Close()
		return fmt.Errorf("initializing %s: %w", c.url, err)
	}

	c.inner = inner
	return nil
}

func (c *httpStreamClient) Close() error {
	if c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

func (c *httpStreamClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	result, err := c.inner.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return result.Tools, nil
}

func (c *httpStreamClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return c.inner.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
}

func (c *httpStreamClient) OnNotification(handler func(mcp.JSONRPCNotification)) {
	c.inner.OnNotification(handler)
}
