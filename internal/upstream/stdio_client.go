package upstream

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/pkg/logging"
)

// stdioClient wraps mcp-go's stdio MCPClient, grounded on
// internal/mcpserver/client_stdio.go.
type stdioClient struct {
	command string
	args    []string
	env     map[string]string
	service string

	inner *client.Client
}

// NewStdioClient builds a Client that spawns command+args as a child
// process with env injected into its environment, per spec.md §4.6's
// STDIO transport factory. service names the log prefix for stderr.
func NewStdioClient(service, command string, args []string, env map[string]string) Client {
	return &stdioClient{command: command, args: args, env: env, service: service}
}

func (c *stdioClient) Initialize(ctx context.Context) error {
	var envStrings []string
	for k, v := range c.env {
		envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, v))
	}

	inner, err := client.NewStdioMCPClient(c.command, envStrings, c.args...)
	if err != nil {
		return fmt.Errorf("spawning %s: %w", c.command, err)
	}

	initCtx, cancel := withDefaultDeadline(ctx)
	defer cancel()

	if _, err := inner.Initialize(initCtx, initializeRequest()); err != nil {
		_ = inner.Close()
		return fmt.Errorf("initializing %s: %w", c.command, err)
	}

	c.inner = inner
	if stderr, ok := client.GetStderr(inner); ok {
		siphonStderr(c.service, stderr)
	}
	return nil
}

func (c *stdioClient) Close() error {
	if c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

func (c *stdioClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	result, err := c.inner.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return result.Tools, nil
}

func (c *stdioClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return c.inner.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
}

func (c *stdioClient) OnNotification(handler func(mcp.JSONRPCNotification)) {
	c.inner.OnNotification(handler)
}

// siphonStderr copies a child process's stderr to the gateway's log
// under a per-service prefix, per spec.md §4.6.
func siphonStderr(service string, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	go func() {
		for scanner.Scan() {
			logging.Debug("Upstream", "[%s stderr] %s", service, scanner.Text())
		}
	}()
}
