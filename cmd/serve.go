package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/gateway"
)

// serveCmd starts the gateway: loads service configuration, wires every
// component, and serves agent traffic until an interrupt or SIGTERM
// triggers graceful shutdown.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway and serve agent traffic",
	Long: `Starts the noumena MCP gateway: binds the HTTP listener and serves the
agent-facing endpoints (POST /mcp, GET /mcp/ws, GET /sse + POST /message)
and the OAuth facade endpoints, forwarding authorized tool calls to the
configured upstream MCP services.

Configuration is read from environment variables (HOST, PORT, CONFIG_PATH,
KEYCLOAK_*, POLICY_ENDPOINT, CREDENTIAL_ENDPOINT) per the deployment
reference; use the root --config flag to override the service definitions
location for this run.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := gateway.FromEnv()
	if rootConfigPath != "" {
		cfg.ConfigPath = rootConfigPath
	}

	srv, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("initializing gateway: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
