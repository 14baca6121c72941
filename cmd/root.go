package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/pkg/logging"
)

// rootConfigPath and rootLogLevel back the root command's persistent
// flags, read by the serve command.
var (
	rootConfigPath string
	rootLogLevel   string
)

// Exit codes for the gateway process, per spec.md §6: 0 on graceful
// shutdown, non-zero on failure to bind the listen socket or on
// config-load failure.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
)

// rootCmd is the entry point when the binary is invoked without a
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "noumena-gateway",
	Short: "Multiplex AI agents to MCP tool servers through one authenticated endpoint",
	Long: `noumena-gateway sits between AI agents and a fleet of MCP tool servers.
It terminates agent-facing auth (OAuth 2.0 + PKCE against an external
identity provider), enforces a policy decision on every tool call, injects
per-call credentials, and fans agent requests out to upstream MCP sessions
over stdio, Streamable HTTP, or WebSocket — all behind a single namespaced
tool catalog.`,
	SilenceUsage:      true,
	PersistentPreRunE: initLogging,
}

func initLogging(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	switch rootLogLevel {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	logging.InitForCLI(level, os.Stderr)
	return nil
}

// SetVersion sets the version for the root command. Called from main
// with the build-time injected version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the binary.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the CLI entry point, called from main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "noumena-gateway version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Service definition YAML file or directory (overrides CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}
