// Package config loads and reloads the service catalog the gateway
// proxies to: which upstream services exist, how to reach them, and which
// tools each one exposes.
package config

import "fmt"

// Transport identifies which wire protocol an upstream service speaks.
type Transport string

const (
	TransportStdio      Transport = "STDIO"
	TransportHTTPStream Transport = "HTTP_STREAM"
	TransportWebSocket  Transport = "WEBSOCKET"
)

// ToolDefinition describes one tool exposed by a service.
type ToolDefinition struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Enabled     bool                   `yaml:"enabled"`
	InputSchema map[string]interface{} `yaml:"inputSchema"`
}

// ServiceDefinition is the configuration record for one upstream MCP
// service, read at startup and on reload.
type ServiceDefinition struct {
	Name                string           `yaml:"name"`
	DisplayName         string           `yaml:"displayName"`
	Transport           Transport        `yaml:"transport"`
	Enabled             bool             `yaml:"enabled"`
	Command             string           `yaml:"command,omitempty"`
	Args                []string         `yaml:"args,omitempty"`
	Endpoint            string           `yaml:"endpoint,omitempty"`
	Tools               []ToolDefinition `yaml:"tools"`
	RequiresCredentials bool             `yaml:"requiresCredentials"`
}

// ConnectionSnapshot captures the fields of a ServiceDefinition that
// identify an upstream connection, for change detection across reloads
// (spec.md §4.6 "config-driven eviction").
type ConnectionSnapshot struct {
	Transport Transport
	Command   string
	Endpoint  string
}

// Snapshot returns the connection-identifying fields of this definition.
func (s ServiceDefinition) Snapshot() ConnectionSnapshot {
	return ConnectionSnapshot{Transport: s.Transport, Command: s.Command, Endpoint: s.Endpoint}
}

// Validate enforces the transport/command/endpoint invariant from
// spec.md §3: STDIO needs a command, HTTP/WS need an endpoint.
func (s ServiceDefinition) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("service definition missing name")
	}
	switch s.Transport {
	case TransportStdio:
		if s.Command == "" {
			return fmt.Errorf("service %q: STDIO transport requires command", s.Name)
		}
	case TransportHTTPStream, TransportWebSocket:
		if s.Endpoint == "" {
			return fmt.Errorf("service %q: %s transport requires endpoint", s.Name, s.Transport)
		}
	default:
		return fmt.Errorf("service %q: unknown transport %q", s.Name, s.Transport)
	}
	return nil
}
