package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/config"
)

func writeConfig(t *testing.T, yamlBody string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))
	return path
}

const sampleConfig = `
services:
  - name: weather
    displayName: Weather Service
    transport: STDIO
    command: /bin/weather-mcp
    enabled: true
    tools:
      - name: forecast
        description: Get a forecast
        enabled: true
      - name: hidden
        description: Not ready yet
        enabled: false
  - name: disabled-service
    displayName: Disabled
    transport: STDIO
    command: /bin/disabled
    enabled: false
    tools:
      - name: anything
        enabled: true
`

func TestRegistry_List(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	mgr, err := config.NewManager(path)
	require.NoError(t, err)

	r := New(mgr)
	tools := r.List("user-1")

	require.Len(t, tools, 1)
	require.Equal(t, "weather.forecast", tools[0].Name)
	require.Contains(t, tools[0].Description, "Weather Service")
	require.Contains(t, tools[0].Description, "Get a forecast")
}

func TestRegistry_Resolve(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	mgr, err := config.NewManager(path)
	require.NoError(t, err)

	r := New(mgr)

	resolved, ok := r.Resolve("weather.forecast")
	require.True(t, ok)
	require.Equal(t, "weather", resolved.Service.Name)
	require.Equal(t, "forecast", resolved.Tool.Name)

	_, ok = r.Resolve("weather.hidden")
	require.False(t, ok, "disabled tool must not resolve")

	_, ok = r.Resolve("disabled-service.anything")
	require.False(t, ok, "disabled service must not resolve")

	_, ok = r.Resolve("no-dot-here")
	require.False(t, ok)

	_, ok = r.Resolve("unknown.tool")
	require.False(t, ok)
}

func TestRegistry_ResolveFirstDotOnly(t *testing.T) {
	path := writeConfig(t, `
services:
  - name: svc
    displayName: Svc
    transport: STDIO
    command: /bin/svc
    enabled: true
    tools:
      - name: tool.with.dots
        enabled: true
`)
	mgr, err := config.NewManager(path)
	require.NoError(t, err)

	r := New(mgr)
	resolved, ok := r.Resolve("svc.tool.with.dots")
	require.True(t, ok)
	require.Equal(t, "tool.with.dots", resolved.Tool.Name)
}
