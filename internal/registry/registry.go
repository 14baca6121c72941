// Package registry implements the Tool Registry (C3): turns the
// configured service catalog into the namespaced tool list agents see,
// and resolves a namespaced tool name back to its owning service.
package registry

import (
	"strings"
	"sync"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/config"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/pkg/logging"
	pstrings "github.com/jk-nd/noumena-mcp-gateway-poc-sub004/pkg/strings"
)

// maxDescriptionLen bounds the prefixed description surfaced to agents,
// following the teacher's own description-truncation convention.
const maxDescriptionLen = 512

// ResolvedTool is a tool identified by its owning service and original
// (un-namespaced) name, as returned by Resolve.
type ResolvedTool struct {
	Service config.ServiceDefinition
	Tool    config.ToolDefinition
}

// ListedTool is one entry in the agent-facing list(userId) result.
type ListedTool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// Registry holds the current namespaced view of the service catalog. It
// is rebuilt wholesale on every config reload (internal/config.ReloadFunc),
// trading incremental-update complexity for a trivially-correct swap —
// the teacher's ServerRegistry instead mutates per-server entries in
// place, but this system's simpler "config is the whole world" model
// doesn't need that.
type Registry struct {
	mu       sync.RWMutex
	services map[string]config.ServiceDefinition
}

// New builds a Registry from an initial snapshot and wires it to receive
// subsequent reloads from mgr.
func New(mgr *config.Manager) *Registry {
	r := &Registry{}
	r.rebuild(mgr.Services())
	mgr.OnReload(r.rebuild)
	return r
}

func (r *Registry) rebuild(services []config.ServiceDefinition) {
	next := make(map[string]config.ServiceDefinition, len(services))
	for _, svc := range services {
		next[svc.Name] = svc
	}

	r.mu.Lock()
	r.services = next
	r.mu.Unlock()

	logging.Debug("Registry", "Rebuilt tool registry: %d services", len(services))
}

// List returns the namespaced tool list visible to userId. Per spec.md
// §4.3, visibility is purely config-driven (service enabled AND tool
// enabled) — userId is accepted for parity with the contract and future
// per-user filtering but does not currently affect the result.
func (r *Registry) List(userId string) []ListedTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ListedTool
	for _, svc := range r.services {
		if !svc.Enabled {
			continue
		}
		for _, tool := range svc.Tools {
			if !tool.Enabled {
				continue
			}
			out = append(out, ListedTool{
				Name:        namespacedName(svc.Name, tool.Name),
				Description: pstrings.TruncateToolDescription(descriptionFor(svc, tool), maxDescriptionLen),
				InputSchema: tool.InputSchema,
			})
		}
	}
	return out
}

// Resolve splits namespacedName on the first "." and returns the owning
// service and tool iff that tool is currently listed under that exact
// name. Returns ok=false for anything else (unknown service, disabled
// service/tool, or a name with no ".").
func (r *Registry) Resolve(namespacedName string) (ResolvedTool, bool) {
	serviceName, toolName, ok := splitNamespaced(namespacedName)
	if !ok {
		return ResolvedTool{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[serviceName]
	if !ok || !svc.Enabled {
		return ResolvedTool{}, false
	}

	for _, tool := range svc.Tools {
		if tool.Name == toolName && tool.Enabled {
			return ResolvedTool{Service: svc, Tool: tool}, true
		}
	}
	return ResolvedTool{}, false
}

func namespacedName(service, tool string) string {
	return service + "." + tool
}

// splitNamespaced splits on the first "." only, per spec.md §4.3.
func splitNamespaced(name string) (service, tool string, ok bool) {
	idx := strings.Index(name, ".")
	if idx <= 0 || idx == len(name)-1 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}

// descriptionFor prefixes the tool's own description with the service's
// display name, per spec.md §4.3.
func descriptionFor(svc config.ServiceDefinition, tool config.ToolDefinition) string {
	display := svc.DisplayName
	if display == "" {
		display = svc.Name
	}
	if tool.Description == "" {
		return "[" + display + "]"
	}
	return "[" + display + "] " + tool.Description
}
