package upstream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/config"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/registry"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/pkg/logging"
)

// CredentialFetcher is the subset of the Credential Injector (C5) the
// manager needs: fetch(service, operation, tenantId, userId).
type CredentialFetcher interface {
	Fetch(ctx context.Context, service, operation, tenantID, userID string) map[string]string
}

// NotificationSink receives upstream-initiated notifications, keyed by
// the agent session that owns the originating UpstreamSession (spec.md
// §4.7). Broadcast is the fallback used when no agent session id is
// known — an UpstreamSession created on an HTTP POST ingress has none.
type NotificationSink interface {
	Send(agentSessionID, method string, params interface{})
	Broadcast(method string, params interface{})
}

// UserContext identifies the caller a forwarded call is made on behalf
// of, per spec.md §3.
type UserContext struct {
	UserID         string
	TenantID       string
	AgentSessionID string
}

type sessionKey struct {
	service, userID string
}

// managedSession is one entry in the manager's keyed map: a live
// upstream connection plus the agent session id notifications should be
// routed back to.
type managedSession struct {
	client         Client
	agentSessionID string
	snapshot       config.ConnectionSnapshot
}

// Manager maintains the (serviceName, userId) → UpstreamSession mapping,
// grounded on giantswarm-muster/internal/aggregator/session_registry.go's
// double-checked-locking shape.
type Manager struct {
	credentials CredentialFetcher
	notify      NotificationSink

	mu       sync.RWMutex
	sessions map[sessionKey]*managedSession

	group singleflight.Group

	// dial constructs the transport client for a service. Overridable in
	// tests to avoid spawning real processes or dialing real sockets;
	// production callers always get dialTransport via New.
	dial func(ctx context.Context, svc config.ServiceDefinition, creds map[string]string) (Client, error)
}

// New builds a Manager.
func New(credentials CredentialFetcher, notify NotificationSink) *Manager {
	return &Manager{
		credentials: credentials,
		notify:      notify,
		sessions:    make(map[sessionKey]*managedSession),
		dial:        dialTransport,
	}
}

// dialTransport selects and constructs the Client for svc's configured
// transport, per spec.md §4.6's three strictly-partitioned creation
// paths.
func dialTransport(ctx context.Context, svc config.ServiceDefinition, creds map[string]string) (Client, error) {
	switch svc.Transport {
	case config.TransportStdio:
		command, args, env := stdioInvocation(svc.Command, svc.Args, creds)
		return NewStdioClient(svc.Name, command, args, env), nil
	case config.TransportHTTPStream:
		return NewHTTPStreamClient(svc.Endpoint, creds), nil
	case config.TransportWebSocket:
		return NewWebSocketClient(svc.Name, svc.Endpoint, creds), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", svc.Transport)
	}
}

// Forward builds a tools/call request against the resolved tool's
// service, reusing (or lazily creating) the session for
// (service, userId), and returns the MCP content blocks plus an
// "isError" flag. On any upstream failure, the session is evicted
// (spec.md §4.6).
func (m *Manager) Forward(ctx context.Context, resolved registry.ResolvedTool, args map[string]interface{}, user UserContext) (*mcp.CallToolResult, error) {
	key := sessionKey{service: resolved.Service.Name, userID: user.UserID}

	session, err := m.getOrCreate(ctx, key, resolved.Service, user)
	if err != nil {
		return nil, fmt.Errorf("acquiring session for %s: %w", resolved.Service.Name, err)
	}

	result, err := session.client.CallTool(ctx, resolved.Tool.Name, args)
	if err != nil {
		m.evict(key)
		return nil, fmt.Errorf("calling %s.%s: %w", resolved.Service.Name, resolved.Tool.Name, err)
	}
	return result, nil
}

// Discover lists the tools a service currently exposes, acquiring (or
// creating) the session for (service, userId) first.
func (m *Manager) Discover(ctx context.Context, service config.ServiceDefinition, user UserContext) ([]mcp.Tool, error) {
	key := sessionKey{service: service.Name, userID: user.UserID}

	session, err := m.getOrCreate(ctx, key, service, user)
	if err != nil {
		return nil, err
	}

	tools, err := session.client.ListTools(ctx)
	if err != nil {
		m.evict(key)
		return nil, err
	}
	return tools, nil
}

// getOrCreate returns the existing session for key or creates one.
// Concurrent first-use races are collapsed with singleflight so only one
// goroutine actually dials; the rest wait on its result (the
// double-checked-locking contract of spec.md §4.6's "Lazy creation").
func (m *Manager) getOrCreate(ctx context.Context, key sessionKey, svc config.ServiceDefinition, user UserContext) (*managedSession, error) {
	m.mu.RLock()
	if s, ok := m.sessions[key]; ok {
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	groupKey := key.service + "\x00" + key.userID
	result, err, _ := m.group.Do(groupKey, func() (interface{}, error) {
		m.mu.RLock()
		if s, ok := m.sessions[key]; ok {
			m.mu.RUnlock()
			return s, nil
		}
		m.mu.RUnlock()

		session, err := m.create(ctx, svc, user)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		if existing, ok := m.sessions[key]; ok {
			m.mu.Unlock()
			_ = session.client.Close()
			return existing, nil
		}
		m.sessions[key] = session
		m.mu.Unlock()

		logging.Info("Upstream", "Created session for service=%s user=%s", svc.Name, logging.TruncateSessionID(user.UserID))
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*managedSession), nil
}

// create dials the upstream service using the transport factory matching
// its configuration, injecting credentials along the way.
func (m *Manager) create(ctx context.Context, svc config.ServiceDefinition, user UserContext) (*managedSession, error) {
	var creds map[string]string
	if svc.RequiresCredentials {
		creds = m.credentials.Fetch(ctx, svc.Name, "connect", user.TenantID, user.UserID)
	}

	client, err := m.dial(ctx, svc, creds)
	if err != nil {
		return nil, err
	}

	if err := client.Initialize(ctx); err != nil {
		return nil, err
	}

	session := &managedSession{client: client, agentSessionID: user.AgentSessionID, snapshot: svc.Snapshot()}

	client.OnNotification(func(n mcp.JSONRPCNotification) {
		m.routeNotification(session, n)
	})

	return session, nil
}

func (m *Manager) routeNotification(session *managedSession, n mcp.JSONRPCNotification) {
	if session.agentSessionID == "" {
		m.notify.Broadcast(n.Method, n.Params)
		return
	}
	m.notify.Send(session.agentSessionID, n.Method, n.Params)
}

// stdioInvocation applies spec.md §4.6's credential-injection rule: if
// the command is a container launcher (first two tokens "docker run"),
// splice "-e KEY=VALUE" pairs immediately after "run"; otherwise set
// them in the child's environment.
func stdioInvocation(command string, args []string, creds map[string]string) (string, []string, map[string]string) {
	if len(creds) == 0 {
		return command, args, nil
	}

	if isDockerRun(command, args) {
		injected := make([]string, 0, len(args)+len(creds)*2)
		injected = append(injected, args[0])
		for k, v := range creds {
			injected = append(injected, "-e", fmt.Sprintf("%s=%s", k, v))
		}
		injected = append(injected, args[1:]...)
		return command, injected, nil
	}

	return command, args, creds
}

// isDockerRun matches spec.md §4.6's heuristic: the command is "docker"
// (or ends in "/docker") and the first argument is "run".
func isDockerRun(command string, args []string) bool {
	base := command
	if idx := strings.LastIndex(command, "/"); idx >= 0 {
		base = command[idx+1:]
	}
	return base == "docker" && len(args) > 0 && args[0] == "run"
}

func (m *Manager) evict(key sessionKey) {
	m.mu.Lock()
	session, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if ok {
		if err := session.client.Close(); err != nil {
			logging.Debug("Upstream", "Error closing evicted session for %s: %v", key.service, err)
		}
		logging.Debug("Upstream", "Evicted session for service=%s user=%s", key.service, logging.TruncateSessionID(key.userID))
	}
}

// EvictStale closes and removes every session whose service was removed,
// was disabled, or whose connection fields (transport/command/endpoint)
// changed in newConfig — the next call recreates it against the new
// configuration, per spec.md §4.6. A disabled service is treated the
// same as a removed one: it is simply left out of next, so the existing
// "not found" branch evicts it.
func (m *Manager) EvictStale(newConfig []config.ServiceDefinition) {
	next := make(map[string]config.ConnectionSnapshot, len(newConfig))
	for _, svc := range newConfig {
		if !svc.Enabled {
			continue
		}
		next[svc.Name] = svc.Snapshot()
	}

	m.mu.Lock()
	var stale []sessionKey
	var toClose []Client
	for key, session := range m.sessions {
		current, ok := next[key.service]
		if !ok || current != session.snapshot {
			stale = append(stale, key)
			toClose = append(toClose, session.client)
		}
	}
	for _, key := range stale {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	for _, c := range toClose {
		_ = c.Close()
	}
	if len(stale) > 0 {
		logging.Info("Upstream", "Evicted %d stale sessions after config reload", len(stale))
	}
}

// Shutdown closes every managed session. Intended for graceful process
// shutdown.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[sessionKey]*managedSession)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(c Client) {
			defer wg.Done()
			_ = c.Close()
		}(s.client)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn("Upstream", "Shutdown timed out waiting for %d sessions to close", len(sessions))
	case <-time.After(10 * time.Second):
		logging.Warn("Upstream", "Shutdown timed out waiting for sessions to close")
	}
}
