// Package gateway wires the nine components (C1-C9) into one running
// process: load config, build the Identity Verifier, Tool Registry,
// Policy Gate, Credential Injector, Upstream Session Manager,
// Notification Router, Agent Session Registry, Dispatcher, Agent
// Transport, and OAuth Facade, then serve HTTP until told to stop.
// Grounded on giantswarm-muster/internal/aggregator/server.go's
// Start/Stop lifecycle and its systemd socket-activation fallback.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/activation"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/config"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/credentials"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/dispatcher"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/identity"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/notify"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/oauthfacade"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/policy"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/registry"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/session"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/transport"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/upstream"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/pkg/logging"
)

// Config collects everything read from the environment at startup
// (spec.md §6).
type Config struct {
	Host string
	Port int

	ConfigPath string

	KeycloakInternalURL string // JWKS fetch + token proxy target
	KeycloakExternalURL string // browser-visible authorize redirect target
	KeycloakRealm       string
	KeycloakIssuer      string
	KeycloakClientID    string

	PolicyEndpoint     string
	CredentialEndpoint string

	SessionIdleTimeout time.Duration
	MaxAgentSessions   int
}

// FromEnv builds a Config from the process environment, applying the
// defaults spec.md §6 names.
func FromEnv() Config {
	cfg := Config{
		Host:                getenv("HOST", "0.0.0.0"),
		Port:                getenvInt("PORT", 8080),
		ConfigPath:          getenv("CONFIG_PATH", "/etc/noumena-gateway/services"),
		KeycloakInternalURL: getenv("KEYCLOAK_URL", "http://keycloak:8080"),
		KeycloakExternalURL: getenv("KEYCLOAK_EXTERNAL_URL", getenv("KEYCLOAK_URL", "http://keycloak:8080")),
		KeycloakRealm:       getenv("KEYCLOAK_REALM", "noumena"),
		KeycloakClientID:    getenv("KEYCLOAK_CLIENT_ID", "noumena-gateway"),
		PolicyEndpoint:      getenv("POLICY_ENDPOINT", ""),
		CredentialEndpoint:  getenv("CREDENTIAL_ENDPOINT", ""),
		SessionIdleTimeout:  getenvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		MaxAgentSessions:    getenvInt("MAX_AGENT_SESSIONS", 1000),
	}
	cfg.KeycloakIssuer = getenv("KEYCLOAK_ISSUER", cfg.KeycloakInternalURL+"/realms/"+cfg.KeycloakRealm)
	return cfg
}

// Server owns the assembled components and the listening HTTP servers.
type Server struct {
	cfg Config

	cfgManager  *config.Manager
	upstreamMgr *upstream.Manager
	sessions    *session.Registry

	servers []*http.Server
}

// New assembles every component per the wiring order spec.md §4 and
// §6 describe: config first (everything downstream needs the initial
// snapshot), then the independent C1/C4/C5, then C3/C6/C7 which depend
// on config and on each other, then C9/C8/C2 on top.
func New(cfg Config) (*Server, error) {
	cfgManager, err := config.NewManager(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	verifier, err := identity.NewVerifier(context.Background(), identity.Config{
		Issuer:  cfg.KeycloakIssuer,
		JWKSURL: cfg.KeycloakInternalURL + "/realms/" + cfg.KeycloakRealm + "/protocol/openid-connect/certs",
	})
	if err != nil {
		return nil, fmt.Errorf("building identity verifier: %w", err)
	}

	gate := policy.New(policy.Config{Endpoint: cfg.PolicyEndpoint})
	injector := credentials.New(credentials.Config{Endpoint: cfg.CredentialEndpoint, TTL: 5 * time.Minute})

	sessions := session.NewRegistry(cfg.SessionIdleTimeout, cfg.MaxAgentSessions)
	router := notify.New(sessions)

	upstreamMgr := upstream.New(injector, router)
	cfgManager.OnReload(upstreamMgr.EvictStale)

	toolRegistry := registry.New(cfgManager)

	disp := dispatcher.New(toolRegistry, gate, upstreamMgr)

	resourceMetadataURL := fmt.Sprintf("%s/.well-known/oauth-protected-resource", publicURL(cfg))
	agentTransport := transport.New(disp, verifier, sessions, resourceMetadataURL)

	facade := oauthfacade.New(oauthfacade.Config{
		PublicURL:           publicURL(cfg),
		ProviderInternalURL: cfg.KeycloakInternalURL,
		ProviderExternalURL: cfg.KeycloakExternalURL,
		AuthorizePath:       "/realms/" + cfg.KeycloakRealm + "/protocol/openid-connect/auth",
		TokenPath:           "/realms/" + cfg.KeycloakRealm + "/protocol/openid-connect/token",
		PublicClientID:      cfg.KeycloakClientID,
	})

	mux := http.NewServeMux()
	agentTransport.Register(mux)
	facade.Register(mux)

	if err := cfgManager.WatchForChanges(); err != nil {
		logging.Warn("Gateway", "Config hot-reload watch failed to start: %v", err)
	}

	return &Server{
		cfg:         cfg,
		cfgManager:  cfgManager,
		upstreamMgr: upstreamMgr,
		sessions:    sessions,
		servers:     []*http.Server{{Handler: mux}},
	}, nil
}

func publicURL(cfg Config) string {
	if v := os.Getenv("PUBLIC_URL"); v != "" {
		return v
	}
	return fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
}

// Run binds the listen socket (or reuses a systemd-activated one) and
// serves until ctx is cancelled, then shuts down in this order: shut
// down the HTTP servers (no new agent connections), stop the config watch
// and the idle-session sweep, close upstream sessions last. There is no
// separate log-flush step.
func (s *Server) Run(ctx context.Context) error {
	listeners, err := s.listeners()
	if err != nil {
		return fmt.Errorf("acquiring listen socket: %w", err)
	}

	errCh := make(chan error, len(listeners))
	for i, l := range listeners {
		srv := s.servers[0]
		go func(l net.Listener, index int) {
			if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("listener %d: %w", index, err)
				return
			}
			errCh <- nil
		}(l, i)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			s.shutdown()
			return err
		}
	}

	s.shutdown()
	return nil
}

func (s *Server) listeners() ([]net.Listener, error) {
	listenersWithNames, err := activation.ListenersWithNames()
	if err == nil && len(listenersWithNames) > 0 {
		var out []net.Listener
		for name, ls := range listenersWithNames {
			for _, l := range ls {
				logging.Info("Gateway", "Using systemd-activated listener %s", name)
				out = append(out, l)
			}
		}
		if len(out) > 0 {
			return out, nil
		}
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	logging.Info("Gateway", "Listening on %s", addr)
	return []net.Listener{l}, nil
}

func (s *Server) shutdown() {
	logging.Info("Gateway", "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range s.servers {
		_ = srv.Shutdown(shutdownCtx)
	}

	s.cfgManager.Stop()
	s.sessions.Stop()
	s.upstreamMgr.Shutdown(shutdownCtx)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
