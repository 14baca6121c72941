// Package oauthfacade implements the OAuth Facade (C2): a thin
// same-origin proxy in front of an external OAuth provider, so an agent
// that can only trust its own origin can still complete an
// Authorization Code + PKCE flow. Grounded on the route shape of
// giantswarm-muster/internal/server/oauth_http.go's setupOAuthRoutes —
// that file's actual token handling goes through
// github.com/giantswarm/mcp-oauth, a private module unavailable outside
// the teacher's org, so the handlers here are written directly against
// net/http and pkg/oauth's wire types instead.
package oauthfacade

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/pkg/logging"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/pkg/oauth"
)

// Config carries the two identity-provider locators spec.md §9 calls
// out as never to be crossed: the internally reachable URL (fetches
// keys, proxies /token) and the externally/browser reachable one
// (where /authorize redirects to).
type Config struct {
	// PublicURL is this gateway's own origin, as seen by the agent.
	// It is the `resource` and `issuer` of the metadata documents and
	// the base of the authorization_endpoint/token_endpoint/
	// registration_endpoint URLs.
	PublicURL string

	// ProviderInternalURL is the identity provider's internal base URL,
	// used to proxy POST /token.
	ProviderInternalURL string
	// ProviderExternalURL is the identity provider's externally
	// reachable base URL, used to build the 302 target for /authorize.
	ProviderExternalURL string

	// AuthorizePath and TokenPath are appended to the provider base
	// URLs to locate its actual endpoints (e.g.
	// "/realms/foo/protocol/openid-connect/auth").
	AuthorizePath string
	TokenPath     string

	// PublicClientID is echoed back from /register.
	PublicClientID string
}

// Facade registers the five OAuth-adjacent routes.
type Facade struct {
	cfg    Config
	client *http.Client
}

// New builds a Facade.
func New(cfg Config) *Facade {
	return &Facade{cfg: cfg, client: http.DefaultClient}
}

// Register wires the facade's routes into mux.
func (f *Facade) Register(mux *http.ServeMux) {
	mux.HandleFunc("/.well-known/oauth-protected-resource", f.handleProtectedResourceMetadata)
	mux.HandleFunc("/.well-known/oauth-protected-resource/", f.handleProtectedResourceMetadata)
	mux.HandleFunc("/.well-known/oauth-authorization-server", f.handleAuthorizationServerMetadata)
	mux.HandleFunc("/.well-known/oauth-authorization-server/", f.handleAuthorizationServerMetadata)
	mux.HandleFunc("/authorize", f.handleAuthorize)
	mux.HandleFunc("/token", f.handleToken)
	mux.HandleFunc("/register", f.handleRegister)
}

// handleProtectedResourceMetadata serves RFC 9728 metadata identifying
// this gateway as the protected resource and itself as the (only)
// authorization server an agent needs to know about.
func (f *Facade) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, oauth.ProtectedResourceMetadata{
		Resource:               f.cfg.PublicURL,
		AuthorizationServers:   []string{f.cfg.PublicURL},
		BearerMethodsSupported: []string{"header", "query"},
	})
}

// handleAuthorizationServerMetadata serves RFC 8414 metadata. Every
// endpoint points back at this origin: the agent never learns the real
// provider's URL.
func (f *Facade) handleAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, oauth.Metadata{
		Issuer:                            f.cfg.PublicURL,
		AuthorizationEndpoint:             f.cfg.PublicURL + "/authorize",
		TokenEndpoint:                     f.cfg.PublicURL + "/token",
		RegistrationEndpoint:              f.cfg.PublicURL + "/register",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"none"},
		CodeChallengeMethodsSupported:     []string{"S256"},
	})
}

// handleAuthorize redirects the browser to the provider's externally
// reachable authorization endpoint, preserving the full query string
// (client_id, redirect_uri, code_challenge, state, ...) untouched.
func (f *Facade) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSuffix(f.cfg.ProviderExternalURL, "/") + f.cfg.AuthorizePath
	u, err := url.Parse(target)
	if err != nil {
		http.Error(w, "misconfigured authorization endpoint", http.StatusInternalServerError)
		return
	}
	u.RawQuery = r.URL.RawQuery
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// handleToken proxies the token exchange to the provider's internal
// endpoint and passes the response through verbatim, preserving status
// code, content type, and body. This is the one leg of the flow the
// browser never reaches directly: server-to-server, so the internal
// (possibly cluster-local) URL is safe to use.
func (f *Facade) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	target := strings.TrimSuffix(f.cfg.ProviderInternalURL, "/") + f.cfg.TokenPath
	proxyReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target, strings.NewReader(string(body)))
	if err != nil {
		http.Error(w, "building upstream request", http.StatusInternalServerError)
		return
	}
	proxyReq.Header.Set("Content-Type", r.Header.Get("Content-Type"))
	proxyReq.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(proxyReq)
	if err != nil {
		logging.Warn("OAuthFacade", "Token proxy request to %s failed: %v", target, err)
		http.Error(w, "token endpoint unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logging.Warn("OAuthFacade", "Failed to stream token response: %v", err)
	}
}

// registerRequest is the subset of RFC 7591 dynamic client registration
// fields this facade reads: only redirect_uris varies per client, since
// every client shares the one configured public client id.
type registerRequest struct {
	RedirectURIs []string `json:"redirect_uris"`
	ClientName   string   `json:"client_name,omitempty"`
}

// handleRegister echoes a dynamic-registration response built around
// the one configured public client id: this facade does not mint new
// client identities, it reflects the provider's single pre-registered
// public client back to every agent that asks.
func (f *Facade) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed registration request", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, oauth.ClientMetadata{
		ClientID:                f.cfg.PublicClientID,
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn("OAuthFacade", "Failed to encode response: %v", err)
	}
}
