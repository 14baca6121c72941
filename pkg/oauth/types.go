// Package oauth holds the wire types the OAuth Facade (C2) serves: RFC
// 8414/9728 metadata and RFC 7591 client metadata. Trimmed from the
// teacher's pkg/oauth/types.go, which additionally carried a full OAuth
// *client* (token storage, SSO status display, golang.org/x/oauth2
// conversion, WWW-Authenticate challenge parsing, PKCE generation) for
// its own CLI auth-login flow — none of that has a caller in a
// pass-through facade that never initiates an auth flow or stores a
// token itself.
package oauth

// Metadata represents OAuth 2.0 Authorization Server Metadata as defined
// in RFC 8414, served by the OAuth Facade's
// /.well-known/oauth-authorization-server endpoint.
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
}

// ProtectedResourceMetadata represents RFC 9728 Protected Resource
// Metadata, served by /.well-known/oauth-protected-resource.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
}

// ClientMetadata represents OAuth 2.0 Client Metadata as defined in RFC
// 7591, returned by the OAuth Facade's /register endpoint.
type ClientMetadata struct {
	ClientID                string   `json:"client_id"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}
