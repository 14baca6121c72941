// Package policy implements the Policy Gate (C4): an external-HTTP
// decision call per tools/call, fail-closed on any transport, timeout, or
// parse error. Wire shape grounded on stacklok-toolhive's
// pkg/authz/authorizers/http DecisionResponse.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/pkg/logging"
)

// ErrPolicyUnavailable is returned for any transport failure, timeout, or
// malformed response — the fail-closed path (spec.md §4.4).
var ErrPolicyUnavailable = fmt.Errorf("policy engine unavailable")

// decisionRequest is the outbound request body.
type decisionRequest struct {
	Service string `json:"service"`
	Tool    string `json:"tool"`
	UserID  string `json:"userId"`
}

// DecisionResponse is the policy engine's response shape.
type DecisionResponse struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// Gate evaluates tools/call requests against an external policy engine.
type Gate struct {
	endpoint string
	client   *http.Client
}

// Config configures the Gate.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// New builds a Gate calling Endpoint for every decision, with requests
// bounded by Timeout (default 5s).
func New(cfg Config) *Gate {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gate{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Evaluate asks the policy engine whether (service, tool, userId) may
// proceed. Any transport error, non-2xx status, or unparseable body
// returns ErrPolicyUnavailable — the caller must treat that as a deny,
// per spec.md §4.4's fail-closed contract.
func (g *Gate) Evaluate(ctx context.Context, service, tool, userID string) (DecisionResponse, error) {
	body, err := json.Marshal(decisionRequest{Service: service, Tool: tool, UserID: userID})
	if err != nil {
		return DecisionResponse{}, fmt.Errorf("%w: encoding request: %v", ErrPolicyUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return DecisionResponse{}, fmt.Errorf("%w: building request: %v", ErrPolicyUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		logging.Warn("Policy", "Policy engine call failed for %s.%s: %v", service, tool, err)
		return DecisionResponse{}, fmt.Errorf("%w: %v", ErrPolicyUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.Warn("Policy", "Policy engine returned status %d for %s.%s", resp.StatusCode, service, tool)
		return DecisionResponse{}, fmt.Errorf("%w: status %d", ErrPolicyUnavailable, resp.StatusCode)
	}

	var decision DecisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		logging.Warn("Policy", "Malformed policy response for %s.%s: %v", service, tool, err)
		return DecisionResponse{}, fmt.Errorf("%w: parsing response: %v", ErrPolicyUnavailable, err)
	}

	return decision, nil
}
