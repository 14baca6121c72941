// Package credentials implements the Credential Injector (C5): the only
// component that speaks to the external credential service, with a
// per-(service,tenant,user) TTL cache. Grounded on the cache-with-lock
// shape used throughout the teacher (e.g. the JWKS-style cache in
// stacklok-toolhive's pkg/auth/jwt.go) and on the external HTTP call
// pattern shared with internal/policy.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/pkg/logging"
)

// Config configures the Injector.
type Config struct {
	Endpoint string
	TTL      time.Duration
	Timeout  time.Duration
}

type cacheKey struct {
	service, tenantID, userID string
}

type cacheEntry struct {
	values    map[string]string
	expiresAt time.Time
}

// Injector fetches and caches field→value credential mappings.
type Injector struct {
	endpoint string
	ttl      time.Duration
	client   *http.Client

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

// New builds an Injector. A zero TTL disables caching.
func New(cfg Config) *Injector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Injector{
		endpoint: cfg.Endpoint,
		ttl:      cfg.TTL,
		client:   &http.Client{Timeout: timeout},
		cache:    make(map[cacheKey]cacheEntry),
	}
}

type fetchRequest struct {
	Service   string `json:"service"`
	Operation string `json:"operation"`
	TenantID  string `json:"tenantId"`
	UserID    string `json:"userId"`
}

type fetchResponse struct {
	Credentials map[string]string `json:"credentials"`
}

// Fetch returns the field→value credential mapping for (service, operation,
// tenantId, userId). Per spec.md §4.5, any failure is logged and an empty
// map is returned — callers proceed without credentials rather than fail
// the call outright. Secrets are never logged.
func (inj *Injector) Fetch(ctx context.Context, service, operation, tenantID, userID string) map[string]string {
	key := cacheKey{service: service, tenantID: tenantID, userID: userID}

	if inj.ttl > 0 {
		inj.mu.RLock()
		entry, ok := inj.cache[key]
		inj.mu.RUnlock()
		if ok && time.Now().Before(entry.expiresAt) {
			return entry.values
		}
	}

	values, err := inj.fetch(ctx, service, operation, tenantID, userID)
	if err != nil {
		logging.Warn("Credentials", "Fetch failed for service=%s tenant=%s user=%s: %v", service, tenantID, userID, err)
		return map[string]string{}
	}

	if inj.ttl > 0 {
		inj.mu.Lock()
		inj.cache[key] = cacheEntry{values: values, expiresAt: time.Now().Add(inj.ttl)}
		inj.mu.Unlock()
	}

	return values
}

func (inj *Injector) fetch(ctx context.Context, service, operation, tenantID, userID string) (map[string]string, error) {
	body, err := json.Marshal(fetchRequest{Service: service, Operation: operation, TenantID: tenantID, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inj.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := inj.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling credential service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("credential service status %d", resp.StatusCode)
	}

	var out fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return out.Credentials, nil
}
