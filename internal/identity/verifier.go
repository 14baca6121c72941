// Package identity implements the Identity Verifier (C1): bearer-token
// validation against an external OIDC provider's published JWKS, grounded
// on stacklok-toolhive/pkg/auth/jwt.go's JWTValidator.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/pkg/logging"
)

// Sentinel errors mapped by the caller to 401 + WWW-Authenticate, per
// spec.md §4.1.
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrIssuerMismatch    = errors.New("issuer mismatch")
	ErrExpired           = errors.New("token expired")
)

// Config configures the verifier.
type Config struct {
	// Issuer is the exact issuer string the token's "iss" claim must equal.
	Issuer string
	// JWKSURL is the provider's internal (proxy-reachable) key endpoint.
	JWKSURL string
	// ClockLeeway allows a few seconds of skew between proxy and provider clocks.
	ClockLeeway time.Duration
	// CacheTTL is how long fetched keys are cached before a scheduled refresh (default 24h).
	CacheTTL time.Duration
	// MaxRefetchPerMinute rate-limits unscheduled refetches (default 10/min).
	MaxRefetchPerMinute int
}

// Verifier validates bearer tokens and extracts the subject.
type Verifier struct {
	cfg     Config
	cache   *jwk.Cache
	limiter *refetchLimiter
}

// NewVerifier registers the JWKS URL with a caching key set and returns a
// ready-to-use Verifier. The cache refreshes keys on its own schedule
// (CacheTTL) and exposes an on-demand refetch path that the limiter bounds.
func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	if cfg.ClockLeeway <= 0 {
		cfg.ClockLeeway = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.MaxRefetchPerMinute <= 0 {
		cfg.MaxRefetchPerMinute = 10
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(cfg.CacheTTL)); err != nil {
		return nil, fmt.Errorf("registering JWKS URL: %w", err)
	}
	// Prime the cache so the first request doesn't pay the fetch latency
	// while also surfacing a misconfigured JWKS URL at startup.
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}

	return &Verifier{
		cfg:     cfg,
		cache:   cache,
		limiter: newRefetchLimiter(cfg.MaxRefetchPerMinute),
	}, nil
}

// Verify validates a raw bearer token string and returns the subject.
func (v *Verifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMissingCredential
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyFunc(ctx), jwt.WithLeeway(v.cfg.ClockLeeway))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpired
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidSignature
	}

	issuer, err := claims.GetIssuer()
	if err != nil || issuer != v.cfg.Issuer {
		return "", ErrIssuerMismatch
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("%w: missing subject claim", ErrInvalidSignature)
	}

	return subject, nil
}

// keyFunc resolves the signing key by "kid", refetching the JWKS (subject
// to the rate limiter) if the key isn't in the current cached set — covers
// provider key rotation.
func (v *Verifier) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("token missing kid header")
		}

		set, err := v.cache.Get(ctx, v.cfg.JWKSURL)
		if err != nil {
			return nil, fmt.Errorf("fetching JWKS: %w", err)
		}

		key, ok := set.LookupKeyID(kid)
		if !ok {
			if !v.limiter.allow() {
				return nil, fmt.Errorf("key %q not found and refetch rate-limited", kid)
			}
			set, err = v.cache.Refresh(ctx, v.cfg.JWKSURL)
			if err != nil {
				return nil, fmt.Errorf("refetching JWKS: %w", err)
			}
			key, ok = set.LookupKeyID(kid)
			if !ok {
				return nil, fmt.Errorf("key %q not found after refetch", kid)
			}
		}

		var raw interface{}
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("materializing key %q: %w", kid, err)
		}
		return raw, nil
	}
}

// refetchLimiter bounds unscheduled JWKS refetches to MaxRefetchPerMinute,
// per spec.md §4.1.
type refetchLimiter struct {
	mu        sync.Mutex
	max       int
	count     int
	windowEnd time.Time
}

func newRefetchLimiter(max int) *refetchLimiter {
	return &refetchLimiter{max: max, windowEnd: time.Now().Add(time.Minute)}
}

func (l *refetchLimiter) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.windowEnd) {
		l.count = 0
		l.windowEnd = now.Add(time.Minute)
	}
	if l.count >= l.max {
		logging.Warn("Identity", "JWKS refetch rate limit reached (%d/min)", l.max)
		return false
	}
	l.count++
	return true
}
