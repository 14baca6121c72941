package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://idp.example.com/realms/gateway"

// newTestJWKSServer signs with a fresh RSA key and serves its public JWKS,
// returning the server, the key id and the private key to sign tokens with.
func newTestJWKSServer(t *testing.T) (*httptest.Server, string, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.FromRaw(key.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, "test-kid"))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, "RS256"))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(set))
	}))

	return server, "test-kid", key
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestVerifier_ValidToken(t *testing.T) {
	server, kid, key := newTestJWKSServer(t)
	defer server.Close()

	v, err := NewVerifier(context.Background(), Config{Issuer: testIssuer, JWKSURL: server.URL})
	require.NoError(t, err)

	token := signToken(t, key, kid, jwt.MapClaims{
		"iss": testIssuer,
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	sub, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "user-123", sub)
}

func TestVerifier_MissingCredential(t *testing.T) {
	server, _, _ := newTestJWKSServer(t)
	defer server.Close()

	v, err := NewVerifier(context.Background(), Config{Issuer: testIssuer, JWKSURL: server.URL})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), "")
	require.ErrorIs(t, err, ErrMissingCredential)
}

func TestVerifier_ExpiredToken(t *testing.T) {
	server, kid, key := newTestJWKSServer(t)
	defer server.Close()

	v, err := NewVerifier(context.Background(), Config{Issuer: testIssuer, JWKSURL: server.URL})
	require.NoError(t, err)

	token := signToken(t, key, kid, jwt.MapClaims{
		"iss": testIssuer,
		"sub": "user-123",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err = v.Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerifier_IssuerMismatch(t *testing.T) {
	server, kid, key := newTestJWKSServer(t)
	defer server.Close()

	v, err := NewVerifier(context.Background(), Config{Issuer: testIssuer, JWKSURL: server.URL})
	require.NoError(t, err)

	token := signToken(t, key, kid, jwt.MapClaims{
		"iss": "https://some-other-issuer.example.com",
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err = v.Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrIssuerMismatch)
}

func TestVerifier_UnknownKid(t *testing.T) {
	server, _, key := newTestJWKSServer(t)
	defer server.Close()

	v, err := NewVerifier(context.Background(), Config{Issuer: testIssuer, JWKSURL: server.URL})
	require.NoError(t, err)

	token := signToken(t, key, "unknown-kid", jwt.MapClaims{
		"iss": testIssuer,
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err = v.Verify(context.Background(), token)
	require.Error(t, err)
}

func TestWWWAuthenticate(t *testing.T) {
	header := WWWAuthenticate("https://gateway.example.com/.well-known/oauth-protected-resource", ErrExpired)
	require.Contains(t, header, "Bearer")
	require.Contains(t, header, "resource_metadata=")
	require.Contains(t, header, "error=")
}
