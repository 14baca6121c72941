package gateway

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMinimalConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/services.yaml"
	require.NoError(t, os.WriteFile(path, []byte("services: []\n"), 0o644))
	return path
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
}

func TestFromEnv_OverridesFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("HOST", "127.0.0.1")
	cfg := FromEnv()
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.Host)
}

func TestNew_BuildsServerFromValidConfig(t *testing.T) {
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"keys":[]}`))
	}))
	defer jwks.Close()

	cfg := FromEnv()
	cfg.ConfigPath = writeMinimalConfig(t)
	cfg.Port = 0
	cfg.KeycloakInternalURL = jwks.URL
	cfg.KeycloakIssuer = jwks.URL + "/realms/noumena"

	srv, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, srv)

	srv.shutdown()
}

func TestNew_FailsOnMissingConfig(t *testing.T) {
	cfg := FromEnv()
	cfg.ConfigPath = "/nonexistent/path/services.yaml"

	_, err := New(cfg)
	assert.Error(t, err)
}
