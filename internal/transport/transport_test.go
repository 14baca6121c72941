package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/session"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/upstream"
)

type echoDispatcher struct{}

func (echoDispatcher) Handle(ctx context.Context, user upstream.UserContext, raw []byte) []byte {
	if strings.Contains(string(raw), `"method":"notifications/initialized"`) {
		return nil
	}
	return []byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`)
}

type fakeVerifier struct {
	subject string
	err     error
}

func (f fakeVerifier) Verify(ctx context.Context, token string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if token == "" {
		return "", assertMissingCredential
	}
	return f.subject, nil
}

var assertMissingCredential = &missingCredentialError{}

type missingCredentialError struct{}

func (*missingCredentialError) Error() string { return "missing credential" }

func newTestTransport() (*Transport, *session.Registry) {
	sessions := session.NewRegistry(0, 0)
	tr := New(echoDispatcher{}, fakeVerifier{subject: "user-1"}, sessions, "https://gateway.example.com/.well-known/oauth-protected-resource")
	return tr, sessions
}

func TestHandleHTTP_RequiresBearerToken(t *testing.T) {
	tr, _ := newTestTransport()
	mux := http.NewServeMux()
	tr.Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "oauth-protected-resource")
}

func TestHandleHTTP_DispatchesAndReturnsResponse(t *testing.T) {
	tr, _ := newTestTransport()
	mux := http.NewServeMux()
	tr.Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	req.Header.Set("Authorization", "Bearer faketoken")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
}

func TestHandleHealth_IsPublic(t *testing.T) {
	tr, _ := newTestTransport()
	mux := http.NewServeMux()
	tr.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandleMessage_UnknownSessionIsNotFound(t *testing.T) {
	tr, _ := newTestTransport()
	mux := http.NewServeMux()
	tr.Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/message?sessionId=bogus", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer faketoken")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleMessage_EnqueuesResponseOnSessionQueue(t *testing.T) {
	tr, sessions := newTestTransport()
	mux := http.NewServeMux()
	tr.Register(mux)

	agentSession, err := sessions.GetOrCreate("sess-1", "user-1", "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/message?sessionId=sess-1", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	req.Header.Set("Authorization", "Bearer faketoken")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case payload := <-agentSession.Outbound():
		assert.Contains(t, string(payload), `"ok":true`)
	case <-time.After(time.Second):
		t.Fatal("expected dispatcher response enqueued on session outbound queue")
	}
}

func TestAbsoluteURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://gateway.example.com/sse", nil)
	got := absoluteURL(req, "/message?sessionId=abc")
	assert.Equal(t, "http://gateway.example.com/message?sessionId=abc", got)
}
