// Package transport implements the Agent Transport (C8): the three
// ingress shapes — single-shot HTTP, bidirectional WebSocket, and SSE
// with a paired POST endpoint — all multiplexed into the one Dispatcher
// (C9). Grounded on giantswarm-muster/internal/aggregator/server.go's
// http.Server/ServeMux wiring and 30s SSE keepalive convention; mcp-go's
// own SSEServer/StreamableHTTPServer abstractions are built to host
// servers mcp-go itself defines and don't expose the per-request
// identity/policy hooks this gateway needs, so the three endpoints are
// hand-rolled directly against net/http and gorilla/websocket here.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/identity"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/session"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/upstream"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/pkg/logging"
)

// Dispatcher is the subset of the Dispatcher (C9) the transport needs.
type Dispatcher interface {
	Handle(ctx context.Context, user upstream.UserContext, raw []byte) []byte
}

// Verifier is the subset of the Identity Verifier (C1) the transport
// needs.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

const (
	sseKeepAliveInterval = 30 * time.Second
	sseCallTimeout       = 60 * time.Second
	wsCallTimeout        = 60 * time.Second
	httpCallTimeout      = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	// Agents originate from arbitrary hosts; same-origin checks are the
	// OAuth Facade's (C2) job, not the WebSocket handshake's.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Transport wires the three ingress shapes to a shared Dispatcher,
// Verifier, and agent session Registry. Notification delivery to a WS or
// SSE connection happens by draining that session's outbound queue
// directly; the Notification Router (C7) reaches the same queue from the
// upstream side via the session Registry, so Transport itself never
// calls through Router.
type Transport struct {
	dispatcher Dispatcher
	verifier   Verifier
	sessions   *session.Registry

	resourceMetadataURL string
}

// New builds a Transport.
func New(dispatcher Dispatcher, verifier Verifier, sessions *session.Registry, resourceMetadataURL string) *Transport {
	return &Transport{
		dispatcher:          dispatcher,
		verifier:            verifier,
		sessions:            sessions,
		resourceMetadataURL: resourceMetadataURL,
	}
}

// Register wires /mcp, /mcp/ws, /sse, /message, and /health into mux.
func (t *Transport) Register(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", t.handleHTTP)
	mux.HandleFunc("/mcp/ws", t.handleWebSocket)
	mux.HandleFunc("/sse", t.handleSSE)
	mux.HandleFunc("/message", t.handleMessage)
	mux.HandleFunc("/health", t.handleHealth)
}

func (t *Transport) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// authenticate extracts and verifies the bearer token, per spec.md §4.1.
// allowQueryToken permits the ?token= fallback, used only by GET /sse
// (the browser EventSource API cannot set headers).
func (t *Transport) authenticate(r *http.Request, allowQueryToken bool) (string, error) {
	token := bearerFromHeader(r)
	if token == "" && allowQueryToken {
		token = r.URL.Query().Get("token")
	}
	return t.verifier.Verify(r.Context(), token)
}

func bearerFromHeader(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

func (t *Transport) writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", identity.WWWAuthenticate(t.resourceMetadataURL, err))
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// handleHTTP implements POST /mcp: single request, single response.
func (t *Transport) handleHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := t.authenticate(r, false)
	if err != nil {
		t.writeUnauthorized(w, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), httpCallTimeout)
	defer cancel()

	out := t.dispatcher.Handle(ctx, upstream.UserContext{UserID: userID}, body)
	w.Header().Set("Content-Type", "application/json")
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	_, _ = w.Write(out)
}

// handleWebSocket implements WS /mcp/ws: auth on upgrade, then per-frame
// read → dispatch → write.
func (t *Transport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := t.authenticate(r, false)
	if err != nil {
		t.writeUnauthorized(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Transport", "WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	agentSession, err := t.sessions.GetOrCreate(sessionID, userID, "")
	if err != nil {
		logging.Warn("Transport", "Failed to create WS agent session: %v", err)
		return
	}
	defer t.sessions.Remove(sessionID)

	go t.pumpOutbound(conn, agentSession)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		agentSession.Touch()
		ctx, cancel := context.WithTimeout(r.Context(), wsCallTimeout)
		out := t.dispatcher.Handle(ctx, upstream.UserContext{UserID: userID, AgentSessionID: sessionID}, data)
		cancel()

		if out == nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			return
		}
	}
}

// pumpOutbound drains an agent session's outbound queue onto its
// WebSocket connection for the lifetime of the connection (spec.md §4.8:
// "Session is registered with the notification router for its lifetime"
// — here, delivery is direct since the WS connection and the session
// share a goroutine pair rather than going through Router.register).
func (t *Transport) pumpOutbound(conn *websocket.Conn, s *session.AgentSession) {
	for payload := range s.Outbound() {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// handleSSE implements GET /sse per spec.md §4.8: allocate a session,
// send the endpoint event, then pump the outbound queue as message
// events with periodic keepalive comments.
func (t *Transport) handleSSE(w http.ResponseWriter, r *http.Request) {
	userID, err := t.authenticate(r, true)
	if err != nil {
		t.writeUnauthorized(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID := uuid.NewString()
	agentSession, err := t.sessions.GetOrCreate(sessionID, userID, "")
	if err != nil {
		http.Error(w, "session limit exceeded", http.StatusServiceUnavailable)
		return
	}
	defer t.sessions.Remove(sessionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	endpointURL := absoluteURL(r, "/message?sessionId="+url.QueryEscape(sessionID))
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpointURL)
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepAliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		case payload, ok := <-agentSession.Outbound():
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func absoluteURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + path
}

// handleMessage implements POST /message?sessionId=...: dispatch the
// body and enqueue any response onto the session's outbound queue,
// returning 202 Accepted to the POST itself regardless.
func (t *Transport) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := t.authenticate(r, false)
	if err != nil {
		t.writeUnauthorized(w, err)
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	agentSession, ok := t.sessions.Get(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	agentSession.Touch()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), sseCallTimeout)
	defer cancel()

	out := t.dispatcher.Handle(ctx, upstream.UserContext{UserID: userID, AgentSessionID: sessionID}, body)
	if out != nil {
		if err := agentSession.Send(out); err != nil {
			logging.Warn("Transport", "SSE session %s outbound queue saturated, evicting", logging.TruncateSessionID(sessionID))
			t.sessions.Remove(sessionID)
		}
	}

	w.WriteHeader(http.StatusAccepted)
}
