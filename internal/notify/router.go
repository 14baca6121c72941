// Package notify implements the Notification Router (C7): delivers
// server-initiated notifications from an upstream session to the
// originating agent session (or broadcasts to all), with best-effort
// delivery and unregister-on-failure. Grounded on the teacher's
// NotifySession*Changed / SendNotificationToSpecificClient pattern in
// internal/aggregator/server.go.
package notify

import (
	"encoding/json"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/internal/session"
	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/pkg/logging"
)

// jsonRPCNotification is an outbound server-initiated message; per JSON-RPC
// 2.0, notifications carry no "id".
type jsonRPCNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Router fans out notifications to agent sessions.
type Router struct {
	sessions *session.Registry
}

// New builds a Router over the given agent session registry.
func New(sessions *session.Registry) *Router {
	return &Router{sessions: sessions}
}

// Send delivers method/params to the single agent session sessionID. If
// the session's outbound queue is saturated or the session is unknown,
// the session is dropped (or the send is a no-op if already gone) — this
// is best-effort delivery, per spec.md §4.7.
func (r *Router) Send(sessionID, method string, params interface{}) {
	s, ok := r.sessions.Get(sessionID)
	if !ok {
		logging.Debug("Notify", "Dropping %s: session %s not found", method, logging.TruncateSessionID(sessionID))
		return
	}

	payload, err := json.Marshal(jsonRPCNotification{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		logging.Warn("Notify", "Failed to encode %s for session %s: %v", method, logging.TruncateSessionID(sessionID), err)
		return
	}

	if err := s.Send(payload); err != nil {
		logging.Warn("Notify", "Delivery to session %s failed, evicting: %v", logging.TruncateSessionID(sessionID), err)
		r.sessions.Remove(sessionID)
	}
}

// Broadcast delivers method/params to every currently connected agent
// session. Used when an upstream notification cannot be attributed to a
// single originating session (spec.md §4.7's fallback path).
func (r *Router) Broadcast(method string, params interface{}) {
	payload, err := json.Marshal(jsonRPCNotification{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		logging.Warn("Notify", "Failed to encode broadcast %s: %v", method, err)
		return
	}

	for _, s := range r.sessions.All() {
		if err := s.Send(payload); err != nil {
			logging.Warn("Notify", "Broadcast to session %s failed, evicting: %v", logging.TruncateSessionID(s.ID), err)
			r.sessions.Remove(s.ID)
		}
	}
}
