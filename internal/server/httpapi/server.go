// Package httpapi exposes the REST surface and the websocket endpoint.
package httpapi

import (
	"context"
	"net/http"

	"github.com/and161185/studydesk/internal/realtime"
	"github.com/and161185/studydesk/internal/server/socket"
	"github.com/and161185/studydesk/internal/service"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Auth     service.AuthService
	Chats    service.ChatService
	Groups   service.GroupService
	Messages service.MessageService
	Hub      *realtime.Hub
	Sockets  *socket.Dispatcher
	Tokens   *TokenVerifier
	// Origins allowed to open websockets besides the server's own.
	Origins []string
	// Ready reports backend health for /healthz; nil means always ready.
	Ready func(ctx context.Context) error
	Log   *zap.Logger
}

// Server wires services into HTTP handlers.
type Server struct {
	Deps
	upgrader *websocket.Upgrader
}

func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Server{Deps: d, upgrader: socket.NewUpgrader(d.Origins)}
}

// Handler returns the routed handler with logging and panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	auth := func(h http.HandlerFunc) http.Handler { return RequireAuth(s.Tokens, h) }

	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("POST /api/auth/register", s.register)
	mux.HandleFunc("POST /api/auth/login", s.login)

	mux.Handle("GET /api/users/me", auth(s.me))
	mux.Handle("GET /api/users/{userId}", auth(s.user))
	mux.Handle("GET /api/presence/{userId}", auth(s.presence))
	mux.Handle("GET /api/calls/active", auth(s.activeCall))

	mux.Handle("GET /api/direct-chats", auth(s.listChats))
	mux.Handle("POST /api/direct-chats", auth(s.openChat))
	mux.Handle("GET /api/direct-chats/{chatId}/messages", auth(s.chatHistory))
	mux.Handle("POST /api/direct-chats/{chatId}/messages", auth(s.postChatMessage))
	mux.Handle("DELETE /api/direct-chats/messages/{messageId}", auth(s.deleteChatMessage))

	mux.Handle("GET /api/groups", auth(s.listGroups))
	mux.Handle("POST /api/groups", auth(s.createGroup))
	mux.Handle("GET /api/groups/{groupId}", auth(s.getGroup))
	mux.Handle("GET /api/groups/{groupId}/messages", auth(s.groupHistory))
	mux.Handle("POST /api/groups/{groupId}/messages", auth(s.postGroupMessage))
	mux.Handle("DELETE /api/groups/messages/{messageId}", auth(s.deleteGroupMessage))
	mux.Handle("POST /api/groups/{groupId}/members", auth(s.addMember))
	mux.Handle("DELETE /api/groups/{groupId}/members/{userId}", auth(s.removeMember))

	mux.Handle("GET /ws", auth(s.serveWS))

	return Recover(s.Log, Logging(s.Log, mux))
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		if err := s.Ready(r.Context()); err != nil {
			s.Log.Warn("not ready", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "connections": s.Hub.Presence.Count()})
}

// serveWS upgrades an authenticated request and runs the connection until it closes.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	u, err := s.Auth.Identity(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		s.Log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	s.Sockets.Serve(r.Context(), ws, socket.Identity{ID: u.ID, Name: u.DisplayName})
}
