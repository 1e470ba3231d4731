// Package api is the REST surface. Every route sits behind the bearer-token
// middleware; handlers stay thin and delegate to the coordinators.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/teamloop/teamloop/auth"
	"github.com/teamloop/teamloop/chat"
	"github.com/teamloop/teamloop/codesession"
	"github.com/teamloop/teamloop/errs"
	"github.com/teamloop/teamloop/globals"
	"github.com/teamloop/teamloop/store"
	"github.com/teamloop/teamloop/types"
	"github.com/teamloop/teamloop/ws"
)

type contextKey int

const userContextKey contextKey = iota

type API struct {
	chats    *chat.Service
	sessions *codesession.Service
	resolver *auth.Resolver
	store    store.Store
	hub      *ws.Hub
}

func New(chats *chat.Service, sessions *codesession.Service, resolver *auth.Resolver, st store.Store, hub *ws.Hub) *API {
	return &API{chats: chats, sessions: sessions, resolver: resolver, store: st, hub: hub}
}

// Routes mounts all REST endpoints on the given router under /api.
func (a *API) Routes(r *mux.Router) {
	s := r.PathPrefix("/api").Subrouter()
	s.Use(a.authenticate)

	s.HandleFunc("/users", a.listUsers).Methods(http.MethodGet)
	s.HandleFunc("/users/me", a.me).Methods(http.MethodGet)

	s.HandleFunc("/chats", a.createChat).Methods(http.MethodPost)
	s.HandleFunc("/chats", a.listChats).Methods(http.MethodGet)
	s.HandleFunc("/chats/{chatId}/messages", a.listMessages).Methods(http.MethodGet)
	s.HandleFunc("/chats/{chatId}/messages", a.sendMessage).Methods(http.MethodPost)
	s.HandleFunc("/chats/{chatId}/read", a.markChatRead).Methods(http.MethodPost)
	s.HandleFunc("/messages/unread-count", a.unreadCount).Methods(http.MethodGet)
	s.HandleFunc("/messages/{messageId}", a.updateMessage).Methods(http.MethodPut)
	s.HandleFunc("/messages/{messageId}", a.deleteMessage).Methods(http.MethodDelete)

	s.HandleFunc("/sessions", a.createSession).Methods(http.MethodPost)
	s.HandleFunc("/sessions", a.listSessions).Methods(http.MethodGet)
	s.HandleFunc("/sessions/public", a.listPublicSessions).Methods(http.MethodGet)
	s.HandleFunc("/sessions/stats", a.sessionStats).Methods(http.MethodGet)
	s.HandleFunc("/sessions/join/{code}", a.joinByInviteCode).Methods(http.MethodPost)
	s.HandleFunc("/sessions/{sessionId}", a.getSession).Methods(http.MethodGet)
	s.HandleFunc("/sessions/{sessionId}", a.deleteSession).Methods(http.MethodDelete)
	s.HandleFunc("/sessions/{sessionId}/join", a.joinSession).Methods(http.MethodPost)
	s.HandleFunc("/sessions/{sessionId}/leave", a.leaveSession).Methods(http.MethodPost)
	s.HandleFunc("/sessions/{sessionId}/end", a.endSession).Methods(http.MethodPost)
	s.HandleFunc("/sessions/{sessionId}/invite-code", a.generateInviteCode).Methods(http.MethodPost)
	s.HandleFunc("/sessions/{sessionId}/invite", a.inviteUser).Methods(http.MethodPost)

	s.HandleFunc("/notifications", a.listNotifications).Methods(http.MethodGet)
	s.HandleFunc("/notifications/{notificationId}/read", a.markNotificationRead).Methods(http.MethodPost)
}

// authenticate resolves the bearer credential into a user and stores it in
// the request context. No route past this point runs unauthenticated.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := ""
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			credential = strings.TrimPrefix(h, "Bearer ")
		}
		user, err := a.resolver.Resolve(r.Context(), credential, r.Header.Get("X-Auth-Provider"))
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestUser(r *http.Request) *types.User {
	user, _ := r.Context().Value(userContextKey).(*types.User)
	return user
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		globals.AppLogger.Warn("could not encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		globals.AppLogger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": errs.Message(err)})
}

func decodeBody(r *http.Request, into interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return errs.Validation("invalid request body")
	}
	return nil
}

func pagination(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}

type userView struct {
	*types.User
	IsOnline bool `json:"isOnline"`
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.GetUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, userView{User: u, IsOnline: a.hub.IsUserOnline(u.Id)})
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, requestUser(r))
}
