// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tejzpr/meetcute/internal/auth"
	"github.com/tejzpr/meetcute/internal/conversations"
	"github.com/tejzpr/meetcute/internal/database"
	"github.com/tejzpr/meetcute/internal/locking"
	"github.com/tejzpr/meetcute/internal/matching"
	"github.com/tejzpr/meetcute/internal/memories"
	"github.com/tejzpr/meetcute/internal/service"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 64 << 10

// HTTPServer handles HTTP routes
type HTTPServer struct {
	mcpServer      *MCPServer
	localAuth      *auth.LocalAuthenticator
	authMiddleware *auth.Middleware
	devLogin       bool
}

// NewHTTPServer creates a new HTTP server (local auth only)
func NewHTTPServer(mcpServer *MCPServer, localAuth *auth.LocalAuthenticator) *HTTPServer {
	return &HTTPServer{
		mcpServer:      mcpServer,
		localAuth:      localAuth,
		authMiddleware: auth.NewMiddleware(mcpServer.GetTokenManager(), mcpServer.config.Server.AdminUsers...),
		devLogin:       mcpServer.config.Server.DevLogin,
	}
}

// RegisterRoutes registers all HTTP routes
func (h *HTTPServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/local", h.HandleLocalAuth)
	mux.HandleFunc("POST /auth/refresh", h.HandleRefresh)
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	protected := func(fn http.HandlerFunc) http.Handler {
		return h.authMiddleware.RequireAuth(fn)
	}
	mux.Handle("POST /auth/logout", protected(h.HandleLogout))
	mux.Handle("POST /api/memories", protected(h.HandleSubmitMemory))
	mux.Handle("GET /api/memories", protected(h.HandleListMemories))
	mux.Handle("DELETE /api/memories/{id}", protected(h.HandleDeleteMemory))
	mux.Handle("GET /api/matches", protected(h.HandleListMatches))
	mux.Handle("GET /api/matches/pending", protected(h.HandlePendingMatches))
	mux.Handle("POST /api/matches/{id}/respond", protected(h.HandleRespond))
	mux.Handle("GET /api/conversations", protected(h.HandleListConversations))
	mux.Handle("GET /api/conversations/{id}", protected(h.HandleGetConversation))
	mux.Handle("GET /api/conversations/{id}/messages", protected(h.HandleListMessages))
	mux.Handle("POST /api/conversations/{id}/messages", protected(h.HandleSendMessage))
	mux.Handle("POST /api/conversations/{id}/read", protected(h.HandleMarkRead))
	mux.Handle("GET /api/notifications", protected(h.HandleNotifications))
	mux.Handle("GET /api/drafts", protected(h.HandleGetDraft))
	mux.Handle("PUT /api/drafts", protected(h.HandleSaveDraft))
	mux.Handle("POST /api/admin/reconcile", h.authMiddleware.RequireAdmin(http.HandlerFunc(h.HandleReconcile)))
}

type localAuthRequest struct {
	Username string `json:"username"`
}

type tokenResponse struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username,omitempty"`
}

// HandleLocalAuth issues a token for the local OS user, creating the user on
// first login. The body is optional. With server.dev_login enabled any valid
// username may be named instead.
func (h *HTTPServer) HandleLocalAuth(w http.ResponseWriter, r *http.Request) {
	var req localAuthRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	username := req.Username
	if !h.devLogin || username == "" {
		osUser, err := h.localAuth.GetLocalUsername()
		if err != nil {
			h.mcpServer.logger.Error("local user lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "local authentication failed")
			return
		}
		if username != "" && username != osUser {
			writeError(w, http.StatusForbidden, "login as another user requires server.dev_login")
			return
		}
		username = osUser
	}

	user, token, err := h.localAuth.AuthenticateUsername(h.mcpServer.db, username)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidUsername) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "local authentication failed")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:        token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
		UserID:       user.ID,
		Username:     user.Username,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleRefresh exchanges a refresh token for a new token pair
func (h *HTTPServer) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	token, err := h.mcpServer.GetTokenManager().Refresh(req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenNotFound) || errors.Is(err, auth.ErrTokenExpired) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:        token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
		UserID:       token.UserID,
	})
}

type logoutRequest struct {
	All bool `json:"all"`
}

// HandleLogout revokes the caller's token, or every token they hold
func (h *HTTPServer) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	tm := h.mcpServer.GetTokenManager()
	var err error
	if req.All {
		userID, _ := auth.GetUserIDFromContext(r.Context())
		_, err = tm.RevokeUser(userID)
	} else {
		token, _ := auth.TokenFromContext(r.Context())
		err = tm.Revoke(token)
	}
	if err != nil && !errors.Is(err, auth.ErrTokenNotFound) {
		writeError(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleHealth reports store reachability
func (h *HTTPServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := database.Ping(h.mcpServer.db); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitMemoryRequest struct {
	Text       string `json:"text"`
	Location   string `json:"location"`
	TimePeriod string `json:"time_period"`
}

// HandleSubmitMemory stores a memory and tries to match it
func (h *HTTPServer) HandleSubmitMemory(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	var req submitMemoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.mcpServer.service.SubmitMemory(r.Context(), service.SubmitRequest{
		OwnerID:    userID,
		Text:       req.Text,
		Location:   req.Location,
		TimePeriod: req.TimePeriod,
	})
	if err != nil {
		if res == nil {
			writeServiceError(w, err)
			return
		}
		// The memory is stored; the client still needs its id.
		status := statusFor(err)
		writeJSON(w, status, map[string]interface{}{
			"error":     http.StatusText(status),
			"memory_id": res.MemoryID,
			"status":    res.Status,
		})
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleListMemories lists the caller's memories
func (h *HTTPServer) HandleListMemories(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	list, err := h.mcpServer.service.ListMemories(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"memories": list})
}

// HandleDeleteMemory withdraws one of the caller's waiting memories
func (h *HTTPServer) HandleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	if err := h.mcpServer.service.DeleteMemory(r.Context(), r.PathValue("id"), userID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandlePendingMatches lists matches awaiting the caller's answer
func (h *HTTPServer) HandlePendingMatches(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	pending, err := h.mcpServer.service.ListPendingMatches(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"matches": pending})
}

type respondRequest struct {
	Accept *bool `json:"accept"`
}

// HandleRespond records the caller's accept or decline
func (h *HTTPServer) HandleRespond(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	var req respondRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Accept == nil {
		writeError(w, http.StatusBadRequest, "accept is required")
		return
	}

	st, err := h.mcpServer.service.RespondToMatch(r.Context(), r.PathValue("id"), userID, *req.Accept)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleListMatches lists every match the caller is part of
func (h *HTTPServer) HandleListMatches(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	list, err := h.mcpServer.service.ListMatches(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"matches": list})
}

// HandleListConversations lists the conversations unlocked for the caller
func (h *HTTPServer) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	list, err := h.mcpServer.service.ListConversations(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": list})
}

// HandleGetConversation returns one of the caller's conversations
func (h *HTTPServer) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	conv, err := h.mcpServer.service.GetConversation(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// HandleListMessages returns a conversation's messages, oldest first
func (h *HTTPServer) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	msgs, err := h.mcpServer.service.ListMessages(r.Context(), r.PathValue("id"), userID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

type sendMessageRequest struct {
	Body string `json:"body"`
}

// HandleSendMessage posts a message into one of the caller's conversations
func (h *HTTPServer) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.mcpServer.service.SendMessage(r.Context(), r.PathValue("id"), userID, req.Body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// HandleMarkRead clears the caller's unread messages in a conversation
func (h *HTTPServer) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	n, err := h.mcpServer.service.MarkConversationRead(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked_read": n})
}

// HandleNotifications returns the caller's badge counts
func (h *HTTPServer) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	counts, err := h.mcpServer.service.NotificationCounts(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

type draftRequest struct {
	Transcript string `json:"transcript"`
	Location   string `json:"location"`
	TimePeriod string `json:"time_period"`
}

// HandleSaveDraft stores the caller's in-progress memory
func (h *HTTPServer) HandleSaveDraft(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	var req draftRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	draft := &database.MemoryDraft{
		UserID:     userID,
		Transcript: req.Transcript,
		Location:   req.Location,
		TimePeriod: req.TimePeriod,
	}
	if err := h.mcpServer.service.SaveDraft(r.Context(), draft); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// HandleGetDraft returns the caller's in-progress memory
func (h *HTTPServer) HandleGetDraft(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	draft, err := h.mcpServer.service.GetDraft(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// HandleReconcile runs a full matching sweep
func (h *HTTPServer) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.mcpServer.service.Reconcile(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// decodeOptionalJSON is decodeJSON that also accepts an empty body
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps service errors to HTTP status codes. A store outage wins
// over any other error it is wrapped with.
func statusFor(err error) int {
	var lockErr *locking.LockError
	var conflictErr *locking.ConflictError
	switch {
	case errors.Is(err, database.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, matching.ErrMatchNotFound),
		errors.Is(err, memories.ErrMemoryNotFound),
		errors.Is(err, memories.ErrDraftNotFound),
		errors.Is(err, conversations.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, matching.ErrNotAParticipant),
		errors.Is(err, memories.ErrNotOwner),
		errors.Is(err, conversations.ErrNotInConversation):
		return http.StatusForbidden
	case errors.Is(err, matching.ErrAlreadyResponded),
		errors.Is(err, matching.ErrMatchClosed),
		errors.Is(err, memories.ErrMemoryNotWaiting),
		errors.Is(err, locking.ErrRetriesExhausted),
		errors.As(err, &lockErr),
		errors.As(err, &conflictErr):
		return http.StatusConflict
	case errors.Is(err, memories.ErrInvalidMemory),
		errors.Is(err, conversations.ErrEmptyMessage),
		errors.Is(err, conversations.ErrSameUser):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		msg = http.StatusText(status)
	}
	writeError(w, status, msg)
}
