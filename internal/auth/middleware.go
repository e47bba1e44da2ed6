// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/tejzpr/meetcute/internal/database"
)

type contextKey string

const (
	userKey  contextKey = "user"
	tokenKey contextKey = "token"
)

// Middleware authenticates API requests by bearer token
type Middleware struct {
	tokenManager *TokenManager
	admins       map[string]bool
}

// NewMiddleware creates the auth middleware. adminUsernames may use the
// routes wrapped by RequireAdmin.
func NewMiddleware(tokenManager *TokenManager, adminUsernames ...string) *Middleware {
	admins := make(map[string]bool, len(adminUsernames))
	for _, name := range adminUsernames {
		if name = strings.TrimSpace(name); name != "" {
			admins[name] = true
		}
	}
	return &Middleware{
		tokenManager: tokenManager,
		admins:       admins,
	}
}

// RequireAuth validates the bearer token and puts the user row on the context
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		authToken, err := m.tokenManager.Validate(token)
		if err != nil {
			switch {
			case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrTokenExpired), errors.Is(err, ErrUserGone):
				writeAuthError(w, http.StatusUnauthorized, err.Error())
			default:
				writeAuthError(w, http.StatusServiceUnavailable, "token store unavailable")
			}
			return
		}

		user := authToken.User
		ctx := WithUser(r.Context(), &user)
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin is RequireAuth restricted to the configured admin usernames
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		if !m.IsAdmin(user.Username) {
			writeAuthError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// IsAdmin reports whether username is on the admin list
func (m *Middleware) IsAdmin(username string) bool {
	return m.admins[username]
}

// bearerToken reads "Authorization: Bearer <token>"
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// WithUser stores the authenticated user on ctx
func WithUser(ctx context.Context, user *database.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user
func UserFromContext(ctx context.Context) (*database.User, bool) {
	user, ok := ctx.Value(userKey).(*database.User)
	if !ok || user == nil {
		return &database.User{}, false
	}
	return user, true
}

// GetUserIDFromContext returns the authenticated user's id
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	user, ok := UserFromContext(ctx)
	return user.ID, ok && user.ID != ""
}

// TokenFromContext returns the access token the request was authenticated with
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey).(string)
	return token, ok && token != ""
}
