// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/meetcute/internal/database"
)

type middlewareFixture struct {
	mw    *Middleware
	tm    *TokenManager
	user  *database.User
	admin *database.User
}

func newMiddlewareFixture(t *testing.T) *middlewareFixture {
	t.Helper()
	db := setupTestDB(t)
	tm := NewTokenManager(db, 24)
	return &middlewareFixture{
		mw:    NewMiddleware(tm, " ops ", ""),
		tm:    tm,
		user:  createUser(t, db, "yolanda"),
		admin: createUser(t, db, "ops"),
	}
}

func (f *middlewareFixture) token(t *testing.T, user *database.User) string {
	t.Helper()
	token, err := f.tm.Issue(user.ID)
	require.NoError(t, err)
	return token.AccessToken
}

func serve(h http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRequireAuth_LoadsUser(t *testing.T) {
	f := newMiddlewareFixture(t)
	token := f.token(t, f.user)

	h := f.mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "yolanda", user.Username)

		id, ok := GetUserIDFromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, f.user.ID, id)

		got, ok := TokenFromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, token, got)
		w.WriteHeader(http.StatusOK)
	}))

	assert.Equal(t, http.StatusOK, serve(h, "Bearer "+token).Code)
	assert.Equal(t, http.StatusOK, serve(h, "bearer "+token).Code)
}

func TestRequireAuth_Rejects(t *testing.T) {
	f := newMiddlewareFixture(t)
	h := f.mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	expired, err := f.tm.Issue(f.user.ID)
	require.NoError(t, err)
	require.NoError(t, f.tm.db.Model(&database.AuthToken{}).Where("id = ?", expired.ID).
		UpdateColumn("expires_at", time.Now().Add(-time.Minute)).Error)

	tests := []struct {
		name   string
		header string
		body   string
	}{
		{"missing", "", "missing bearer token"},
		{"wrong scheme", "Basic " + f.token(t, f.user), "missing bearer token"},
		{"unknown token", "Bearer not-a-token", "token not found"},
		{"expired", "Bearer " + expired.AccessToken, "token expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestRequireAuth_IgnoresQueryToken(t *testing.T) {
	f := newMiddlewareFixture(t)
	h := f.mw.RequireAuth(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/notifications?access_token="+f.token(t, f.user), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdmin(t *testing.T) {
	f := newMiddlewareFixture(t)
	h := f.mw.RequireAdmin(http.HandlerFunc(okHandler))

	assert.Equal(t, http.StatusUnauthorized, serve(h, "").Code)
	assert.Equal(t, http.StatusForbidden, serve(h, "Bearer "+f.token(t, f.user)).Code)
	assert.Equal(t, http.StatusOK, serve(h, "Bearer "+f.token(t, f.admin)).Code)

	assert.True(t, f.mw.IsAdmin("ops"))
	assert.False(t, f.mw.IsAdmin(""))
}

func TestUserFromContext_Empty(t *testing.T) {
	_, ok := UserFromContext(context.Background())
	assert.False(t, ok)
	_, ok = GetUserIDFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithUser(context.Background(), &database.User{ID: "u1", Username: "xavier"})
	id, ok := GetUserIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u1", id)
}
