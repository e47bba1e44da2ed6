// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tejzpr/meetcute/internal/auth"
	"github.com/tejzpr/meetcute/internal/config"
	"github.com/tejzpr/meetcute/internal/conversations"
	"github.com/tejzpr/meetcute/internal/database"
	"github.com/tejzpr/meetcute/internal/locking"
	"github.com/tejzpr/meetcute/internal/matching"
	"github.com/tejzpr/meetcute/internal/service"
)

type tokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
}

const (
	memoryX = "Saw someone in a black SF hat near Coco Apartments, Napa around 6pm, July 23rd."
	memoryY = "There was a baby and a guy in a black SF hat outside Coco Apartments around 6pm on July 23rd in Napa."
)

type testEnv struct {
	srv *httptest.Server
	db  *gorm.DB
}

// newTestEnv starts an API server. configure may adjust the config before the
// server is built; localAuth defaults to the whoami authenticator.
func newTestEnv(t *testing.T, configure func(*config.Config), localAuth func(*auth.TokenManager) *auth.LocalAuthenticator) *testEnv {
	t.Helper()
	db, err := database.Connect(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	require.NoError(t, database.Migrate(db))
	require.NoError(t, locking.MigrateLocks(db))

	cfg := config.DefaultConfig()
	if configure != nil {
		configure(cfg)
	}
	if localAuth == nil {
		localAuth = auth.NewLocalAuthenticator
	}
	scorer, err := matching.NewScorer(matching.DefaultScorerConfig())
	require.NoError(t, err)
	mcpServer := NewMCPServer(cfg, db, service.New(db, scorer, nil, service.Options{}), nil)
	mcpServer.RegisterToolsForUser("test-user")

	httpServer := NewHTTPServer(mcpServer, localAuth(mcpServer.GetTokenManager()))
	mux := http.NewServeMux()
	httpServer.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, db: db}
}

// setupTestServer runs with dev login on and "admin" on the admin list
func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newTestEnv(t, func(cfg *config.Config) {
		cfg.Server.DevLogin = true
		cfg.Server.AdminUsers = []string{"admin"}
	}, nil).srv
}

func do(t *testing.T, srv *httptest.Server, method, path, token string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func login(t *testing.T, srv *httptest.Server, username string) (token, userID string) {
	t.Helper()
	pair := loginPair(t, srv, username)
	return pair.Token, pair.UserID
}

func loginPair(t *testing.T, srv *httptest.Server, username string) tokenPair {
	t.Helper()
	var out tokenPair
	status := do(t, srv, http.MethodPost, "/auth/local", "", map[string]string{"username": username}, &out)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, out.Token)
	require.NotEmpty(t, out.RefreshToken)
	return out
}

func TestLocalAuth(t *testing.T) {
	srv := setupTestServer(t)

	token1, id1 := login(t, srv, "alice")
	token2, id2 := login(t, srv, "alice")
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, token1, token2)

	status := do(t, srv, http.MethodPost, "/auth/local", "", map[string]string{"username": "not valid"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestLocalAuth_OSUserOnlyByDefault(t *testing.T) {
	t.Setenv("ACCESSING_USER", "xavier")
	env := newTestEnv(t, nil, auth.NewLocalAuthenticatorWithAccessingUser)

	// another user's name is refused, so their matches stay out of reach
	assert.Equal(t, http.StatusForbidden,
		do(t, env.srv, http.MethodPost, "/auth/local", "", map[string]string{"username": "yolanda"}, nil))
	var count int64
	require.NoError(t, env.db.Model(&database.User{}).Where("username = ?", "yolanda").Count(&count).Error)
	assert.Zero(t, count)

	var out tokenPair
	require.Equal(t, http.StatusOK, do(t, env.srv, http.MethodPost, "/auth/local", "", nil, &out))
	assert.Equal(t, "xavier", out.Username)
	assert.NotEmpty(t, out.Token)

	require.Equal(t, http.StatusOK,
		do(t, env.srv, http.MethodPost, "/auth/local", "", map[string]string{"username": "xavier"}, &out))
	assert.Equal(t, "xavier", out.Username)

	// nobody is an admin unless listed
	assert.Equal(t, http.StatusForbidden, do(t, env.srv, http.MethodPost, "/api/admin/reconcile", out.Token, nil, nil))
}

func TestAdminReconcile_RequiresAllowlist(t *testing.T) {
	srv := setupTestServer(t)
	userToken, _ := login(t, srv, "yolanda")
	adminToken, _ := login(t, srv, "admin")

	assert.Equal(t, http.StatusUnauthorized, do(t, srv, http.MethodPost, "/api/admin/reconcile", "", nil, nil))
	assert.Equal(t, http.StatusForbidden, do(t, srv, http.MethodPost, "/api/admin/reconcile", userToken, nil, nil))
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/admin/reconcile", adminToken, nil, nil))
}

func TestAuth_RefreshAndLogout(t *testing.T) {
	srv := setupTestServer(t)
	pair := loginPair(t, srv, "alice")

	var refreshed tokenPair
	require.Equal(t, http.StatusOK,
		do(t, srv, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": pair.RefreshToken}, &refreshed))
	assert.Equal(t, pair.UserID, refreshed.UserID)
	assert.NotEqual(t, pair.Token, refreshed.Token)

	// rotated: the old pair is dead
	assert.Equal(t, http.StatusUnauthorized, do(t, srv, http.MethodGet, "/api/notifications", pair.Token, nil, nil))
	assert.Equal(t, http.StatusUnauthorized,
		do(t, srv, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": pair.RefreshToken}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/auth/refresh", "", map[string]string{}, nil))

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/notifications", refreshed.Token, nil, nil))
	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodPost, "/auth/logout", refreshed.Token, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, do(t, srv, http.MethodGet, "/api/notifications", refreshed.Token, nil, nil))

	first, _ := login(t, srv, "alice")
	second, _ := login(t, srv, "alice")
	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodPost, "/auth/logout", first, map[string]bool{"all": true}, nil))
	assert.Equal(t, http.StatusUnauthorized, do(t, srv, http.MethodGet, "/api/notifications", second, nil, nil))
}

func TestAPI_RequiresAuth(t *testing.T) {
	srv := setupTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, do(t, srv, http.MethodGet, "/api/notifications", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, do(t, srv, http.MethodGet, "/api/notifications", "bogus", nil, nil))
}

func TestAPI_MatchFlow(t *testing.T) {
	srv := setupTestServer(t)
	xToken, xID := login(t, srv, "xavier")
	yToken, yID := login(t, srv, "yolanda")

	var first service.SubmitResult
	status := do(t, srv, http.MethodPost, "/api/memories", xToken, map[string]string{"text": memoryX}, &first)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, database.MemoryStatusWaiting, first.Status)

	var second service.SubmitResult
	status = do(t, srv, http.MethodPost, "/api/memories", yToken, map[string]string{"text": memoryY}, &second)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, database.MemoryStatusMatched, second.Status)
	require.NotEmpty(t, second.MatchID)

	var pending struct {
		Matches []service.PendingMatch `json:"matches"`
	}
	status = do(t, srv, http.MethodGet, "/api/matches/pending", xToken, nil, &pending)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, pending.Matches, 1)
	assert.Equal(t, yID, pending.Matches[0].OtherUserID)

	var counts map[string]int64
	status = do(t, srv, http.MethodGet, "/api/notifications", yToken, nil, &counts)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), counts["pending_matches"])

	respondPath := "/api/matches/" + second.MatchID + "/respond"
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, respondPath, xToken, map[string]string{}, nil))

	var st service.MatchState
	status = do(t, srv, http.MethodPost, respondPath, xToken, map[string]bool{"accept": true}, &st)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, database.MatchStatusPending, st.Status)

	status = do(t, srv, http.MethodPost, respondPath, yToken, map[string]bool{"accept": true}, &st)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, database.MatchStatusAccepted, st.Status)
	assert.NotEmpty(t, st.ConversationID)

	// changing an answer is a conflict
	assert.Equal(t, http.StatusConflict, do(t, srv, http.MethodPost, respondPath, xToken, map[string]bool{"accept": false}, nil))

	zToken, _ := login(t, srv, "zed")
	assert.Equal(t, http.StatusForbidden, do(t, srv, http.MethodPost, respondPath, zToken, map[string]bool{"accept": true}, nil))
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, "/api/matches/missing/respond", zToken, map[string]bool{"accept": true}, nil))

	var all struct {
		Matches []service.MatchState `json:"matches"`
	}
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/matches", xToken, nil, &all))
	require.Len(t, all.Matches, 1)
	assert.Equal(t, database.MatchStatusAccepted, all.Matches[0].Status)

	convPath := "/api/conversations/" + st.ConversationID

	var convs struct {
		Conversations []service.ConversationView `json:"conversations"`
	}
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/conversations", xToken, nil, &convs))
	require.Len(t, convs.Conversations, 1)
	assert.Equal(t, yID, convs.Conversations[0].OtherUserID)

	var view service.ConversationView
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, convPath, yToken, nil, &view))
	assert.Equal(t, xID, view.OtherUserID)
	assert.Equal(t, second.MatchID, view.MatchID)

	assert.Equal(t, http.StatusForbidden, do(t, srv, http.MethodGet, convPath, zToken, nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/conversations/missing", zToken, nil, nil))
	assert.Equal(t, http.StatusForbidden, do(t, srv, http.MethodPost, convPath+"/messages", zToken, map[string]string{"body": "hi"}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, convPath+"/messages", xToken, map[string]string{"body": "  "}, nil))

	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, convPath+"/messages", xToken, map[string]string{"body": "Was that you in the SF hat?"}, nil))
	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, convPath+"/messages", xToken, map[string]string{"body": "Napa, July 23rd"}, nil))

	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/notifications", yToken, nil, &counts))
	assert.Equal(t, int64(2), counts["unread_messages"])

	var msgs struct {
		Messages []database.Message `json:"messages"`
	}
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, convPath+"/messages?limit=1", yToken, nil, &msgs))
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, "Was that you in the SF hat?", msgs.Messages[0].Body)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, convPath+"/messages?limit=x", yToken, nil, nil))

	var marked map[string]int64
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, convPath+"/read", yToken, nil, &marked))
	assert.Equal(t, int64(2), marked["marked_read"])

	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/notifications", yToken, nil, &counts))
	assert.Zero(t, counts["unread_messages"])
}

func TestAPI_SubmitReportsMatchingFailure(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Server.DevLogin = true }, nil)
	xToken, _ := login(t, env.srv, "xavier")
	yToken, _ := login(t, env.srv, "yolanda")

	require.Equal(t, http.StatusCreated, do(t, env.srv, http.MethodPost, "/api/memories", xToken, map[string]string{"text": memoryX}, nil))

	const cb = "test:fail_match_insert"
	require.NoError(t, env.db.Callback().Create().Before("gorm:create").Register(cb, func(tx *gorm.DB) {
		if tx.Statement.Table == "matches" {
			_ = tx.AddError(errors.New("disk I/O error"))
		}
	}))
	t.Cleanup(func() { _ = env.db.Callback().Create().Remove(cb) })

	var out map[string]string
	status := do(t, env.srv, http.MethodPost, "/api/memories", yToken, map[string]string{"text": memoryY}, &out)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.NotEmpty(t, out["memory_id"])
	assert.Equal(t, database.MemoryStatusWaiting, out["status"])
}

func TestAPI_Memories(t *testing.T) {
	srv := setupTestServer(t)
	token, _ := login(t, srv, "alice")

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/memories", token, map[string]string{"text": ""}, nil))

	var res service.SubmitResult
	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/memories", token, map[string]string{"text": "Yellow raincoat at Dolores Park"}, &res))

	var list struct {
		Memories []database.Memory `json:"memories"`
	}
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/memories", token, nil, &list))
	assert.Len(t, list.Memories, 1)

	other, _ := login(t, srv, "bob")
	assert.Equal(t, http.StatusForbidden, do(t, srv, http.MethodDelete, "/api/memories/"+res.MemoryID, other, nil, nil))
	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodDelete, "/api/memories/"+res.MemoryID, token, nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodDelete, "/api/memories/"+res.MemoryID, token, nil, nil))
}

func TestAPI_Drafts(t *testing.T) {
	srv := setupTestServer(t)
	token, _ := login(t, srv, "alice")

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/drafts", token, nil, nil))

	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPut, "/api/drafts", token, map[string]string{"transcript": "black SF hat"}, nil))

	var draft database.MemoryDraft
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/drafts", token, nil, &draft))
	assert.Equal(t, "black SF hat", draft.Transcript)
}

func TestAPI_ReconcileAndHealth(t *testing.T) {
	srv := setupTestServer(t)
	token, _ := login(t, srv, "admin")

	var res service.ReconcileResult
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/admin/reconcile", token, nil, &res))
	assert.Equal(t, 0, res.MatchesCreated)

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", "", nil, nil))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(matching.ErrMatchNotFound))
	assert.Equal(t, http.StatusNotFound, statusFor(conversations.ErrConversationNotFound))
	assert.Equal(t, http.StatusForbidden, statusFor(conversations.ErrNotInConversation))
	assert.Equal(t, http.StatusBadRequest, statusFor(conversations.ErrEmptyMessage))
	assert.Equal(t, http.StatusConflict, statusFor(&locking.LockError{Key: "reconcile"}))
	assert.Equal(t, http.StatusConflict, statusFor(&locking.ConflictError{Table: "matches", ID: "m1"}))
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("%w: %w", locking.ErrRetriesExhausted, &locking.ConflictError{Table: "matches", ID: "m1"})))
	assert.Equal(t, http.StatusServiceUnavailable,
		statusFor(fmt.Errorf("%w: %w", service.ErrMatchingIncomplete, database.Unavailable(assert.AnError))))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(database.Unavailable(assert.AnError)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
