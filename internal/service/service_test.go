// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tejzpr/meetcute/internal/conversations"
	"github.com/tejzpr/meetcute/internal/database"
	"github.com/tejzpr/meetcute/internal/embeddings"
	"github.com/tejzpr/meetcute/internal/locking"
	"github.com/tejzpr/meetcute/internal/matching"
	"github.com/tejzpr/meetcute/internal/memories"
)

const (
	memoryX = "Saw someone in a black SF hat near Coco Apartments, Napa around 6pm, July 23rd."
	memoryY = "There was a baby and a guy in a black SF hat outside Coco Apartments around 6pm on July 23rd in Napa."
)

func setupTestDB(t *testing.T) *gorm.DB {
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
	return db
}

func newTestService(t *testing.T, embedder embeddings.Client, opts Options) (*Service, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	scorer, err := matching.NewScorer(matching.DefaultScorerConfig())
	require.NoError(t, err)
	return New(db, scorer, embedder, opts), db
}

func submit(t *testing.T, svc *Service, owner, text string) *SubmitResult {
	t.Helper()
	res, err := svc.SubmitMemory(context.Background(), SubmitRequest{OwnerID: owner, Text: text})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	return res
}

func onlyMatch(t *testing.T, db *gorm.DB) database.Match {
	t.Helper()
	var matches []database.Match
	require.NoError(t, db.Find(&matches).Error)
	require.Len(t, matches, 1)
	return matches[0]
}

func countConversations(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&database.Conversation{}).Count(&n).Error)
	return n
}

func TestSubmitMemory_SameEncounterMatches(t *testing.T) {
	svc, db := newTestService(t, nil, Options{})
	ctx := context.Background()

	x := submit(t, svc, "user-x", memoryX)
	assert.Equal(t, database.MemoryStatusWaiting, x.Status)
	assert.Empty(t, x.MatchID)

	y := submit(t, svc, "user-y", memoryY)
	assert.Equal(t, database.MemoryStatusMatched, y.Status)
	require.NotEmpty(t, y.MatchID)
	assert.InDelta(t, 0.95, y.Confidence, 1e-9)

	m := onlyMatch(t, db)
	assert.Equal(t, y.MatchID, m.ID)
	assert.Equal(t, database.MatchStatusPending, m.Status)
	assert.Equal(t, "user-x", m.User1ID)
	assert.Equal(t, x.MemoryID, m.Memory1ID)
	assert.Equal(t, database.StrategyKeyword, m.Strategy)

	for _, id := range []string{x.MemoryID, y.MemoryID} {
		var mem database.Memory
		require.NoError(t, db.First(&mem, "id = ?", id).Error)
		assert.Equal(t, database.MemoryStatusMatched, mem.Status)
	}

	pending, err := svc.ListPendingMatches(ctx, "user-y")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "user-x", pending[0].OtherUserID)
	assert.Equal(t, memoryX, pending[0].OtherMemorySummary)
	assert.True(t, strings.HasPrefix(pending[0].Reason, "Shared details: "))
}

func TestRespondToMatch_DeclineKeepsMemoriesMatched(t *testing.T) {
	svc, db := newTestService(t, nil, Options{})
	ctx := context.Background()

	x := submit(t, svc, "user-x", memoryX)
	y := submit(t, svc, "user-y", memoryY)

	st, err := svc.RespondToMatch(ctx, y.MatchID, "user-x", false)
	require.NoError(t, err)
	assert.Equal(t, database.MatchStatusDeclined, st.Status)
	require.NotNil(t, st.YourResponse)
	assert.False(t, *st.YourResponse)
	assert.Nil(t, st.TheirResponse)

	_, err = svc.RespondToMatch(ctx, y.MatchID, "user-y", true)
	assert.ErrorIs(t, err, matching.ErrMatchClosed)

	for _, id := range []string{x.MemoryID, y.MemoryID} {
		var mem database.Memory
		require.NoError(t, db.First(&mem, "id = ?", id).Error)
		assert.Equal(t, database.MemoryStatusMatched, mem.Status)
		require.NotNil(t, mem.MatchID)
		assert.Equal(t, y.MatchID, *mem.MatchID)
	}
	assert.Equal(t, int64(0), countConversations(t, db))

	pending, err := svc.ListPendingMatches(ctx, "user-y")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRespondToMatch_MutualAccept(t *testing.T) {
	svc, db := newTestService(t, nil, Options{})
	ctx := context.Background()

	submit(t, svc, "user-x", memoryX)
	y := submit(t, svc, "user-y", memoryY)

	st, err := svc.RespondToMatch(ctx, y.MatchID, "user-x", true)
	require.NoError(t, err)
	assert.Equal(t, database.MatchStatusPending, st.Status)
	assert.Empty(t, st.ConversationID)

	m := onlyMatch(t, db)
	require.NotNil(t, m.User1Confirmed)
	assert.True(t, *m.User1Confirmed)
	assert.Nil(t, m.User2Confirmed)

	// x no longer sees it, y still does
	pending, err := svc.ListPendingMatches(ctx, "user-x")
	require.NoError(t, err)
	assert.Empty(t, pending)
	pending, err = svc.ListPendingMatches(ctx, "user-y")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	st, err = svc.RespondToMatch(ctx, y.MatchID, "user-y", true)
	require.NoError(t, err)
	assert.Equal(t, database.MatchStatusAccepted, st.Status)
	require.NotEmpty(t, st.ConversationID)
	assert.Equal(t, int64(1), countConversations(t, db))

	conv, err := svc.GetConversation(ctx, st.ConversationID, "user-x")
	require.NoError(t, err)
	assert.Equal(t, "user-y", conv.OtherUserID)
	assert.Equal(t, y.MatchID, conv.MatchID)

	_, err = svc.RespondToMatch(ctx, y.MatchID, "user-x", false)
	assert.ErrorIs(t, err, matching.ErrAlreadyResponded)
	_, err = svc.RespondToMatch(ctx, y.MatchID, "user-z", true)
	assert.ErrorIs(t, err, matching.ErrNotAParticipant)
}

func TestSubmitMemory_CommonWordOnly(t *testing.T) {
	svc, db := newTestService(t, nil, Options{})

	a := submit(t, svc, "user-a", "I got coffee near the station")
	b := submit(t, svc, "user-b", "Grabbed a coffee before work")
	assert.Equal(t, database.MemoryStatusWaiting, a.Status)
	assert.Equal(t, database.MemoryStatusWaiting, b.Status)
	assert.Empty(t, b.MatchID)

	var n int64
	require.NoError(t, db.Model(&database.Match{}).Count(&n).Error)
	assert.Equal(t, int64(0), n)
}

func TestSubmitMemory_SameOwnerNeverMatches(t *testing.T) {
	svc, _ := newTestService(t, nil, Options{})

	submit(t, svc, "user-x", memoryX)
	res := submit(t, svc, "user-x", memoryY)
	assert.Equal(t, database.MemoryStatusWaiting, res.Status)
}

func TestSubmitMemory_Invalid(t *testing.T) {
	svc, _ := newTestService(t, nil, Options{})
	_, err := svc.SubmitMemory(context.Background(), SubmitRequest{OwnerID: "user-x", Text: "   "})
	assert.ErrorIs(t, err, memories.ErrInvalidMemory)
}

func TestSubmitMemory_EmbeddingFailureIsNotFatal(t *testing.T) {
	mock := &embeddings.MockClient{
		EmbedFunc: func(text string) ([]float32, error) {
			return nil, embeddings.ErrEmbeddingUnavailable
		},
	}
	svc, db := newTestService(t, mock, Options{})

	x := submit(t, svc, "user-x", memoryX)
	assert.False(t, x.Embedded)
	var mem database.Memory
	require.NoError(t, db.First(&mem, "id = ?", x.MemoryID).Error)
	assert.False(t, mem.HasEmbedding())

	// keyword rules still match
	y := submit(t, svc, "user-y", memoryY)
	assert.Equal(t, database.MemoryStatusMatched, y.Status)
	assert.Equal(t, 2, mock.Calls())
}

func TestSubmitMemory_EmbeddingTimeout(t *testing.T) {
	mock := &embeddings.MockClient{
		EmbedFunc: func(text string) ([]float32, error) {
			time.Sleep(50 * time.Millisecond)
			return []float32{1, 0}, nil
		},
	}
	svc, _ := newTestService(t, slowClient{mock}, Options{EmbedTimeout: 5 * time.Millisecond})

	res := submit(t, svc, "user-x", memoryX)
	assert.False(t, res.Embedded)
}

// slowClient honors ctx like a real provider would
type slowClient struct {
	*embeddings.MockClient
}

func (s slowClient) Embed(ctx context.Context, text string) ([]float32, error) {
	done := make(chan struct{})
	var (
		vec []float32
		err error
	)
	go func() {
		vec, err = s.MockClient.Embed(context.Background(), text)
		close(done)
	}()
	select {
	case <-ctx.Done():
		return nil, errors.Join(embeddings.ErrEmbeddingUnavailable, ctx.Err())
	case <-done:
		return vec, err
	}
}

func TestSubmitMemory_VectorMatch(t *testing.T) {
	mock := &embeddings.MockClient{
		EmbedFunc: func(text string) ([]float32, error) {
			if strings.Contains(strings.ToLower(text), "lighthouse") {
				return []float32{1, 0, 0, 0}, nil
			}
			return []float32{0, 1, 0, 0}, nil
		},
	}
	svc, db := newTestService(t, mock, Options{})

	x := submit(t, svc, "user-x", "Watched the sunset by the old lighthouse, you had a green scarf")
	assert.True(t, x.Embedded)
	y := submit(t, svc, "user-y", "Lighthouse at dusk, I was the one with the camera")
	assert.True(t, y.Embedded)
	assert.Equal(t, database.MemoryStatusMatched, y.Status)
	assert.InDelta(t, 1.0, y.Confidence, 1e-6)

	m := onlyMatch(t, db)
	assert.Equal(t, database.StrategyVector, m.Strategy)

	z := submit(t, svc, "user-z", "Bumped into someone at the farmers market")
	assert.Equal(t, database.MemoryStatusWaiting, z.Status)
}

func TestSubmitMemory_ClearsDraft(t *testing.T) {
	svc, _ := newTestService(t, nil, Options{})
	ctx := context.Background()

	require.NoError(t, svc.SaveDraft(ctx, &database.MemoryDraft{UserID: "user-x", Transcript: "black SF hat"}))
	d, err := svc.GetDraft(ctx, "user-x")
	require.NoError(t, err)
	assert.Equal(t, "black SF hat", d.Transcript)

	submit(t, svc, "user-x", memoryX)
	_, err = svc.GetDraft(ctx, "user-x")
	assert.ErrorIs(t, err, memories.ErrDraftNotFound)
}

func TestReconcile(t *testing.T) {
	mock := &embeddings.MockClient{}
	svc, db := newTestService(t, mock, Options{})
	ctx := context.Background()

	// memories stored before matching ran
	store := memories.NewStore(db)
	for _, in := range []memories.NewMemory{
		{OwnerID: "user-x", Description: memoryX},
		{OwnerID: "user-z", Description: "I got coffee near the station"},
		{OwnerID: "user-y", Description: memoryY},
	} {
		_, err := store.Create(ctx, in)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	res, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.EmbeddingsBackfilled)
	assert.Equal(t, 1, res.MatchesCreated)

	m := onlyMatch(t, db)
	assert.Equal(t, "user-x", m.User1ID)
	assert.Equal(t, "user-y", m.User2ID)

	again, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.MatchesCreated)
	assert.Equal(t, 0, again.EmbeddingsBackfilled)
	onlyMatch(t, db)
}

func TestReconcile_SingleFlight(t *testing.T) {
	svc, db := newTestService(t, nil, Options{Holder: "worker-1"})
	ctx := context.Background()

	locker := locking.NewLocker(db)
	ok, err := locker.Acquire(ctx, ReconcileLockKey, "worker-2")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.Reconcile(ctx)
	var lockErr *locking.LockError
	assert.True(t, errors.As(err, &lockErr))

	require.NoError(t, locker.Release(ctx, ReconcileLockKey, "worker-2"))
	_, err = svc.Reconcile(ctx)
	require.NoError(t, err)

	locked, _, err := locker.IsLocked(ctx, ReconcileLockKey)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestNotificationCounts(t *testing.T) {
	svc, _ := newTestService(t, nil, Options{})
	ctx := context.Background()

	submit(t, svc, "user-x", memoryX)
	y := submit(t, svc, "user-y", memoryY)

	for _, user := range []string{"user-x", "user-y"} {
		c, err := svc.NotificationCounts(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, int64(1), c.PendingMatches)
		assert.Equal(t, int64(0), c.UnreadMessages)
	}

	_, err := svc.RespondToMatch(ctx, y.MatchID, "user-x", true)
	require.NoError(t, err)
	c, err := svc.NotificationCounts(ctx, "user-x")
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.PendingMatches)

	st, err := svc.RespondToMatch(ctx, y.MatchID, "user-y", true)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, st.ConversationID, "user-x", "Was that you?")
	require.NoError(t, err)

	c, err = svc.NotificationCounts(ctx, "user-y")
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.PendingMatches)
	assert.Equal(t, int64(1), c.UnreadMessages)
	assert.Equal(t, int64(1), c.Total())
}

func TestDeleteAndListMemories(t *testing.T) {
	svc, _ := newTestService(t, nil, Options{})
	ctx := context.Background()

	a := submit(t, svc, "user-x", "Saw a red umbrella at the Ferry Building")
	submit(t, svc, "user-x", "Yellow raincoat at Dolores Park")

	list, err := svc.ListMemories(ctx, "user-x")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	assert.ErrorIs(t, svc.DeleteMemory(ctx, a.MemoryID, "user-y"), memories.ErrNotOwner)
	require.NoError(t, svc.DeleteMemory(ctx, a.MemoryID, "user-x"))

	list, err = svc.ListMemories(ctx, "user-x")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSubmitMemory_MatchFailureIsReported(t *testing.T) {
	svc, db := newTestService(t, nil, Options{})
	ctx := context.Background()

	x := submit(t, svc, "user-x", memoryX)

	const cb = "test:fail_match_insert"
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register(cb, func(tx *gorm.DB) {
		if tx.Statement.Table == "matches" {
			_ = tx.AddError(errors.New("disk I/O error"))
		}
	}))

	res, err := svc.SubmitMemory(ctx, SubmitRequest{OwnerID: "user-y", Text: memoryY})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMatchingIncomplete)
	assert.ErrorIs(t, err, database.ErrStoreUnavailable)
	require.NotNil(t, res, "the saved memory is still reported")
	assert.Equal(t, database.MemoryStatusWaiting, res.Status)
	assert.Empty(t, res.MatchID)

	var mem database.Memory
	require.NoError(t, db.First(&mem, "id = ?", res.MemoryID).Error)
	assert.Equal(t, database.MemoryStatusWaiting, mem.Status)

	// the sweep picks the pair up once the store recovers
	require.NoError(t, db.Callback().Create().Remove(cb))
	rec, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.MatchesCreated)
	assert.Equal(t, 0, rec.Failed)

	m := onlyMatch(t, db)
	assert.ElementsMatch(t, []string{x.MemoryID, res.MemoryID}, []string{m.Memory1ID, m.Memory2ID})
}

func TestConversationMessaging(t *testing.T) {
	svc, _ := newTestService(t, nil, Options{})
	ctx := context.Background()

	submit(t, svc, "user-x", memoryX)
	y := submit(t, svc, "user-y", memoryY)

	convs, err := svc.ListConversations(ctx, "user-x")
	require.NoError(t, err)
	assert.Empty(t, convs, "no conversation before both accept")

	_, err = svc.RespondToMatch(ctx, y.MatchID, "user-x", true)
	require.NoError(t, err)
	st, err := svc.RespondToMatch(ctx, y.MatchID, "user-y", true)
	require.NoError(t, err)

	convs, err = svc.ListConversations(ctx, "user-y")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, st.ConversationID, convs[0].ConversationID)
	assert.Equal(t, "user-x", convs[0].OtherUserID)

	_, err = svc.SendMessage(ctx, st.ConversationID, "user-x", "Black SF hat?")
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, st.ConversationID, "user-z", "hi")
	assert.ErrorIs(t, err, conversations.ErrNotInConversation)
	_, err = svc.GetConversation(ctx, st.ConversationID, "user-z")
	assert.ErrorIs(t, err, conversations.ErrNotInConversation)

	msgs, err := svc.ListMessages(ctx, st.ConversationID, "user-y", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Black SF hat?", msgs[0].Body)

	n, err := svc.MarkConversationRead(ctx, st.ConversationID, "user-y")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	c, err := svc.NotificationCounts(ctx, "user-y")
	require.NoError(t, err)
	assert.Zero(t, c.UnreadMessages)
}

func TestListMatches(t *testing.T) {
	svc, _ := newTestService(t, nil, Options{})
	ctx := context.Background()

	submit(t, svc, "user-x", memoryX)
	y := submit(t, svc, "user-y", memoryY)
	_, err := svc.RespondToMatch(ctx, y.MatchID, "user-x", false)
	require.NoError(t, err)

	list, err := svc.ListMatches(ctx, "user-y")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, database.MatchStatusDeclined, list[0].Status)
	require.NotNil(t, list[0].TheirResponse)
	assert.False(t, *list[0].TheirResponse)
	assert.Nil(t, list[0].YourResponse)

	list, err = svc.ListMatches(ctx, "user-z")
	require.NoError(t, err)
	assert.Empty(t, list)
}
