// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package service exposes the matching engine's operations to the MCP and
// HTTP surfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/tejzpr/meetcute/internal/conversations"
	"github.com/tejzpr/meetcute/internal/database"
	"github.com/tejzpr/meetcute/internal/embeddings"
	"github.com/tejzpr/meetcute/internal/locking"
	"github.com/tejzpr/meetcute/internal/matching"
	"github.com/tejzpr/meetcute/internal/memories"
	"github.com/tejzpr/meetcute/internal/notifications"
)

const (
	// DefaultEmbedTimeout bounds the embedding call made during submission
	DefaultEmbedTimeout = 10 * time.Second
	// DefaultSummaryLength is the rune limit for memory summaries shown to the other user
	DefaultSummaryLength = 120
	// ReconcileLockKey is the lease key that keeps sweeps single-flight
	ReconcileLockKey = "reconcile"
	// backfillBatch caps embeddings requested per sweep
	backfillBatch = 100
)

// Options configures a Service
type Options struct {
	ReopenOnDecline bool
	EmbedTimeout    time.Duration
	SummaryLength   int
	// Holder identifies this process in lease records
	Holder string
	Logger *slog.Logger
}

// Service wires the memory store, matching engine and conversation provisioning
type Service struct {
	store         *memories.Store
	search        *matching.CandidateSearch
	lifecycle     *matching.Lifecycle
	conversations *conversations.Provisioner
	counter       *notifications.Counter
	locker        *locking.Locker
	embedder      embeddings.Client
	opts          Options
	logger        *slog.Logger
}

// New creates a service. embedder may be nil, in which case matching relies
// on keyword rules only.
func New(db *gorm.DB, scorer *matching.Scorer, embedder embeddings.Client, opts Options) *Service {
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = DefaultEmbedTimeout
	}
	if opts.SummaryLength <= 0 {
		opts.SummaryLength = DefaultSummaryLength
	}
	if opts.Holder == "" {
		host, _ := os.Hostname()
		opts.Holder = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := memories.NewStore(db)
	convs := conversations.NewProvisioner(db, logger)
	lifecycle := matching.NewLifecycle(db, convs, matching.LifecycleOptions{
		ReopenOnDecline: opts.ReopenOnDecline,
		Logger:          logger,
	})

	return &Service{
		store:         store,
		search:        matching.NewCandidateSearch(store, scorer),
		lifecycle:     lifecycle,
		conversations: convs,
		counter:       notifications.NewCounter(lifecycle, convs),
		locker:        locking.NewLocker(db),
		embedder:      embedder,
		opts:          opts,
		logger:        logger,
	}
}

// ErrMatchingIncomplete is returned alongside a SubmitResult when the memory
// was stored but candidate search or match creation failed. The wrapped error
// carries the cause.
var ErrMatchingIncomplete = errors.New("memory saved but matching did not complete")

// SubmitRequest is the input for SubmitMemory
type SubmitRequest struct {
	OwnerID    string `json:"owner_id"`
	Text       string `json:"text"`
	Location   string `json:"location,omitempty"`
	TimePeriod string `json:"time_period,omitempty"`
}

// SubmitResult reports what happened to a submitted memory
type SubmitResult struct {
	MemoryID   string  `json:"memory_id"`
	Status     string  `json:"status"`
	Embedded   bool    `json:"embedded"`
	MatchID    string  `json:"match_id,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// SubmitMemory stores a memory, embeds it when a provider is configured, and
// matches it against the best waiting candidate. The memory is kept even if
// embedding or matching fails. A matching failure returns the result together
// with an error wrapping ErrMatchingIncomplete; the next reconcile sweep
// retries the memory.
func (s *Service) SubmitMemory(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	mem, err := s.store.Create(ctx, memories.NewMemory{
		OwnerID:     req.OwnerID,
		Description: req.Text,
		Location:    req.Location,
		TimePeriod:  req.TimePeriod,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("memory submitted", "memory_id", mem.ID, "owner_id", mem.OwnerID)

	if err := s.store.DeleteDraft(ctx, req.OwnerID); err != nil {
		s.logger.Warn("failed to clear draft", "user_id", req.OwnerID, "error", err)
	}

	result := &SubmitResult{MemoryID: mem.ID, Status: mem.Status}
	if s.embed(ctx, mem) {
		result.Embedded = true
	}

	candidates, err := s.search.FindCandidates(ctx, mem)
	if err != nil {
		s.logger.Warn("candidate search failed", "memory_id", mem.ID, "error", err)
		return result, fmt.Errorf("%w: %w", ErrMatchingIncomplete, err)
	}

	for _, c := range candidates {
		candidate := c.Memory
		m, err := s.lifecycle.CreateMatch(ctx, &candidate, mem, c.Score)
		if err != nil {
			if matching.IsSkippable(err) {
				s.logger.Debug("candidate skipped", "memory_id", mem.ID, "candidate_id", candidate.ID, "reason", err)
				continue
			}
			s.logger.Warn("match creation failed", "memory_id", mem.ID, "candidate_id", candidate.ID, "error", err)
			return result, fmt.Errorf("%w: %w", ErrMatchingIncomplete, err)
		}
		result.Status = database.MemoryStatusMatched
		result.MatchID = m.ID
		result.Confidence = m.ConfidenceScore
		result.Reason = m.MatchReason
		break
	}
	return result, nil
}

// embed stores a vector for mem. Failures are logged and leave mem unembedded.
func (s *Service) embed(ctx context.Context, mem *database.Memory) bool {
	if s.embedder == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.EmbedTimeout)
	defer cancel()

	vec, err := s.embedder.Embed(ctx, memories.Text(mem))
	if err == nil {
		err = s.store.SetEmbedding(ctx, mem.ID, vec, s.embedder.GetModelInfo().Name)
	}
	if err != nil {
		s.logger.Warn("embedding failed, continuing with keyword matching", "memory_id", mem.ID, "error", err)
		return false
	}

	mem.Embedding = embeddings.Float32SliceToBlob(vec)
	mem.EmbeddingDims = len(vec)
	mem.EmbeddingModel = s.embedder.GetModelInfo().Name
	return true
}

// PendingMatch is a match still waiting on the caller's answer
type PendingMatch struct {
	MatchID            string    `json:"match_id"`
	OtherUserID        string    `json:"other_user_id"`
	OtherMemorySummary string    `json:"other_memory_summary"`
	Confidence         float64   `json:"confidence"`
	Reason             string    `json:"reason"`
	CreatedAt          time.Time `json:"created_at"`
}

// ListPendingMatches returns matches the user has not answered yet
func (s *Service) ListPendingMatches(ctx context.Context, userID string) ([]PendingMatch, error) {
	matches, err := s.lifecycle.PendingFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]PendingMatch, 0, len(matches))
	for i := range matches {
		m := &matches[i]
		summary := ""
		if other, err := s.store.Get(ctx, m.MemoryOf(m.OtherUser(userID))); err == nil {
			summary = memories.Summarize(other.Description, s.opts.SummaryLength)
		} else if !errors.Is(err, memories.ErrMemoryNotFound) {
			return nil, err
		}
		out = append(out, PendingMatch{
			MatchID:            m.ID,
			OtherUserID:        m.OtherUser(userID),
			OtherMemorySummary: summary,
			Confidence:         m.ConfidenceScore,
			Reason:             m.MatchReason,
			CreatedAt:          m.CreatedAt,
		})
	}
	return out, nil
}

// MatchState is the caller's view of a match after responding
type MatchState struct {
	MatchID        string `json:"match_id"`
	Status         string `json:"status"`
	YourResponse   *bool  `json:"your_response,omitempty"`
	TheirResponse  *bool  `json:"their_response,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// RespondToMatch records the user's accept or decline
func (s *Service) RespondToMatch(ctx context.Context, matchID, userID string, accept bool) (*MatchState, error) {
	m, err := s.lifecycle.Respond(ctx, matchID, userID, accept)
	if err != nil {
		if errors.Is(err, matching.ErrAlreadyResponded) || errors.Is(err, matching.ErrNotAParticipant) {
			s.logger.Warn("match response rejected", "match_id", matchID, "user_id", userID, "error", err)
		}
		return nil, err
	}
	return stateFor(m, userID), nil
}

func stateFor(m *database.Match, userID string) *MatchState {
	side := m.Side(userID)
	other := 1
	if side == 1 {
		other = 2
	}
	st := &MatchState{
		MatchID:       m.ID,
		Status:        m.Status,
		YourResponse:  m.Confirmation(side),
		TheirResponse: m.Confirmation(other),
	}
	if m.ConversationID != nil {
		st.ConversationID = *m.ConversationID
	}
	return st
}

// ListMatches returns every match the user is part of, newest first
func (s *Service) ListMatches(ctx context.Context, userID string) ([]MatchState, error) {
	matches, err := s.lifecycle.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]MatchState, 0, len(matches))
	for i := range matches {
		out = append(out, *stateFor(&matches[i], userID))
	}
	return out, nil
}

// ReconcileResult summarizes a sweep
type ReconcileResult struct {
	MatchesCreated       int `json:"matches_created"`
	EmbeddingsBackfilled int `json:"embeddings_backfilled"`
	Skipped              int `json:"skipped"`
	// Failed counts pairs lost to store errors; they are retried next sweep
	Failed int `json:"failed"`
}

// Reconcile backfills missing embeddings, then scores every waiting pair and
// creates matches greedily, best first. Running it again with no new input
// creates nothing. Only one sweep runs at a time across processes sharing
// the store; a concurrent call gets a *locking.LockError.
func (s *Service) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	result := &ReconcileResult{}
	err := s.locker.WithLock(ctx, ReconcileLockKey, s.opts.Holder, func() error {
		result.EmbeddingsBackfilled = s.backfill(ctx)

		pairs, err := s.search.Sweep(ctx)
		if err != nil {
			return err
		}

		for i := range pairs {
			if err := ctx.Err(); err != nil {
				return err
			}
			p := &pairs[i]
			_, err := s.lifecycle.CreateMatch(ctx, &p.A, &p.B, p.Score)
			switch {
			case err == nil:
				result.MatchesCreated++
			case matching.IsSkippable(err):
				result.Skipped++
			default:
				s.logger.Warn("sweep match failed", "memory1_id", p.A.ID, "memory2_id", p.B.ID, "error", err)
				result.Failed++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("reconcile finished",
		"matches_created", result.MatchesCreated,
		"embeddings_backfilled", result.EmbeddingsBackfilled,
		"skipped", result.Skipped,
		"failed", result.Failed)
	return result, nil
}

func (s *Service) backfill(ctx context.Context) int {
	if s.embedder == nil {
		return 0
	}
	missing, err := s.store.ListMissingEmbeddings(ctx, backfillBatch)
	if err != nil {
		s.logger.Warn("failed to list memories without embeddings", "error", err)
		return 0
	}

	n := 0
	for i := range missing {
		if s.embed(ctx, &missing[i]) {
			n++
		}
	}
	return n
}

// NotificationCounts returns the user's badge counts
func (s *Service) NotificationCounts(ctx context.Context, userID string) (notifications.Counts, error) {
	return s.counter.Counts(ctx, userID)
}

// SaveDraft stores the user's in-progress memory
func (s *Service) SaveDraft(ctx context.Context, draft *database.MemoryDraft) error {
	return s.store.SaveDraft(ctx, draft)
}

// GetDraft returns the user's in-progress memory
func (s *Service) GetDraft(ctx context.Context, userID string) (*database.MemoryDraft, error) {
	return s.store.GetDraft(ctx, userID)
}

// DeleteMemory withdraws a memory that has not been matched yet
func (s *Service) DeleteMemory(ctx context.Context, memoryID, userID string) error {
	return s.store.Delete(ctx, memoryID, userID)
}

// ListMemories returns the user's memories, newest first
func (s *Service) ListMemories(ctx context.Context, userID string) ([]database.Memory, error) {
	return s.store.ListByOwner(ctx, userID)
}

// ConversationView is one of the caller's conversations
type ConversationView struct {
	ConversationID string    `json:"conversation_id"`
	MatchID        string    `json:"match_id"`
	OtherUserID    string    `json:"other_user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func viewFor(conv *database.Conversation, userID string) ConversationView {
	v := ConversationView{
		ConversationID: conv.ID,
		MatchID:        conv.MatchID,
		CreatedAt:      conv.CreatedAt,
	}
	for _, part := range conv.Participants {
		if part.UserID != userID {
			v.OtherUserID = part.UserID
		}
	}
	return v
}

// ListConversations returns the conversations unlocked for the user, newest first
func (s *Service) ListConversations(ctx context.Context, userID string) ([]ConversationView, error) {
	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationView, 0, len(convs))
	for i := range convs {
		out = append(out, viewFor(&convs[i], userID))
	}
	return out, nil
}

// GetConversation returns one of the user's conversations
func (s *Service) GetConversation(ctx context.Context, conversationID, userID string) (*ConversationView, error) {
	conv, err := s.conversations.Get(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	v := viewFor(conv, userID)
	return &v, nil
}

// SendMessage posts a message from the user into a conversation they are part of
func (s *Service) SendMessage(ctx context.Context, conversationID, userID, body string) (*database.Message, error) {
	return s.conversations.SendMessage(ctx, conversationID, userID, body)
}

// ListMessages returns a conversation's messages oldest first. limit <= 0 means all.
func (s *Service) ListMessages(ctx context.Context, conversationID, userID string, limit int) ([]database.Message, error) {
	return s.conversations.ListMessages(ctx, conversationID, userID, limit)
}

// MarkConversationRead clears the user's unread messages in a conversation
func (s *Service) MarkConversationRead(ctx context.Context, conversationID, userID string) (int64, error) {
	return s.conversations.MarkRead(ctx, conversationID, userID)
}
