// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/tejzpr/meetcute/internal/database"
	"github.com/tejzpr/meetcute/internal/locking"
)

// ConversationEnsurer provisions the conversation for an accepted match
type ConversationEnsurer interface {
	EnsureConversation(ctx context.Context, userA, userB, matchID string) (string, error)
}

// LifecycleOptions configures a Lifecycle
type LifecycleOptions struct {
	// ReopenOnDecline returns both memories to the waiting pool when a match is declined
	ReopenOnDecline bool
	MaxRetries      int
	RetryDelay      time.Duration
	Logger          *slog.Logger
}

// Lifecycle creates matches and drives them through the confirmation states
type Lifecycle struct {
	db            *gorm.DB
	conversations ConversationEnsurer
	opts          LifecycleOptions
	logger        *slog.Logger
}

// NewLifecycle creates a lifecycle manager
func NewLifecycle(db *gorm.DB, conversations ConversationEnsurer, opts LifecycleOptions) *Lifecycle {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = locking.MaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = locking.RetryDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		db:            db,
		conversations: conversations,
		opts:          opts,
		logger:        logger,
	}
}

// CreateMatch links a and b in a pending match and marks both memories matched,
// all in one transaction. a becomes memory1/user1.
func (l *Lifecycle) CreateMatch(ctx context.Context, a, b *database.Memory, score Score) (*database.Match, error) {
	ctx = context.WithoutCancel(ctx)

	if a.ID == b.ID {
		return nil, fmt.Errorf("%w: cannot match a memory with itself", ErrSameOwner)
	}

	var match *database.Match
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ma, mb database.Memory
		if err := tx.First(&ma, "id = ?", a.ID).Error; err != nil {
			return memoryLookupError(a.ID, err)
		}
		if err := tx.First(&mb, "id = ?", b.ID).Error; err != nil {
			return memoryLookupError(b.ID, err)
		}
		if ma.OwnerID == mb.OwnerID {
			return ErrSameOwner
		}

		low, high := database.SortedPair(ma.ID, mb.ID)
		var existing int64
		if err := tx.Model(&database.Match{}).
			Where("memory_low_id = ? AND memory_high_id = ?", low, high).
			Count(&existing).Error; err != nil {
			return database.Unavailable(err)
		}
		if existing > 0 {
			return ErrDuplicateMatch
		}

		if ma.Status != database.MemoryStatusWaiting || mb.Status != database.MemoryStatusWaiting {
			return ErrMemoryNotWaiting
		}

		m := &database.Match{
			Memory1ID:       ma.ID,
			Memory2ID:       mb.ID,
			User1ID:         ma.OwnerID,
			User2ID:         mb.OwnerID,
			ConfidenceScore: score.Confidence,
			MatchReason:     score.Reason,
			Strategy:        score.Strategy,
			Status:          database.MatchStatusPending,
			Version:         1,
		}
		if err := tx.Create(m).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return ErrDuplicateMatch
			}
			return database.Unavailable(err)
		}

		res := tx.Model(&database.Memory{}).
			Where("id IN ? AND status = ?", []string{ma.ID, mb.ID}, database.MemoryStatusWaiting).
			Updates(map[string]interface{}{
				"status":   database.MemoryStatusMatched,
				"match_id": m.ID,
				"version":  gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return database.Unavailable(res.Error)
		}
		if res.RowsAffected != 2 {
			// another transaction matched one of them first
			return ErrMemoryNotWaiting
		}

		match = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("match created",
		"match_id", match.ID,
		"memory1_id", match.Memory1ID,
		"memory2_id", match.Memory2ID,
		"strategy", match.Strategy,
		"confidence", match.ConfidenceScore)
	return match, nil
}

func memoryLookupError(id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: memory %s not found", ErrMemoryNotWaiting, id)
	}
	return database.Unavailable(err)
}

// Get loads a match by id
func (l *Lifecycle) Get(ctx context.Context, matchID string) (*database.Match, error) {
	var m database.Match
	err := l.db.WithContext(ctx).First(&m, "id = ?", matchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}
	if err != nil {
		return nil, database.Unavailable(err)
	}
	return &m, nil
}

// Respond records userID's answer. Declining closes the match at once. The
// call whose update completes the second confirmation provisions the
// conversation. Repeating an earlier answer returns the current state and
// finishes any interrupted provisioning.
func (l *Lifecycle) Respond(ctx context.Context, matchID, userID string, accept bool) (*database.Match, error) {
	ctx = context.WithoutCancel(ctx)

	var (
		current   *database.Match
		provision bool
	)
	err := locking.RetryWithBackoff(l.opts.MaxRetries, l.opts.RetryDelay, func() error {
		provision = false

		m, err := l.Get(ctx, matchID)
		if err != nil {
			return err
		}
		side := m.Side(userID)
		if side == 0 {
			return ErrNotAParticipant
		}

		if prior := m.Confirmation(side); prior != nil {
			if *prior != accept {
				return ErrAlreadyResponded
			}
			current = m
			provision = m.Status == database.MatchStatusAccepted && m.ConversationID == nil
			return nil
		}

		if m.Status != database.MatchStatusPending {
			return ErrMatchClosed
		}

		now := time.Now()
		prefix := fmt.Sprintf("user%d_", side)
		updates := map[string]interface{}{
			prefix + "confirmed":    accept,
			prefix + "responded_at": now,
			"updated_at":            now,
		}
		switch {
		case !accept:
			updates["status"] = database.MatchStatusDeclined
		case isTrue(m.Confirmation(otherSide(side))):
			updates["status"] = database.MatchStatusAccepted
			provision = true
		}

		err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := locking.UpdateWithVersion(tx, "matches", m.ID, m.Version, updates); err != nil {
				return err
			}
			if !accept && l.opts.ReopenOnDecline {
				return reopenMemories(tx, m.ID)
			}
			return nil
		})
		if err != nil {
			var conflict *locking.ConflictError
			if errors.As(err, &conflict) {
				return err
			}
			return database.Unavailable(err)
		}

		current, err = l.Get(ctx, matchID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if provision {
		return l.provision(ctx, current)
	}

	l.logger.Info("match response recorded",
		"match_id", current.ID,
		"user_id", userID,
		"accept", accept,
		"status", current.Status)
	return current, nil
}

// provision ensures the conversation for an accepted match and records its id
func (l *Lifecycle) provision(ctx context.Context, m *database.Match) (*database.Match, error) {
	convID, err := l.conversations.EnsureConversation(ctx, m.User1ID, m.User2ID, m.ID)
	if err != nil {
		l.logger.Error("conversation provisioning failed", "match_id", m.ID, "error", err)
		return m, fmt.Errorf("failed to provision conversation: %w", err)
	}

	res := l.db.WithContext(ctx).Model(&database.Match{}).
		Where("id = ? AND conversation_id IS NULL", m.ID).
		Updates(map[string]interface{}{
			"conversation_id": convID,
			"version":         gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return m, database.Unavailable(res.Error)
	}

	l.logger.Info("match accepted", "match_id", m.ID, "conversation_id", convID)
	return l.Get(ctx, m.ID)
}

func reopenMemories(tx *gorm.DB, matchID string) error {
	err := tx.Model(&database.Memory{}).
		Where("match_id = ? AND status = ?", matchID, database.MemoryStatusMatched).
		Updates(map[string]interface{}{
			"status":   database.MemoryStatusWaiting,
			"match_id": nil,
			"version":  gorm.Expr("version + 1"),
		}).Error
	return err
}

// PendingFor returns pending matches still awaiting userID's answer, oldest first
func (l *Lifecycle) PendingFor(ctx context.Context, userID string) ([]database.Match, error) {
	var out []database.Match
	err := l.pendingQuery(ctx, userID).Order("created_at ASC").Find(&out).Error
	if err != nil {
		return nil, database.Unavailable(err)
	}
	return out, nil
}

// CountPendingFor counts PendingFor without loading rows
func (l *Lifecycle) CountPendingFor(ctx context.Context, userID string) (int64, error) {
	var n int64
	if err := l.pendingQuery(ctx, userID).Count(&n).Error; err != nil {
		return 0, database.Unavailable(err)
	}
	return n, nil
}

func (l *Lifecycle) pendingQuery(ctx context.Context, userID string) *gorm.DB {
	return l.db.WithContext(ctx).Model(&database.Match{}).
		Where("status = ?", database.MatchStatusPending).
		Where("((user1_id = ? AND user1_confirmed IS NULL) OR (user2_id = ? AND user2_confirmed IS NULL))", userID, userID)
}

// ListForUser returns every match userID participates in, newest first
func (l *Lifecycle) ListForUser(ctx context.Context, userID string) ([]database.Match, error) {
	var out []database.Match
	err := l.db.WithContext(ctx).
		Where("(user1_id = ? OR user2_id = ?)", userID, userID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, database.Unavailable(err)
	}
	return out, nil
}

func otherSide(side int) int {
	if side == 1 {
		return 2
	}
	return 1
}

func isTrue(b *bool) bool {
	return b != nil && *b
}
