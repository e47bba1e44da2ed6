// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package conversations provisions the private two-party threads unlocked by
// accepted matches and stores their messages.
package conversations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tejzpr/meetcute/internal/database"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotInConversation    = errors.New("user is not in this conversation")
	ErrEmptyMessage         = errors.New("message body cannot be empty")
	ErrSameUser             = errors.New("a conversation needs two different users")
)

// Provisioner creates at most one conversation per user pair
type Provisioner struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewProvisioner creates a provisioner
func NewProvisioner(db *gorm.DB, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{db: db, logger: logger}
}

// EnsureConversation returns the conversation for the pair, creating it if
// needed. Concurrent callers for the same pair get the same id.
func (p *Provisioner) EnsureConversation(ctx context.Context, userA, userB, matchID string) (string, error) {
	if userA == "" || userB == "" || userA == userB {
		return "", ErrSameUser
	}
	key := database.PairKey(userA, userB)

	if id, err := p.findByPairKey(ctx, key); err != nil || id != "" {
		return id, err
	}

	low, high := database.SortedPair(userA, userB)
	conv := &database.Conversation{
		PairKey: key,
		MatchID: matchID,
		Participants: []database.ConversationParticipant{
			{UserID: low},
			{UserID: high},
		},
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(conv).Error
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			// someone else created it between our read and insert
			id, ferr := p.findByPairKey(ctx, key)
			if ferr != nil {
				return "", ferr
			}
			if id != "" {
				return id, nil
			}
		}
		return "", database.Unavailable(err)
	}

	p.logger.Info("conversation created", "conversation_id", conv.ID, "match_id", matchID)
	return conv.ID, nil
}

func (p *Provisioner) findByPairKey(ctx context.Context, key string) (string, error) {
	var conv database.Conversation
	err := p.db.WithContext(ctx).Select("id").First(&conv, "pair_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", database.Unavailable(err)
	}
	return conv.ID, nil
}

// Get loads a conversation with its participants. userID must be one of them.
func (p *Provisioner) Get(ctx context.Context, id, userID string) (*database.Conversation, error) {
	var conv database.Conversation
	err := p.db.WithContext(ctx).Preload("Participants").First(&conv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	if err != nil {
		return nil, database.Unavailable(err)
	}
	for _, part := range conv.Participants {
		if part.UserID == userID {
			return &conv, nil
		}
	}
	return nil, ErrNotInConversation
}

// ListForUser returns the user's conversations, newest first
func (p *Provisioner) ListForUser(ctx context.Context, userID string) ([]database.Conversation, error) {
	var out []database.Conversation
	err := p.db.WithContext(ctx).
		Preload("Participants").
		Where("id IN (?)", p.db.Model(&database.ConversationParticipant{}).
			Select("conversation_id").Where("user_id = ?", userID)).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, database.Unavailable(err)
	}
	return out, nil
}

func (p *Provisioner) requireParticipant(ctx context.Context, conversationID, userID string) error {
	var n int64
	err := p.db.WithContext(ctx).Model(&database.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&n).Error
	if err != nil {
		return database.Unavailable(err)
	}
	if n == 0 {
		return ErrNotInConversation
	}
	return nil
}

// SendMessage appends a message from a participant
func (p *Provisioner) SendMessage(ctx context.Context, conversationID, senderID, body string) (*database.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyMessage
	}
	if err := p.requireParticipant(ctx, conversationID, senderID); err != nil {
		return nil, err
	}

	msg := &database.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
	}
	if err := p.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, database.Unavailable(err)
	}
	return msg, nil
}

// ListMessages returns messages oldest first. limit <= 0 means all.
func (p *Provisioner) ListMessages(ctx context.Context, conversationID, userID string, limit int) ([]database.Message, error) {
	if err := p.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	q := p.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []database.Message
	if err := q.Find(&out).Error; err != nil {
		return nil, database.Unavailable(err)
	}
	return out, nil
}

// MarkRead marks every message from the other participant as read
func (p *Provisioner) MarkRead(ctx context.Context, conversationID, userID string) (int64, error) {
	if err := p.requireParticipant(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	res := p.db.WithContext(ctx).Model(&database.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", conversationID, userID).
		Update("read_at", time.Now())
	if res.Error != nil {
		return 0, database.Unavailable(res.Error)
	}
	return res.RowsAffected, nil
}

// CountUnread counts unread messages addressed to userID across conversations
func (p *Provisioner) CountUnread(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := p.db.WithContext(ctx).Model(&database.Message{}).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = messages.conversation_id").
		Where("cp.user_id = ? AND messages.sender_id <> ? AND messages.read_at IS NULL", userID, userID).
		Count(&n).Error
	if err != nil {
		return 0, database.Unavailable(err)
	}
	return n, nil
}
