// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Memory statuses
const (
	MemoryStatusWaiting = "waiting"
	MemoryStatusMatched = "matched"
)

// Match statuses
const (
	MatchStatusPending  = "pending"
	MatchStatusAccepted = "accepted"
	MatchStatusDeclined = "declined"
)

// Match strategies
const (
	StrategyVector  = "vector"
	StrategyKeyword = "keyword"
)

// NewID returns a fresh opaque identifier.
func NewID() string {
	return uuid.NewString()
}

// User represents a MeetCute account
type User struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	Username  string         `gorm:"uniqueIndex;not null" json:"username"`
	Email     string         `json:"email"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

// BeforeCreate assigns an id when none is set
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = NewID()
	}
	return nil
}

// AuthToken represents an issued bearer token
type AuthToken struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       string    `gorm:"index;not null;size:36" json:"user_id"`
	AccessToken  string    `gorm:"uniqueIndex;not null;size:64" json:"access_token"`
	RefreshToken string    `gorm:"size:64" json:"refresh_token"`
	ExpiresAt    time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for AuthToken
func (AuthToken) TableName() string {
	return "auth_tokens"
}

// Memory is one user's narrated account of an encounter
type Memory struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID        string    `gorm:"column:owner_id;index;not null;size:36" json:"owner_id"`
	Description    string    `gorm:"type:text;not null" json:"description"`
	Location       string    `json:"location,omitempty"`
	TimePeriod     string    `gorm:"column:time_period" json:"time_period,omitempty"`
	Embedding      []byte    `json:"-"`
	EmbeddingDims  int       `gorm:"column:embedding_dims;default:0" json:"embedding_dims"`
	EmbeddingModel string    `gorm:"column:embedding_model" json:"embedding_model,omitempty"`
	ContentHash    string    `gorm:"column:content_hash" json:"content_hash,omitempty"`
	Status         string    `gorm:"index;not null;default:waiting" json:"status"`
	MatchID        *string   `gorm:"column:match_id;size:36" json:"match_id,omitempty"`
	Version        int64     `gorm:"column:version;default:1" json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for Memory
func (Memory) TableName() string {
	return "memories"
}

// BeforeCreate assigns an id when none is set
func (m *Memory) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	return nil
}

// HasEmbedding reports whether a vector has been stored for the memory
func (m *Memory) HasEmbedding() bool {
	return len(m.Embedding) > 0 && m.EmbeddingDims > 0
}

// Match links two memories owned by different users
type Match struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	Memory1ID        string     `gorm:"column:memory1_id;index;not null;size:36" json:"memory1_id"`
	Memory2ID        string     `gorm:"column:memory2_id;index;not null;size:36" json:"memory2_id"`
	MemoryLowID      string     `gorm:"column:memory_low_id;not null;size:36" json:"-"`
	MemoryHighID     string     `gorm:"column:memory_high_id;not null;size:36" json:"-"`
	User1ID          string     `gorm:"column:user1_id;index;not null;size:36" json:"user1_id"`
	User2ID          string     `gorm:"column:user2_id;index;not null;size:36" json:"user2_id"`
	ConfidenceScore  float64    `gorm:"column:confidence_score" json:"confidence_score"`
	MatchReason      string     `gorm:"column:match_reason;type:text" json:"match_reason"`
	Strategy         string     `gorm:"column:strategy" json:"strategy"`
	Status           string     `gorm:"index;not null;default:pending" json:"status"`
	User1Confirmed   *bool      `gorm:"column:user1_confirmed" json:"user1_confirmed,omitempty"`
	User2Confirmed   *bool      `gorm:"column:user2_confirmed" json:"user2_confirmed,omitempty"`
	User1RespondedAt *time.Time `gorm:"column:user1_responded_at" json:"user1_responded_at,omitempty"`
	User2RespondedAt *time.Time `gorm:"column:user2_responded_at" json:"user2_responded_at,omitempty"`
	ConversationID   *string    `gorm:"column:conversation_id;size:36" json:"conversation_id,omitempty"`
	Version          int64      `gorm:"column:version;default:1" json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName specifies the table name for Match
func (Match) TableName() string {
	return "matches"
}

// BeforeCreate assigns an id and the sorted pair columns
func (m *Match) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	m.MemoryLowID, m.MemoryHighID = SortedPair(m.Memory1ID, m.Memory2ID)
	return nil
}

// Side returns 1 or 2 for the participant slot userID occupies, or 0.
func (m *Match) Side(userID string) int {
	switch userID {
	case m.User1ID:
		return 1
	case m.User2ID:
		return 2
	}
	return 0
}

// Confirmation returns the recorded response for a side, nil if none.
func (m *Match) Confirmation(side int) *bool {
	if side == 1 {
		return m.User1Confirmed
	}
	return m.User2Confirmed
}

// OtherUser returns the participant that is not userID
func (m *Match) OtherUser(userID string) string {
	if m.User1ID == userID {
		return m.User2ID
	}
	return m.User1ID
}

// MemoryOf returns the memory id contributed by userID
func (m *Match) MemoryOf(userID string) string {
	if m.User1ID == userID {
		return m.Memory1ID
	}
	return m.Memory2ID
}

// Conversation is the private thread unlocked by an accepted match
type Conversation struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	PairKey   string    `gorm:"column:pair_key;uniqueIndex;not null" json:"pair_key"`
	MatchID   string    `gorm:"column:match_id;index;size:36" json:"match_id"`
	CreatedAt time.Time `json:"created_at"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"participants,omitempty"`
}

// TableName specifies the table name for Conversation
func (Conversation) TableName() string {
	return "conversations"
}

// BeforeCreate assigns an id when none is set
func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	return nil
}

// ConversationParticipant joins users to conversations
type ConversationParticipant struct {
	ConversationID string `gorm:"primaryKey;column:conversation_id;size:36" json:"conversation_id"`
	UserID         string `gorm:"primaryKey;column:user_id;size:36;index" json:"user_id"`
}

// TableName specifies the table name for ConversationParticipant
func (ConversationParticipant) TableName() string {
	return "conversation_participants"
}

// Message is a single chat message inside a conversation
type Message struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	ConversationID string     `gorm:"column:conversation_id;index;not null;size:36" json:"conversation_id"`
	SenderID       string     `gorm:"column:sender_id;not null;size:36" json:"sender_id"`
	Body           string     `gorm:"type:text;not null" json:"body"`
	ReadAt         *time.Time `gorm:"column:read_at" json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TableName specifies the table name for Message
func (Message) TableName() string {
	return "messages"
}

// BeforeCreate assigns an id when none is set
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	return nil
}

// MemoryDraft holds a partially narrated memory so a session can resume
type MemoryDraft struct {
	UserID     string    `gorm:"primaryKey;column:user_id;size:36" json:"user_id"`
	Transcript string    `gorm:"type:text" json:"transcript"`
	Location   string    `json:"location,omitempty"`
	TimePeriod string    `gorm:"column:time_period" json:"time_period,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName specifies the table name for MemoryDraft
func (MemoryDraft) TableName() string {
	return "memory_drafts"
}

// SortedPair orders two ids so an unordered pair has one representation.
func SortedPair(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// PairKey returns the canonical "low:high" key for two ids.
func PairKey(a, b string) string {
	low, high := SortedPair(a, b)
	return low + ":" + high
}
