// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package memories persists narrated encounter memories and resumable drafts.
package memories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tejzpr/meetcute/internal/database"
	"github.com/tejzpr/meetcute/internal/embeddings"
)

var (
	ErrMemoryNotFound   = errors.New("memory not found")
	ErrMemoryNotWaiting = errors.New("memory is no longer waiting")
	ErrNotOwner         = errors.New("memory belongs to another user")
	ErrInvalidMemory    = errors.New("invalid memory")
	ErrDraftNotFound    = errors.New("draft not found")
)

// NewMemory is the input for Create
type NewMemory struct {
	OwnerID     string
	Description string
	Location    string
	TimePeriod  string
}

// Store reads and writes memories
type Store struct {
	db *gorm.DB
}

// NewStore creates a memory store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create persists a memory in the waiting state, without an embedding
func (s *Store) Create(ctx context.Context, in NewMemory) (*database.Memory, error) {
	if in.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidMemory)
	}
	m := &database.Memory{
		OwnerID:     in.OwnerID,
		Description: Sanitize(in.Description),
		Location:    Sanitize(in.Location),
		TimePeriod:  Sanitize(in.TimePeriod),
		Status:      database.MemoryStatusWaiting,
		Version:     1,
	}
	if err := ValidateDescription(m.Description); err != nil {
		return nil, err
	}
	m.ContentHash = embeddings.CalculateContentHash(Text(m))

	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, database.Unavailable(err)
	}
	return m, nil
}

// Get loads a memory by id
func (s *Store) Get(ctx context.Context, id string) (*database.Memory, error) {
	var m database.Memory
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMemoryNotFound, id)
	}
	if err != nil {
		return nil, database.Unavailable(err)
	}
	return &m, nil
}

// ListWaiting returns waiting memories oldest first, skipping excludeOwnerID if set
func (s *Store) ListWaiting(ctx context.Context, excludeOwnerID string) ([]database.Memory, error) {
	q := s.db.WithContext(ctx).Where("status = ?", database.MemoryStatusWaiting)
	if excludeOwnerID != "" {
		q = q.Where("owner_id <> ?", excludeOwnerID)
	}
	var out []database.Memory
	if err := q.Order("created_at ASC, id ASC").Find(&out).Error; err != nil {
		return nil, database.Unavailable(err)
	}
	return out, nil
}

// ListByOwner returns a user's memories, newest first
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]database.Memory, error) {
	var out []database.Memory
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, database.Unavailable(err)
	}
	return out, nil
}

// ListMissingEmbeddings returns waiting memories without a stored vector
func (s *Store) ListMissingEmbeddings(ctx context.Context, limit int) ([]database.Memory, error) {
	q := s.db.WithContext(ctx).
		Where("status = ? AND (embedding IS NULL OR embedding_dims = 0)", database.MemoryStatusWaiting).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []database.Memory
	if err := q.Find(&out).Error; err != nil {
		return nil, database.Unavailable(err)
	}
	return out, nil
}

// SetEmbedding stores a validated vector for a memory
func (s *Store) SetEmbedding(ctx context.Context, id string, vec []float32, model string) error {
	if err := embeddings.Validate(vec, 0); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&database.Memory{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"embedding":       embeddings.Float32SliceToBlob(vec),
			"embedding_dims":  len(vec),
			"embedding_model": model,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return database.Unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrMemoryNotFound, id)
	}
	return nil
}

// Delete removes a memory. Only the owner may delete, and only while waiting.
func (s *Store) Delete(ctx context.Context, id, ownerID string) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.OwnerID != ownerID {
		return ErrNotOwner
	}

	res := s.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, database.MemoryStatusWaiting).
		Delete(&database.Memory{})
	if res.Error != nil {
		return database.Unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrMemoryNotWaiting
	}
	return nil
}

// SaveDraft upserts the caller's in-progress memory
func (s *Store) SaveDraft(ctx context.Context, draft *database.MemoryDraft) error {
	if draft.UserID == "" {
		return fmt.Errorf("%w: draft owner is required", ErrInvalidMemory)
	}
	draft.Transcript = controlRegex.ReplaceAllString(draft.Transcript, "")
	draft.UpdatedAt = time.Now()

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"transcript", "location", "time_period", "updated_at"}),
	}).Create(draft).Error
	return database.Unavailable(err)
}

// GetDraft returns the caller's draft or ErrDraftNotFound
func (s *Store) GetDraft(ctx context.Context, userID string) (*database.MemoryDraft, error) {
	var d database.MemoryDraft
	err := s.db.WithContext(ctx).First(&d, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, database.Unavailable(err)
	}
	return &d, nil
}

// DeleteDraft clears the caller's draft; missing drafts are not an error
func (s *Store) DeleteDraft(ctx context.Context, userID string) error {
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&database.MemoryDraft{}).Error
	return database.Unavailable(err)
}
