// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DefaultLockTTL is the default time-to-live for leases
const DefaultLockTTL = 5 * time.Minute

// MaxRetries is the default number of attempts for optimistic locking
const MaxRetries = 5

// RetryDelay is the initial delay between retries
const RetryDelay = 10 * time.Millisecond

// Locker hands out leases stored in the database
type Locker struct {
	db      *gorm.DB
	lockTTL time.Duration
}

// NewLocker creates a new locker instance
func NewLocker(db *gorm.DB) *Locker {
	return &Locker{
		db:      db,
		lockTTL: DefaultLockTTL,
	}
}

// WithTTL sets a custom TTL for leases
func (l *Locker) WithTTL(ttl time.Duration) *Locker {
	l.lockTTL = ttl
	return l
}

// Acquire attempts to take the lease for key.
// Returns false if another holder owns an unexpired lease.
func (l *Locker) Acquire(ctx context.Context, key, holder string) (bool, error) {
	now := time.Now()
	db := l.db.WithContext(ctx)

	var existing Lease
	err := db.Where("key = ?", key).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		lease := Lease{
			Key:       key,
			Version:   1,
			HeldBy:    holder,
			LockedAt:  now,
			ExpiresAt: now.Add(l.lockTTL),
		}
		if err := db.Create(&lease).Error; err != nil {
			// lost the insert race
			return false, nil
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if !existing.IsExpired() && existing.HeldBy != holder {
		return false, nil
	}

	// take over, guarded by version
	err = UpdateKeyWithVersion(db, "leases", "key", key, existing.Version, map[string]interface{}{
		"held_by":    holder,
		"locked_at":  now,
		"expires_at": now.Add(l.lockTTL),
	})
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Release releases a lease held by the specified holder
func (l *Locker) Release(ctx context.Context, key, holder string) error {
	return l.db.WithContext(ctx).Where("key = ? AND held_by = ?", key, holder).
		Delete(&Lease{}).Error
}

// IsLocked checks if a key is currently leased
func (l *Locker) IsLocked(ctx context.Context, key string) (bool, string, error) {
	var lease Lease
	err := l.db.WithContext(ctx).Where("key = ?", key).First(&lease).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	if lease.IsExpired() {
		return false, "", nil
	}
	return true, lease.HeldBy, nil
}

// CleanupExpired removes all expired leases
func (l *Locker) CleanupExpired(ctx context.Context) (int64, error) {
	result := l.db.WithContext(ctx).Where("expires_at < ?", time.Now()).Delete(&Lease{})
	return result.RowsAffected, result.Error
}

// WithLock executes fn while holding the lease for key
func (l *Locker) WithLock(ctx context.Context, key, holder string, fn func() error) error {
	acquired, err := l.Acquire(ctx, key, holder)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return &LockError{
			Key:     key,
			Message: fmt.Sprintf("lock %s is held by another process", key),
		}
	}

	defer l.Release(context.WithoutCancel(ctx), key, holder) //nolint:errcheck

	return fn()
}

// UpdateWithVersion performs an optimistic locking update on a row keyed by id.
// Returns ConflictError if the stored version moved on.
func UpdateWithVersion(db *gorm.DB, table string, id string, currentVersion int64, updates map[string]interface{}) error {
	return UpdateKeyWithVersion(db, table, "id", id, currentVersion, updates)
}

// UpdateKeyWithVersion is UpdateWithVersion for tables whose key column is not "id"
func UpdateKeyWithVersion(db *gorm.DB, table, keyColumn, key string, currentVersion int64, updates map[string]interface{}) error {
	updates["version"] = gorm.Expr("version + 1")

	result := db.Table(table).
		Where(keyColumn+" = ? AND version = ?", key, currentVersion).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		var count int64
		db.Table(table).Where(keyColumn+" = ?", key).Count(&count)
		if count > 0 {
			return &ConflictError{
				Table:           table,
				ID:              key,
				ExpectedVersion: currentVersion,
			}
		}
		return fmt.Errorf("record not found: %s", key)
	}

	return nil
}

// ErrRetriesExhausted wraps the last ConflictError once RetryWithBackoff gives up
var ErrRetriesExhausted = errors.New("max retries exceeded")

// RetryWithBackoff retries fn with exponential backoff while it returns a
// ConflictError. After the last attempt it returns at once with an error
// wrapping both ErrRetriesExhausted and the final *ConflictError.
func RetryWithBackoff(maxRetries int, initialDelay time.Duration, fn func() error) error {
	var lastErr error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			return err
		}
		if i == maxRetries-1 {
			break
		}
		time.Sleep(delay)
		delay *= 2
	}

	return fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}
