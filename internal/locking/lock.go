// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package locking

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Lease is a time-bounded named lock shared by every process using the
// same database, e.g. the reconciliation sweep.
type Lease struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Version   int64     `gorm:"not null;default:1" json:"version"`
	HeldBy    string    `gorm:"not null" json:"held_by"`
	LockedAt  time.Time `gorm:"not null" json:"locked_at"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
}

// TableName specifies the table name for Lease
func (Lease) TableName() string {
	return "leases"
}

// MigrateLocks runs migrations for the leases table
func MigrateLocks(db *gorm.DB) error {
	return db.AutoMigrate(&Lease{})
}

// IsExpired returns true if the lease has expired
func (l *Lease) IsExpired() bool {
	return time.Now().After(l.ExpiresAt)
}

// ConflictError represents a version conflict during update
type ConflictError struct {
	Table           string
	ID              string
	ExpectedVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s %s: expected version %d", e.Table, e.ID, e.ExpectedVersion)
}

// LockError represents a locking failure
type LockError struct {
	Key     string
	HeldBy  string
	Message string
}

func (e *LockError) Error() string {
	return e.Message
}
