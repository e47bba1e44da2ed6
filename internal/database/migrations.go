// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// AllModels returns all database models for migration
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&AuthToken{},
		&Memory{},
		&Match{},
		&Conversation{},
		&ConversationParticipant{},
		&Message{},
		&MemoryDraft{},
	}
}

// Migrate runs schema migrations and creates the additional indexes
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := CreateIndexes(db); err != nil {
		return err
	}
	return nil
}

// DropAllTables drops all tables (use with caution!)
func DropAllTables(db *gorm.DB) error {
	models := AllModels()
	for i := len(models) - 1; i >= 0; i-- {
		if err := db.Migrator().DropTable(models[i]); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	return nil
}

type indexDef struct {
	table   string
	columns []string
	name    string
	unique  bool
	where   string
}

var indexes = []indexDef{
	{
		// one live match per unordered memory pair; declined rows do not count
		table:   "matches",
		columns: []string{"memory_low_id", "memory_high_id"},
		name:    "idx_matches_active_pair",
		unique:  true,
		where:   "status <> 'declined'",
	},
	{
		table:   "matches",
		columns: []string{"memory_low_id", "memory_high_id"},
		name:    "idx_matches_pair",
	},
	{
		table:   "memories",
		columns: []string{"status", "owner_id"},
		name:    "idx_memories_status_owner",
	},
	{
		table:   "memories",
		columns: []string{"owner_id", "created_at"},
		name:    "idx_memories_owner_created",
	},
	{
		table:   "matches",
		columns: []string{"status", "user1_id"},
		name:    "idx_matches_status_user1",
	},
	{
		table:   "matches",
		columns: []string{"status", "user2_id"},
		name:    "idx_matches_status_user2",
	},
	{
		table:   "messages",
		columns: []string{"conversation_id", "read_at"},
		name:    "idx_messages_conversation_read",
	},
	{
		table:   "auth_tokens",
		columns: []string{"user_id", "expires_at"},
		name:    "idx_tokens_user_expires",
	},
}

// CreateIndexes creates composite and partial indexes AutoMigrate cannot express
func CreateIndexes(db *gorm.DB) error {
	for _, idx := range indexes {
		if db.Migrator().HasIndex(idx.table, idx.name) {
			continue
		}
		if err := db.Exec(idx.sql()).Error; err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}
	return nil
}

func (idx indexDef) sql() string {
	kind := "INDEX"
	if idx.unique {
		kind = "UNIQUE INDEX"
	}
	stmt := fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)",
		kind, idx.name, idx.table, strings.Join(idx.columns, ", "))
	if idx.where != "" {
		stmt += " WHERE " + idx.where
	}
	return stmt
}
