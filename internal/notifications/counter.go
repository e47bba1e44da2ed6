// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package notifications

import (
	"context"
	"fmt"
)

// Counts is the badge state for a user
type Counts struct {
	PendingMatches int64 `json:"pending_matches"`
	UnreadMessages int64 `json:"unread_messages"`
}

// Total is the sum shown on a single badge
func (c Counts) Total() int64 {
	return c.PendingMatches + c.UnreadMessages
}

// PendingSource counts matches awaiting a user's answer
type PendingSource interface {
	CountPendingFor(ctx context.Context, userID string) (int64, error)
}

// UnreadSource counts unread messages addressed to a user
type UnreadSource interface {
	CountUnread(ctx context.Context, userID string) (int64, error)
}

// Counter recomputes counts from the store on every call
type Counter struct {
	pending PendingSource
	unread  UnreadSource
}

// NewCounter creates a counter
func NewCounter(pending PendingSource, unread UnreadSource) *Counter {
	return &Counter{pending: pending, unread: unread}
}

// Counts returns the current counts for userID
func (c *Counter) Counts(ctx context.Context, userID string) (Counts, error) {
	pending, err := c.pending.CountPendingFor(ctx, userID)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count pending matches: %w", err)
	}
	unread, err := c.unread.CountUnread(ctx, userID)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return Counts{PendingMatches: pending, UnreadMessages: unread}, nil
}
