// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package matching

import (
	"errors"

	"github.com/tejzpr/meetcute/internal/database"
	"github.com/tejzpr/meetcute/internal/embeddings"
	"github.com/tejzpr/meetcute/internal/memories"
)

var (
	// ErrDuplicateMatch means the pair already has a match, or lost a race to create one.
	// Callers skip it.
	ErrDuplicateMatch   = errors.New("a match already exists for this memory pair")
	ErrAlreadyResponded = errors.New("user already responded to this match")
	ErrNotAParticipant  = errors.New("user is not a participant in this match")
	ErrMatchNotFound    = errors.New("match not found")
	ErrMatchClosed      = errors.New("match is no longer pending")
	ErrSameOwner        = errors.New("memories belong to the same user")

	ErrMemoryNotWaiting     = memories.ErrMemoryNotWaiting
	ErrStoreUnavailable     = database.ErrStoreUnavailable
	ErrEmbeddingUnavailable = embeddings.ErrEmbeddingUnavailable
)

// IsSkippable reports errors that mean "this pair is not matchable right now"
func IsSkippable(err error) bool {
	return errors.Is(err, ErrDuplicateMatch) ||
		errors.Is(err, ErrMemoryNotWaiting) ||
		errors.Is(err, ErrSameOwner)
}
