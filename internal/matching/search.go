// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package matching

import (
	"context"
	"fmt"
	"sort"

	"github.com/tejzpr/meetcute/internal/database"
	"github.com/tejzpr/meetcute/internal/memories"
)

// Candidate is another user's waiting memory that scored above threshold
type Candidate struct {
	Memory database.Memory
	Score  Score
}

// Pair is a candidate pair found by a full sweep. A is the older memory.
type Pair struct {
	A     database.Memory
	B     database.Memory
	Score Score
}

// CandidateSearch finds potential matches among waiting memories
type CandidateSearch struct {
	store  *memories.Store
	scorer *Scorer
}

// NewCandidateSearch creates a candidate search
func NewCandidateSearch(store *memories.Store, scorer *Scorer) *CandidateSearch {
	return &CandidateSearch{store: store, scorer: scorer}
}

// FindCandidates returns other users' waiting memories that score at or above
// the threshold against mem, best first. Ties go to the older memory.
func (c *CandidateSearch) FindCandidates(ctx context.Context, mem *database.Memory) ([]Candidate, error) {
	if mem.Status != database.MemoryStatusWaiting {
		return nil, fmt.Errorf("%w: %s", ErrMemoryNotWaiting, mem.ID)
	}

	others, err := c.store.ListWaiting(ctx, mem.OwnerID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(others))
	var out []Candidate
	for i := range others {
		other := &others[i]
		if other.ID == mem.ID || other.OwnerID == mem.OwnerID || seen[other.ID] {
			continue
		}
		seen[other.ID] = true

		sc := c.scorer.Score(mem, other)
		if !c.scorer.IsCandidate(sc) {
			continue
		}
		out = append(out, Candidate{Memory: *other, Score: sc})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score.Confidence != out[j].Score.Confidence {
			return out[i].Score.Confidence > out[j].Score.Confidence
		}
		if !out[i].Memory.CreatedAt.Equal(out[j].Memory.CreatedAt) {
			return out[i].Memory.CreatedAt.Before(out[j].Memory.CreatedAt)
		}
		return out[i].Memory.ID < out[j].Memory.ID
	})
	return out, nil
}

// Sweep scores every pair of waiting memories with distinct owners and
// returns the candidate pairs, best first.
func (c *CandidateSearch) Sweep(ctx context.Context) ([]Pair, error) {
	waiting, err := c.store.ListWaiting(ctx, "")
	if err != nil {
		return nil, err
	}

	var out []Pair
	for i := 0; i < len(waiting); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(waiting); j++ {
			a, b := &waiting[i], &waiting[j]
			if a.OwnerID == b.OwnerID {
				continue
			}
			sc := c.scorer.Score(a, b)
			if c.scorer.IsCandidate(sc) {
				out = append(out, Pair{A: *a, B: *b, Score: sc})
			}
		}
	}

	// waiting is oldest first, so the stable sort keeps older pairs ahead on ties
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score.Confidence > out[j].Score.Confidence
	})
	return out, nil
}
