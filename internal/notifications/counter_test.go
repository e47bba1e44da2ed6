// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package notifications

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	pending map[string]int64
	unread  map[string]int64
	err     error
}

func (f *fakeSource) CountPendingFor(ctx context.Context, userID string) (int64, error) {
	return f.pending[userID], f.err
}

func (f *fakeSource) CountUnread(ctx context.Context, userID string) (int64, error) {
	return f.unread[userID], nil
}

func TestCounter_Counts(t *testing.T) {
	src := &fakeSource{
		pending: map[string]int64{"user-a": 2},
		unread:  map[string]int64{"user-a": 3, "user-b": 1},
	}
	c := NewCounter(src, src)

	got, err := c.Counts(context.Background(), "user-a")
	require.NoError(t, err)
	assert.Equal(t, Counts{PendingMatches: 2, UnreadMessages: 3}, got)
	assert.Equal(t, int64(5), got.Total())

	got, err = c.Counts(context.Background(), "user-b")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.PendingMatches)
	assert.Equal(t, int64(1), got.Total())
}

func TestCounter_Error(t *testing.T) {
	boom := errors.New("store unavailable")
	src := &fakeSource{err: boom}
	c := NewCounter(src, src)

	_, err := c.Counts(context.Background(), "user-a")
	assert.ErrorIs(t, err, boom)
}
