// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tejzpr/meetcute/internal/conversations"
	"github.com/tejzpr/meetcute/internal/locking"
	"github.com/tejzpr/meetcute/internal/matching"
	"github.com/tejzpr/meetcute/internal/memories"
	"github.com/tejzpr/meetcute/internal/service"
)

// ToolContext holds shared dependencies for all tools
type ToolContext struct {
	Service *service.Service
	Logger  *slog.Logger
}

// NewToolContext creates a new tool context
func NewToolContext(svc *service.Service, logger *slog.Logger) *ToolContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolContext{Service: svc, Logger: logger}
}

// toolError turns a service error into a tool error result.
// Caller mistakes get a plain message; everything else is reported as-is.
func toolError(err error) *mcp.CallToolResult {
	var conflictErr *locking.ConflictError
	switch {
	case errors.Is(err, matching.ErrStoreUnavailable):
		return mcp.NewToolResultError("storage is temporarily unavailable, please retry")
	case errors.Is(err, matching.ErrMatchNotFound):
		return mcp.NewToolResultError("match not found")
	case errors.Is(err, matching.ErrNotAParticipant):
		return mcp.NewToolResultError("you are not part of this match")
	case errors.Is(err, matching.ErrAlreadyResponded):
		return mcp.NewToolResultError("you already answered this match differently")
	case errors.Is(err, matching.ErrMatchClosed):
		return mcp.NewToolResultError("this match has already been closed")
	case errors.Is(err, memories.ErrInvalidMemory):
		return mcp.NewToolResultError(err.Error())
	case errors.Is(err, memories.ErrDraftNotFound):
		return mcp.NewToolResultError("no saved draft")
	case errors.Is(err, conversations.ErrConversationNotFound):
		return mcp.NewToolResultError("conversation not found")
	case errors.Is(err, conversations.ErrNotInConversation):
		return mcp.NewToolResultError("you are not part of this conversation")
	case errors.Is(err, conversations.ErrEmptyMessage):
		return mcp.NewToolResultError(err.Error())
	case errors.Is(err, locking.ErrRetriesExhausted), errors.As(err, &conflictErr):
		return mcp.NewToolResultError("someone else updated this at the same moment, please retry")
	default:
		return mcp.NewToolResultError(err.Error())
	}
}
