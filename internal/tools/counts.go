// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// NewCountsTool creates the meetcute_counts tool definition
func NewCountsTool() mcp.Tool {
	return mcp.NewTool("meetcute_counts",
		mcp.WithDescription("Show how many matches await your answer and how many messages are unread."),
	)
}

// CountsHandler handles the meetcute_counts tool
func CountsHandler(ctx *ToolContext, userID string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		counts, err := ctx.Service.NotificationCounts(c, userID)
		if err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Pending matches: %d\nUnread messages: %d",
			counts.PendingMatches, counts.UnreadMessages)), nil
	}
}
