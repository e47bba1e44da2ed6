// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tejzpr/meetcute/internal/database"
	"github.com/tejzpr/meetcute/internal/service"
)

// NewSubmitMemoryTool creates the meetcute_submit_memory tool definition
func NewSubmitMemoryTool() mcp.Tool {
	return mcp.NewTool("meetcute_submit_memory",
		mcp.WithDescription("Submit a memory of a brief encounter with someone. The memory is compared against other people's memories; if someone else remembers the same moment, a match is proposed to both of you."),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("What you remember: what they looked like, what happened, anything distinctive"),
		),
		mcp.WithString("location",
			mcp.Description("Where it happened. Example: 'Coco Apartments, Napa'"),
		),
		mcp.WithString("time_period",
			mcp.Description("When it happened. Example: 'July 23rd around 6pm'"),
		),
	)
}

// SubmitMemoryHandler handles the meetcute_submit_memory tool
func SubmitMemoryHandler(ctx *ToolContext, userID string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := request.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		res, err := ctx.Service.SubmitMemory(c, service.SubmitRequest{
			OwnerID:    userID,
			Text:       text,
			Location:   request.GetString("location", ""),
			TimePeriod: request.GetString("time_period", ""),
		})
		if err != nil {
			if res == nil {
				return toolError(err), nil
			}
			ctx.Logger.Warn("memory saved without matching", "memory_id", res.MemoryID, "error", err)
			return mcp.NewToolResultError(fmt.Sprintf(
				"Memory saved (id: %s) but matching could not run right now; it will be retried automatically.", res.MemoryID)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Memory saved (id: %s)\n", res.MemoryID)
		if res.Status == database.MemoryStatusMatched {
			fmt.Fprintf(&sb, "\nSomeone else remembers this moment too.\n")
			fmt.Fprintf(&sb, "Match: %s (confidence %.2f)\n", res.MatchID, res.Confidence)
			fmt.Fprintf(&sb, "Why: %s\n", res.Reason)
			fmt.Fprintf(&sb, "Use meetcute_respond to accept or decline.\n")
		} else {
			fmt.Fprintf(&sb, "\nNo match yet. You'll be notified if someone shares the same memory.\n")
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}
