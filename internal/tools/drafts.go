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
)

// NewSaveDraftTool creates the meetcute_save_draft tool definition
func NewSaveDraftTool() mcp.Tool {
	return mcp.NewTool("meetcute_save_draft",
		mcp.WithDescription("Save a memory you are still narrating so you can continue later. Submitting a memory clears the draft."),
		mcp.WithString("transcript",
			mcp.Required(),
			mcp.Description("Everything narrated so far"),
		),
		mcp.WithString("location",
			mcp.Description("Where it happened, if known"),
		),
		mcp.WithString("time_period",
			mcp.Description("When it happened, if known"),
		),
	)
}

// SaveDraftHandler handles the meetcute_save_draft tool
func SaveDraftHandler(ctx *ToolContext, userID string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		transcript, err := request.RequireString("transcript")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		draft := &database.MemoryDraft{
			UserID:     userID,
			Transcript: transcript,
			Location:   request.GetString("location", ""),
			TimePeriod: request.GetString("time_period", ""),
		}
		if err := ctx.Service.SaveDraft(c, draft); err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText("Draft saved."), nil
	}
}

// NewGetDraftTool creates the meetcute_get_draft tool definition
func NewGetDraftTool() mcp.Tool {
	return mcp.NewTool("meetcute_get_draft",
		mcp.WithDescription("Resume the memory you were narrating last time."),
	)
}

// GetDraftHandler handles the meetcute_get_draft tool
func GetDraftHandler(ctx *ToolContext, userID string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		draft, err := ctx.Service.GetDraft(c, userID)
		if err != nil {
			return toolError(err), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Draft (saved %s):\n%s\n", draft.UpdatedAt.Format("2006-01-02 15:04"), draft.Transcript)
		if draft.Location != "" {
			fmt.Fprintf(&sb, "Location: %s\n", draft.Location)
		}
		if draft.TimePeriod != "" {
			fmt.Fprintf(&sb, "When: %s\n", draft.TimePeriod)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}
