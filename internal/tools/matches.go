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

// NewPendingMatchesTool creates the meetcute_pending_matches tool definition
func NewPendingMatchesTool() mcp.Tool {
	return mcp.NewTool("meetcute_pending_matches",
		mcp.WithDescription("List matches waiting for your answer, with a short summary of the other person's memory."),
	)
}

// PendingMatchesHandler handles the meetcute_pending_matches tool
func PendingMatchesHandler(ctx *ToolContext, userID string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pending, err := ctx.Service.ListPendingMatches(c, userID)
		if err != nil {
			return toolError(err), nil
		}
		if len(pending) == 0 {
			return mcp.NewToolResultText("No matches waiting for you."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "%d match(es) waiting for your answer:\n", len(pending))
		for _, p := range pending {
			fmt.Fprintf(&sb, "\n- %s (confidence %.2f, %s)\n", p.MatchID, p.Confidence, p.CreatedAt.Format("2006-01-02"))
			fmt.Fprintf(&sb, "  They remember: %s\n", p.OtherMemorySummary)
			if p.Reason != "" {
				fmt.Fprintf(&sb, "  Why: %s\n", p.Reason)
			}
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// NewRespondTool creates the meetcute_respond tool definition
func NewRespondTool() mcp.Tool {
	return mcp.NewTool("meetcute_respond",
		mcp.WithDescription("Accept or decline a proposed match. A conversation opens only when both people accept. Declining closes the match for both."),
		mcp.WithString("match_id",
			mcp.Required(),
			mcp.Description("Match to answer"),
		),
		mcp.WithBoolean("accept",
			mcp.Required(),
			mcp.Description("true to accept, false to decline"),
		),
	)
}

// RespondHandler handles the meetcute_respond tool
func RespondHandler(ctx *ToolContext, userID string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		matchID, err := request.RequireString("match_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		accept, err := request.RequireBool("accept")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		st, err := ctx.Service.RespondToMatch(c, matchID, userID, accept)
		if err != nil {
			return toolError(err), nil
		}

		switch st.Status {
		case database.MatchStatusAccepted:
			return mcp.NewToolResultText(fmt.Sprintf("You both accepted. Conversation opened: %s", st.ConversationID)), nil
		case database.MatchStatusDeclined:
			return mcp.NewToolResultText(fmt.Sprintf("Match %s declined.", st.MatchID)), nil
		default:
			return mcp.NewToolResultText(fmt.Sprintf("Accepted. Waiting for the other person to answer match %s.", st.MatchID)), nil
		}
	}
}
