// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// NewMatchesTool creates the meetcute_matches tool definition
func NewMatchesTool() mcp.Tool {
	return mcp.NewTool("meetcute_matches",
		mcp.WithDescription("List every match you are part of, with its status and your answer."),
	)
}

// MatchesHandler handles the meetcute_matches tool
func MatchesHandler(ctx *ToolContext, userID string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list, err := ctx.Service.ListMatches(c, userID)
		if err != nil {
			return toolError(err), nil
		}
		if len(list) == 0 {
			return mcp.NewToolResultText("You have no matches yet."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "%d match(es):\n", len(list))
		for _, m := range list {
			answer := "not answered"
			if m.YourResponse != nil {
				answer = "declined"
				if *m.YourResponse {
					answer = "accepted"
				}
			}
			fmt.Fprintf(&sb, "- %s: %s (you: %s)", m.MatchID, m.Status, answer)
			if m.ConversationID != "" {
				fmt.Fprintf(&sb, ", conversation %s", m.ConversationID)
			}
			sb.WriteString("\n")
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// NewConversationsTool creates the meetcute_conversations tool definition
func NewConversationsTool() mcp.Tool {
	return mcp.NewTool("meetcute_conversations",
		mcp.WithDescription("List the conversations opened by matches you and the other person both accepted."),
	)
}

// ConversationsHandler handles the meetcute_conversations tool
func ConversationsHandler(ctx *ToolContext, userID string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list, err := ctx.Service.ListConversations(c, userID)
		if err != nil {
			return toolError(err), nil
		}
		if len(list) == 0 {
			return mcp.NewToolResultText("No conversations yet."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "%d conversation(s):\n", len(list))
		for _, v := range list {
			fmt.Fprintf(&sb, "- %s with %s (opened %s)\n", v.ConversationID, v.OtherUserID, v.CreatedAt.Format("2006-01-02"))
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// NewSendMessageTool creates the meetcute_send_message tool definition
func NewSendMessageTool() mcp.Tool {
	return mcp.NewTool("meetcute_send_message",
		mcp.WithDescription("Send a message in one of your conversations."),
		mcp.WithString("conversation_id",
			mcp.Required(),
			mcp.Description("Conversation to post in"),
		),
		mcp.WithString("body",
			mcp.Required(),
			mcp.Description("Message text"),
		),
	)
}

// SendMessageHandler handles the meetcute_send_message tool
func SendMessageHandler(ctx *ToolContext, userID string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		convID, err := request.RequireString("conversation_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		body, err := request.RequireString("body")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		msg, err := ctx.Service.SendMessage(c, convID, userID, body)
		if err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Message sent (id: %s)", msg.ID)), nil
	}
}

// NewReadMessagesTool creates the meetcute_read_messages tool definition
func NewReadMessagesTool() mcp.Tool {
	return mcp.NewTool("meetcute_read_messages",
		mcp.WithDescription("Read the messages in one of your conversations, oldest first. Marks the other person's messages as read."),
		mcp.WithString("conversation_id",
			mcp.Required(),
			mcp.Description("Conversation to read"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of messages to return (default all)"),
		),
	)
}

// ReadMessagesHandler handles the meetcute_read_messages tool
func ReadMessagesHandler(ctx *ToolContext, userID string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		convID, err := request.RequireString("conversation_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		msgs, err := ctx.Service.ListMessages(c, convID, userID, request.GetInt("limit", 0))
		if err != nil {
			return toolError(err), nil
		}
		if _, err := ctx.Service.MarkConversationRead(c, convID, userID); err != nil {
			ctx.Logger.Warn("failed to mark conversation read", "conversation_id", convID, "error", err)
		}
		if len(msgs) == 0 {
			return mcp.NewToolResultText("No messages yet."), nil
		}

		var sb strings.Builder
		for _, m := range msgs {
			who := "them"
			if m.SenderID == userID {
				who = "you"
			}
			fmt.Fprintf(&sb, "[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02 15:04"), who, m.Body)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}
