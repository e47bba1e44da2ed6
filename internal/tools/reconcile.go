// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tejzpr/meetcute/internal/locking"
)

// NewReconcileTool creates the meetcute_reconcile tool definition
func NewReconcileTool() mcp.Tool {
	return mcp.NewTool("meetcute_reconcile",
		mcp.WithDescription("Re-scan all waiting memories for matches. Safe to run repeatedly; only new matches are created."),
	)
}

// ReconcileHandler handles the meetcute_reconcile tool
func ReconcileHandler(ctx *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := ctx.Service.Reconcile(c)
		if err != nil {
			var lockErr *locking.LockError
			if errors.As(err, &lockErr) {
				return mcp.NewToolResultError("a sweep is already running, try again shortly"), nil
			}
			return toolError(err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Sweep finished: %d match(es) created, %d embedding(s) backfilled, %d pair(s) skipped, %d failed",
			res.MatchesCreated, res.EmbeddingsBackfilled, res.Skipped, res.Failed)), nil
	}
}
