// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package server

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
	"gorm.io/gorm"

	"github.com/tejzpr/meetcute/internal/auth"
	"github.com/tejzpr/meetcute/internal/config"
	"github.com/tejzpr/meetcute/internal/service"
	"github.com/tejzpr/meetcute/internal/tools"
)

// Version is reported to MCP clients
const Version = "1.0.0"

// MCPServer wraps the mcp-go server with our configuration
type MCPServer struct {
	mcpServer    *server.MCPServer
	config       *config.Config
	db           *gorm.DB
	service      *service.Service
	tokenManager *auth.TokenManager
	logger       *slog.Logger
}

// NewMCPServer creates a new MCP server instance
func NewMCPServer(cfg *config.Config, db *gorm.DB, svc *service.Service, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	mcpServer := server.NewMCPServer(
		"MeetCute",
		Version,
		server.WithToolCapabilities(true),
	)

	return &MCPServer{
		mcpServer:    mcpServer,
		config:       cfg,
		db:           db,
		service:      svc,
		tokenManager: auth.NewTokenManager(db, cfg.Security.TokenTTL),
		logger:       logger,
	}
}

// RegisterToolsForUser registers all MCP tools acting as userID
func (s *MCPServer) RegisterToolsForUser(userID string) {
	toolCtx := tools.NewToolContext(s.service, s.logger)

	s.mcpServer.AddTool(tools.NewSubmitMemoryTool(), tools.SubmitMemoryHandler(toolCtx, userID))
	s.mcpServer.AddTool(tools.NewPendingMatchesTool(), tools.PendingMatchesHandler(toolCtx, userID))
	s.mcpServer.AddTool(tools.NewRespondTool(), tools.RespondHandler(toolCtx, userID))
	s.mcpServer.AddTool(tools.NewMatchesTool(), tools.MatchesHandler(toolCtx, userID))
	s.mcpServer.AddTool(tools.NewConversationsTool(), tools.ConversationsHandler(toolCtx, userID))
	s.mcpServer.AddTool(tools.NewSendMessageTool(), tools.SendMessageHandler(toolCtx, userID))
	s.mcpServer.AddTool(tools.NewReadMessagesTool(), tools.ReadMessagesHandler(toolCtx, userID))
	s.mcpServer.AddTool(tools.NewCountsTool(), tools.CountsHandler(toolCtx, userID))
	s.mcpServer.AddTool(tools.NewSaveDraftTool(), tools.SaveDraftHandler(toolCtx, userID))
	s.mcpServer.AddTool(tools.NewGetDraftTool(), tools.GetDraftHandler(toolCtx, userID))
	s.mcpServer.AddTool(tools.NewReconcileTool(), tools.ReconcileHandler(toolCtx))
}

// GetMCPServer returns the underlying MCP server
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// GetTokenManager returns the token manager
func (s *MCPServer) GetTokenManager() *auth.TokenManager {
	return s.tokenManager
}

// Service returns the matching service
func (s *MCPServer) Service() *service.Service {
	return s.service
}

// ServeStdio serves MCP over stdin/stdout
func (s *MCPServer) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
