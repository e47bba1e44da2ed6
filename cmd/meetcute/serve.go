// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tejzpr/meetcute/internal/auth"
	"github.com/tejzpr/meetcute/internal/server"
)

// NewServeCmd runs the MCP server over stdio
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP tools over stdio",
		Long: `Serve the MeetCute MCP tools over stdin/stdout for the local user.
The user is the system account (whoami) or ACCESSING_USER with --with-accessinguser.`,
		RunE: runServe,
	}

	cmd.Flags().Bool("with-accessinguser", false, "Use ACCESSING_USER env var for user identity")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	mcpServer := server.NewMCPServer(a.cfg, a.db, a.service, a.logger)
	tm := mcpServer.GetTokenManager()

	useAccessingUser, _ := cmd.Flags().GetBool("with-accessinguser")
	localAuth := auth.NewLocalAuthenticator(tm)
	if useAccessingUser {
		localAuth = auth.NewLocalAuthenticatorWithAccessingUser(tm)
	}

	user, _, err := localAuth.Authenticate(a.db)
	if err != nil {
		return fmt.Errorf("failed to authenticate local user: %w", err)
	}
	a.logger.Info("local user authenticated", "username", user.Username, "user_id", user.ID)

	mcpServer.RegisterToolsForUser(user.ID)

	if s := startScheduler(a, tm); s != nil {
		defer s.Stop()
	}

	a.logger.Info("serving MCP over stdio")
	if err := mcpServer.ServeStdio(); err != nil {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}
