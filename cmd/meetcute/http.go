// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tejzpr/meetcute/internal/auth"
	"github.com/tejzpr/meetcute/internal/config"
	"github.com/tejzpr/meetcute/internal/server"
)

const shutdownTimeout = 10 * time.Second

// NewHTTPCmd runs the JSON API
func NewHTTPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "http",
		Short: "Serve the JSON API over HTTP",
		RunE:  runHTTP,
	}

	cmd.Flags().Int("port", 0, "Server port")
	cmd.Flags().String("host", "", "Listen host")
	cmd.Flags().Bool("dev-login", false, "Allow /auth/local to sign in as any username (development only)")
	cmd.Flags().StringSlice("admin-user", nil, "Username allowed to call /api/admin/* (repeatable)")
	cmd.Flags().Bool("with-accessinguser", false, "Take the local user from ACCESSING_USER instead of whoami")
	return cmd
}

// applyHTTPFlags copies the http-only flags onto cfg
func applyHTTPFlags(cmd *cobra.Command, cfg *config.Config) {
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if cmd.Flags().Changed("dev-login") {
		cfg.Server.DevLogin, _ = cmd.Flags().GetBool("dev-login")
	}
	if admins, _ := cmd.Flags().GetStringSlice("admin-user"); len(admins) > 0 {
		cfg.Server.AdminUsers = admins
	}
}

func runHTTP(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	port, _ := cmd.Flags().GetInt("port")
	applyCLIOverrides(a.cfg, "", "", "", port)
	applyHTTPFlags(cmd, a.cfg)
	if a.cfg.Server.DevLogin {
		a.logger.Warn("dev login enabled: /auth/local accepts any username")
	}

	mcpServer := server.NewMCPServer(a.cfg, a.db, a.service, a.logger)
	tm := mcpServer.GetTokenManager()
	localAuth := auth.NewLocalAuthenticator(tm)
	if useAccessingUser, _ := cmd.Flags().GetBool("with-accessinguser"); useAccessingUser {
		localAuth = auth.NewLocalAuthenticatorWithAccessingUser(tm)
	}
	httpServer := server.NewHTTPServer(mcpServer, localAuth)

	mux := http.NewServeMux()
	httpServer.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s := startScheduler(a, tm); s != nil {
		defer s.Stop()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS.Enabled)
		if a.cfg.Server.TLS.Enabled {
			errCh <- srv.ListenAndServeTLS(a.cfg.Server.TLS.CertFile, a.cfg.Server.TLS.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
