// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the meetcute command tree
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "meetcute",
		Short: "Memory matching and mutual-confirmation server",
		Long: `MeetCute pairs memories of the same chance encounter written by two different
people, asks both to confirm, and opens a private conversation once both accept.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	addPersistentFlags(rootCmd)

	rootCmd.AddCommand(
		NewServeCmd(),
		NewHTTPCmd(),
		NewReconcileCmd(),
	)

	return rootCmd
}

func addPersistentFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to config file")
	flags.String("db-type", "", "Database type (sqlite or postgres)")
	flags.String("db-path", "", "Database path (for sqlite)")
	flags.String("db-dsn", "", "Database DSN (for postgres)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")

	flags.Bool("enable-embeddings", false, "Enable vector similarity with embeddings")
	flags.String("embedding-url", "", "Embedding API base URL")
	flags.String("embedding-model", "", "Embedding model name")
	flags.String("embedding-key", "", "Embedding API key (alternative to env var)")
}
