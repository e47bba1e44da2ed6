// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewReconcileCmd runs one matching sweep and exits
func NewReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one matching sweep over waiting memories",
		Long: `Backfill missing embeddings and match every waiting pair that clears the
threshold. Fails if another sweep currently holds the lease.`,
		RunE: runReconcile,
	}

	cmd.Flags().Bool("json", false, "Output in JSON format")
	return cmd
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.service.Reconcile(cmd.Context())
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Matches created: %d\nEmbeddings backfilled: %d\nSkipped: %d\nFailed: %d\n",
		res.MatchesCreated, res.EmbeddingsBackfilled, res.Skipped, res.Failed)
	return nil
}
