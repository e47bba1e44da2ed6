// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"time"

	"github.com/tejzpr/meetcute/internal/auth"
	"github.com/tejzpr/meetcute/internal/locking"
	"github.com/tejzpr/meetcute/pkg/scheduler"
)

// backgroundJobs returns the periodic maintenance work for a running server
func backgroundJobs(a *app, tm *auth.TokenManager) []scheduler.Job {
	return []scheduler.Job{
		{
			Name: "reconcile",
			Run: func(ctx context.Context) error {
				res, err := a.service.Reconcile(ctx)
				var held *locking.LockError
				if errors.As(err, &held) {
					a.logger.Debug("reconcile skipped, another sweep is running", "holder", held.HeldBy)
					return nil
				}
				if err != nil {
					return err
				}
				if res.MatchesCreated > 0 || res.EmbeddingsBackfilled > 0 {
					a.logger.Info("reconcile finished",
						"matches_created", res.MatchesCreated,
						"embeddings_backfilled", res.EmbeddingsBackfilled)
				}
				return nil
			},
		},
		{
			Name: "lease-cleanup",
			Run: func(ctx context.Context) error {
				_, err := a.locker.CleanupExpired(ctx)
				return err
			},
		},
		{
			Name: "token-cleanup",
			Run: func(ctx context.Context) error {
				_, err := tm.CleanExpired()
				return err
			},
		},
	}
}

// startScheduler starts the maintenance scheduler. It returns nil when the
// sweep interval is zero.
func startScheduler(a *app, tm *auth.TokenManager) *scheduler.Scheduler {
	minutes := a.cfg.Matching.SweepIntervalMinutes
	if minutes <= 0 {
		return nil
	}
	s := scheduler.NewScheduler(time.Duration(minutes)*time.Minute, a.logger, backgroundJobs(a, tm)...)
	s.Start()
	a.logger.Info("background sweep scheduled", "interval_minutes", minutes)
	return s
}
