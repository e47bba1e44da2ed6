// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one unit of periodic work
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler runs jobs on a fixed interval in a single goroutine, so runs
// never overlap within a process.
type Scheduler struct {
	jobs     []Job
	interval time.Duration
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	done     chan struct{}
	started  atomic.Bool
	once     sync.Once
}

// NewScheduler creates a new scheduler
func NewScheduler(interval time.Duration, logger *slog.Logger, jobs ...Job) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:     jobs,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the scheduler. Jobs first run one interval after Start.
func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(s.done)
		for {
			select {
			case <-ticker.C:
				s.runAll(s.ctx)
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop cancels the context of a running pass and waits for it to return
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		s.cancel()
		close(s.stopChan)
		if s.started.Load() {
			<-s.done
		}
	})
}

// RunOnce runs every job immediately
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.runAll(ctx)
}

func (s *Scheduler) runAll(ctx context.Context) {
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			s.logger.Warn("scheduled job failed", "job", job.Name, "error", err)
			continue
		}
		s.logger.Debug("scheduled job finished", "job", job.Name, "duration", time.Since(start))
	}
}
