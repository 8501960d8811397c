package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"quickdowntime/internal/core/domain"

	"go.uber.org/zap"
)

// ErrSyncInProgress is returned by RunOnce when another process holds the
// replay lock.
var ErrSyncInProgress = errors.New("queue replay already in progress")

// Syncer replays the local queue.
type Syncer interface {
	SyncQueued(ctx context.Context) (*domain.SyncSummary, error)
}

// Locker guards a replay pass across processes sharing one queue directory.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Config contains scheduler configuration
type Config struct {
	Interval   time.Duration
	RunOnStart bool
}

// SyncScheduler replays queued submissions on a fixed interval.
type SyncScheduler struct {
	syncer   Syncer
	lock     Locker
	interval time.Duration
	onStart  bool
	logger   *zap.SugaredLogger

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewSyncScheduler creates a scheduler. lock may be nil when only one process
// uses the queue.
func NewSyncScheduler(syncer Syncer, lock Locker, cfg Config, logger *zap.SugaredLogger) *SyncScheduler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SyncScheduler{
		syncer:   syncer,
		lock:     lock,
		interval: cfg.Interval,
		onStart:  cfg.RunOnStart,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start blocks until ctx ends or Stop is called. A non-positive interval
// disables the schedule and Start returns at once.
func (s *SyncScheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("scheduled queue replay disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Infow("scheduled queue replay started", "interval", s.interval)
	if s.onStart {
		s.run(ctx)
	}

	for {
		select {
		case <-ticker.C:
			s.run(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends Start. Safe to call more than once.
func (s *SyncScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *SyncScheduler) run(ctx context.Context) {
	summary, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		s.logger.Debug("skipping queue replay, another process holds the lock")
	case err != nil:
		s.logger.Errorw("scheduled queue replay failed", "error", err)
	case summary.Synced > 0 || len(summary.Errors) > 0:
		s.logger.Infow("scheduled queue replay finished",
			"synced", summary.Synced,
			"failed", len(summary.Errors),
		)
	}
}

// RunOnce performs one replay pass under the lock.
func (s *SyncScheduler) RunOnce(ctx context.Context) (*domain.SyncSummary, error) {
	if s.lock != nil {
		acquired, err := s.lock.TryLock(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to take replay lock: %w", err)
		}
		if !acquired {
			return nil, ErrSyncInProgress
		}
		defer func() {
			if err := s.lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warnw("failed to release replay lock", "error", err)
			}
		}()
	}

	return s.syncer.SyncQueued(ctx)
}

// ReplayLockKey names the Redis key that serializes queue replay between the
// server and qdsync.
func ReplayLockKey(prefix string) string {
	return prefix + ":lock:queue-replay"
}
