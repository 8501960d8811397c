package reliability

import (
	"context"
	"errors"
	"fmt"
	"math"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/core/ports"
	"quickdowntime/pkg/circuitbreaker"
	"quickdowntime/pkg/config"
	"quickdowntime/pkg/retry"

	"go.uber.org/zap"
)

// ResilientDowntimeRepository wraps a record store with retries and a circuit
// breaker. Every failure except a missing record comes back wrapped in
// domain.ErrRemoteStore.
type ResilientDowntimeRepository struct {
	repo    ports.DowntimeRepository
	logger  *zap.SugaredLogger
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
}

func NewResilientDowntimeRepository(
	repo ports.DowntimeRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *ResilientDowntimeRepository {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	// A missing record says nothing about the health of the store.
	cbConfig.IsFailure = func(err error) bool {
		return !errors.Is(err, domain.ErrDowntimeNotFound)
	}
	retryConfig.NonRetryable = append(retryConfig.NonRetryable, circuitbreaker.ErrOpen, context.Canceled)

	w := &ResilientDowntimeRepository{
		repo:    repo,
		logger:  logger,
		retry:   retryConfig,
		breaker: circuitbreaker.New(cbConfig),
	}

	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("record store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return w
}

var _ ports.DowntimeRepository = (*ResilientDowntimeRepository)(nil)

// FromConfig wraps repo with the remote_store retry and circuit breaker
// settings. A disabled breaker never opens.
func FromConfig(repo ports.DowntimeRepository, cfg *config.Config, logger *zap.SugaredLogger) *ResilientDowntimeRepository {
	rc := cfg.RemoteStore.Retry
	retryConfig := retry.Config{
		Enabled:      rc.MaxAttempts > 1,
		MaxAttempts:  rc.MaxAttempts,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.Multiplier,
		Jitter:       true,
	}

	cbConfig := circuitbreaker.DefaultConfig()
	cb := cfg.RemoteStore.CircuitBreaker
	if cb.Enabled {
		cbConfig.FailureThreshold = cb.MaxFailures
		cbConfig.Timeout = cb.Timeout
	} else {
		cbConfig.FailureThreshold = math.MaxInt
	}

	return NewResilientDowntimeRepository(repo, retryConfig, cbConfig, logger)
}

func (w *ResilientDowntimeRepository) Insert(ctx context.Context, d *domain.Downtime) (*domain.Downtime, error) {
	return call(ctx, w, "insert", func(ctx context.Context) (*domain.Downtime, error) {
		return w.repo.Insert(ctx, d)
	})
}

func (w *ResilientDowntimeRepository) Update(ctx context.Context, id domain.DowntimeID, patch domain.DowntimePatch) (*domain.Downtime, error) {
	return call(ctx, w, "update", func(ctx context.Context) (*domain.Downtime, error) {
		return w.repo.Update(ctx, id, patch)
	})
}

func (w *ResilientDowntimeRepository) GetByID(ctx context.Context, id domain.DowntimeID) (*domain.Downtime, error) {
	return call(ctx, w, "get", func(ctx context.Context) (*domain.Downtime, error) {
		return w.repo.GetByID(ctx, id)
	})
}

func (w *ResilientDowntimeRepository) Query(ctx context.Context, filter domain.DowntimeFilter) ([]*domain.Downtime, error) {
	return call(ctx, w, "query", func(ctx context.Context) ([]*domain.Downtime, error) {
		return w.repo.Query(ctx, filter)
	})
}

func (w *ResilientDowntimeRepository) Count(ctx context.Context, filter domain.DowntimeFilter) (int, error) {
	return call(ctx, w, "count", func(ctx context.Context) (int, error) {
		return w.repo.Count(ctx, filter)
	})
}

// Ping bypasses retries and the breaker so readiness reflects the store itself.
func (w *ResilientDowntimeRepository) Ping(ctx context.Context) error {
	if err := w.repo.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRemoteStore, err)
	}
	return nil
}

func (w *ResilientDowntimeRepository) CircuitBreakerStats() circuitbreaker.Stats {
	return w.breaker.GetStats()
}

func call[T any](ctx context.Context, w *ResilientDowntimeRepository, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := retry.Do(ctx, w.retry, func(ctx context.Context) (T, error) {
		res, err := circuitbreaker.Call(ctx, w.breaker, fn)
		if errors.Is(err, domain.ErrDowntimeNotFound) {
			return res, retry.Permanent(err)
		}
		return res, err
	})
	if err == nil {
		return result, nil
	}
	if errors.Is(err, domain.ErrDowntimeNotFound) {
		return result, err
	}

	w.logger.Warnw("record store call failed",
		"operation", op,
		"breaker_state", w.breaker.State().String(),
		"error", err,
	)
	return result, fmt.Errorf("%w: %s: %w", domain.ErrRemoteStore, op, err)
}
