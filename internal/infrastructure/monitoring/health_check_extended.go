package monitoring

import (
	"context"
	"fmt"
	"time"

	"quickdowntime/internal/core/ports"
	"quickdowntime/pkg/circuitbreaker"
)

// AddRepositoryCheck pings the record store.
func (h *HealthChecker) AddRepositoryCheck(repo ports.DowntimeRepository, timeout time.Duration) {
	h.AddCheck("record_store", func(ctx context.Context) (bool, error) {
		if err := repo.Ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// AddQueueCheck verifies the local queue directory can be listed.
func (h *HealthChecker) AddQueueCheck(queue ports.PendingQueue, timeout time.Duration) {
	h.AddCheck("local_queue", func(ctx context.Context) (bool, error) {
		if _, err := queue.ListPending(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// BreakerStats exposes the state of a circuit breaker.
type BreakerStats interface {
	CircuitBreakerStats() circuitbreaker.Stats
}

// AddCircuitBreakerCheck fails while the breaker is open.
func (h *HealthChecker) AddCircuitBreakerCheck(name string, b BreakerStats) {
	h.AddCheck(name, func(ctx context.Context) (bool, error) {
		stats := b.CircuitBreakerStats()
		if stats.State == circuitbreaker.StateOpen {
			return false, fmt.Errorf("circuit open since %s",
				stats.StateChangeTime.UTC().Format(time.RFC3339))
		}
		return true, nil
	}, time.Second)
}
