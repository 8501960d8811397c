package memory

import (
	"context"
	"sync"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/core/ports"
)

type AnalysisRepository struct {
	analyses []*domain.Analysis
	nextID   int64
	mu       sync.RWMutex
}

func NewAnalysisRepository() *AnalysisRepository {
	return &AnalysisRepository{}
}

var _ ports.AnalysisRepository = (*AnalysisRepository)(nil)

func (r *AnalysisRepository) Insert(ctx context.Context, a *domain.Analysis) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	stored := *a
	stored.ID = r.nextID
	a.ID = stored.ID
	r.analyses = append(r.analyses, &stored)
	return nil
}

// ByDowntime returns the analyses stored for one downtime, oldest first.
func (r *AnalysisRepository) ByDowntime(id domain.DowntimeID) []*domain.Analysis {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Analysis
	for _, a := range r.analyses {
		if a.DowntimeID == id {
			c := *a
			out = append(out, &c)
		}
	}
	return out
}
