package memory

import (
	"context"
	"sync"
	"time"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/core/ports"
)

// DowntimeRepository keeps records in process memory. Records handed out are
// copies, so callers never share state with the store.
type DowntimeRepository struct {
	records map[domain.DowntimeID]*domain.Downtime
	nextID  domain.DowntimeID
	now     func() time.Time
	mu      sync.RWMutex
}

func NewDowntimeRepository() *DowntimeRepository {
	return &DowntimeRepository{
		records: make(map[domain.DowntimeID]*domain.Downtime),
		now:     time.Now,
	}
}

var _ ports.DowntimeRepository = (*DowntimeRepository)(nil)

func (r *DowntimeRepository) Insert(ctx context.Context, d *domain.Downtime) (*domain.Downtime, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	stored := clone(d)
	stored.ID = r.nextID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now().UTC()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	if stored.Status == "" {
		stored.Status = domain.StatusOpen
	}
	r.records[stored.ID] = stored
	return clone(stored), nil
}

func (r *DowntimeRepository) Update(ctx context.Context, id domain.DowntimeID, patch domain.DowntimePatch) (*domain.Downtime, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.records[id]
	if !ok {
		return nil, domain.ErrDowntimeNotFound
	}
	patch.Apply(d)
	if patch.UpdatedAt == nil {
		d.UpdatedAt = r.now().UTC()
	}
	return clone(d), nil
}

func (r *DowntimeRepository) GetByID(ctx context.Context, id domain.DowntimeID) (*domain.Downtime, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.records[id]
	if !ok {
		return nil, domain.ErrDowntimeNotFound
	}
	return clone(d), nil
}

func (r *DowntimeRepository) Query(ctx context.Context, filter domain.DowntimeFilter) ([]*domain.Downtime, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := filter.Apply(r.snapshot())
	out := make([]*domain.Downtime, len(matched))
	for i, d := range matched {
		out[i] = clone(d)
	}
	return out, nil
}

func (r *DowntimeRepository) Count(ctx context.Context, filter domain.DowntimeFilter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	filter.Offset, filter.Limit = 0, 0
	return len(filter.Apply(r.snapshot())), nil
}

func (r *DowntimeRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// snapshot must be called with r.mu held.
func (r *DowntimeRepository) snapshot() []*domain.Downtime {
	all := make([]*domain.Downtime, 0, len(r.records))
	for _, d := range r.records {
		all = append(all, d)
	}
	return all
}

func clone(d *domain.Downtime) *domain.Downtime {
	c := *d
	if d.DurationMinutes != nil {
		v := *d.DurationMinutes
		c.DurationMinutes = &v
	}
	if d.EndTime != nil {
		t := *d.EndTime
		c.EndTime = &t
	}
	if d.ResolvedAt != nil {
		t := *d.ResolvedAt
		c.ResolvedAt = &t
	}
	if d.SeenAt != nil {
		t := *d.SeenAt
		c.SeenAt = &t
	}
	return &c
}
