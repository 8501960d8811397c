package ports

import (
	"context"

	"quickdowntime/internal/core/domain"
)

// DowntimeRepository is the remote record store for downtime records.
// Any error other than domain.ErrDowntimeNotFound means the store could not be reached
// or refused the request.
type DowntimeRepository interface {
	Insert(ctx context.Context, d *domain.Downtime) (*domain.Downtime, error)
	Update(ctx context.Context, id domain.DowntimeID, patch domain.DowntimePatch) (*domain.Downtime, error)
	GetByID(ctx context.Context, id domain.DowntimeID) (*domain.Downtime, error)
	Query(ctx context.Context, filter domain.DowntimeFilter) ([]*domain.Downtime, error)
	Count(ctx context.Context, filter domain.DowntimeFilter) (int, error)
	Ping(ctx context.Context) error
}

type AnalysisRepository interface {
	Insert(ctx context.Context, a *domain.Analysis) error
}

// PendingQueue holds records that could not reach the remote store. Load
// reports a missing record with an error wrapping storage.ErrNotFound.
type PendingQueue interface {
	Enqueue(ctx context.Context, d *domain.Downtime) (string, error)
	ListPending(ctx context.Context) ([]string, error)
	Load(ctx context.Context, name string) (*domain.Downtime, error)
	Ack(ctx context.Context, name string) error
}

// BlobStore persists evidence files and returns a public reference path.
type BlobStore interface {
	Save(ctx context.Context, data []byte, folder, name string) (string, error)
}
