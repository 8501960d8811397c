package http

import (
	"context"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/core/services"
)

// Ingestor is the write side used by the handlers.
type Ingestor interface {
	Submit(ctx context.Context, sub domain.Submission) (*domain.IngestResult, error)
	SyncQueued(ctx context.Context) (*domain.SyncSummary, error)
	Resolve(ctx context.Context, id domain.DowntimeID, actor *domain.User, notes string) (*domain.Downtime, error)
	Analyze(ctx context.Context, id domain.DowntimeID) (*domain.Verdict, error)
}

// Reporter is the read side used by the handlers.
type Reporter interface {
	KPIs(ctx context.Context) (*domain.KPIs, error)
	ListDowntimes(ctx context.Context, q services.ListQuery) (*domain.Page, error)
	GetDowntime(ctx context.Context, id domain.DowntimeID) (*domain.Downtime, error)
	Alerts(ctx context.Context, limit int, onlyUnseen bool) ([]*domain.Downtime, error)
	UnseenCount(ctx context.Context) (int, error)
	MarkSeen(ctx context.Context, id domain.DowntimeID, actor *domain.User) (*domain.Downtime, error)
	MarkAllSeen(ctx context.Context, actor *domain.User) (int, error)
	TopMachines(ctx context.Context, n int) ([]domain.MachineCount, error)
	TopRootCauses(ctx context.Context, n int) ([]domain.RootCauseCount, error)
	HourlyTrend(ctx context.Context) (map[string]int, error)
	DailyTrend(ctx context.Context) ([]domain.DayCount, error)
	WeeklyTrend(ctx context.Context) ([]domain.WeekCount, error)
	MachineStatus(ctx context.Context) ([]domain.MachineStatus, error)
	MachineHistory(ctx context.Context, machineID string) (*domain.MachineHistory, error)
	MachineHeartbeat(ctx context.Context, machineID string) ([]domain.HeartbeatBucket, error)
	OperatorDowntimes(ctx context.Context, operatorID domain.UserID, status domain.Status) ([]*domain.Downtime, error)
	Summary(ctx context.Context, period domain.SummaryPeriod) (*domain.Summary, error)
}

var (
	_ Ingestor = (*services.IngestionService)(nil)
	_ Reporter = (*services.ReportingService)(nil)
)
