package ports

import (
	"context"
	"time"

	"quickdowntime/internal/core/domain"
)

type Analyzer interface {
	Analyze(ctx context.Context, event *domain.Downtime, history []*domain.Downtime) (*domain.Verdict, error)
	Summarize(ctx context.Context, summary string) (string, error)
}

// Notifier fans messages out to live client connections. Delivery is best effort;
// the returned error only reports a message that could not be encoded.
type Notifier interface {
	Broadcast(msg any) (domain.DeliveryReport, error)
	BroadcastManagers(msg any) (domain.DeliveryReport, error)
	BroadcastOperators(msg any) (domain.DeliveryReport, error)
	BroadcastChannel(channel string, msg any) (domain.DeliveryReport, error)
}

// IngestionMetrics receives pipeline outcomes. Implementations must be safe for
// concurrent use.
type IngestionMetrics interface {
	RecordSubmission(status domain.IngestStatus)
	RecordSubmissionFailed()
	RecordResolution()
	RecordSync(synced, failed int)
	RecordAnalysis(duration time.Duration, err error)
}
