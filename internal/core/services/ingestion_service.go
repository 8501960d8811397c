package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/core/ports"
	"quickdowntime/pkg/storage"
	"quickdowntime/pkg/tracing"
	"quickdowntime/pkg/utils"
	"quickdowntime/pkg/validation"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	defaultReason   = "Unknown reason"
	defaultCategory = "Uncategorized"

	defaultHistoryWindow   = 20
	onDemandHistoryWindow  = 50
	defaultAnalyzerTimeout = 10 * time.Second
)

// ChangeListener is told when stored records change, so derived views can be
// refreshed.
type ChangeListener interface {
	RecordsChanged()
}

type IngestionOptions struct {
	HistoryWindow   int
	AnalyzerTimeout time.Duration
	AsyncAnalysis   bool
	LegacyBroadcast bool
}

// IngestionDeps are the collaborators of the pipeline. Analyzer, Metrics and
// Listener are optional.
type IngestionDeps struct {
	Downtimes ports.DowntimeRepository
	Analyses  ports.AnalysisRepository
	Queue     ports.PendingQueue
	Blobs     ports.BlobStore
	Analyzer  ports.Analyzer
	Notifier  ports.Notifier
	Metrics   ports.IngestionMetrics
	Listener  ChangeListener
}

// IngestionService turns submissions into stored records. A submission either
// reaches the record store or lands in the local queue; analysis and
// notification never fail it.
type IngestionService struct {
	downtimes ports.DowntimeRepository
	analyses  ports.AnalysisRepository
	queue     ports.PendingQueue
	blobs     ports.BlobStore
	analyzer  ports.Analyzer
	notifier  ports.Notifier
	metrics   ports.IngestionMetrics
	listener  ChangeListener

	opts   IngestionOptions
	logger *zap.SugaredLogger
	now    func() time.Time

	syncMu   sync.Mutex
	inflight sync.WaitGroup
}

func NewIngestionService(deps IngestionDeps, opts IngestionOptions, logger *zap.SugaredLogger) *IngestionService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = defaultHistoryWindow
	}
	if opts.AnalyzerTimeout <= 0 {
		opts.AnalyzerTimeout = defaultAnalyzerTimeout
	}

	return &IngestionService{
		downtimes: deps.Downtimes,
		analyses:  deps.Analyses,
		queue:     deps.Queue,
		blobs:     deps.Blobs,
		analyzer:  deps.Analyzer,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		listener:  deps.Listener,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Submit stores one report. The returned error is non-nil only for invalid
// input, attachment failures and a failed local queue write.
func (s *IngestionService) Submit(ctx context.Context, sub domain.Submission) (*domain.IngestResult, error) {
	ctx, span := tracing.TraceIngestStage(ctx, "submit", sub.MachineID)
	defer span.End()

	result, err := s.submit(ctx, sub)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if s.metrics != nil {
			s.metrics.RecordSubmissionFailed()
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordSubmission(result.Status)
	}
	return result, nil
}

func (s *IngestionService) submit(ctx context.Context, sub domain.Submission) (*domain.IngestResult, error) {
	machineID := strings.TrimSpace(sub.MachineID)
	if machineID == "" {
		return nil, fmt.Errorf("%w: machine_id is required", domain.ErrInvalidSubmission)
	}
	if err := validation.ValidateMachineID(machineID); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidSubmission, err)
	}
	if err := validateText(sub); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidSubmission, err)
	}

	imagePath, err := s.saveAttachment(ctx, sub.Image, imageFolder, imagePrefix, defaultImageExt)
	if err != nil {
		return nil, err
	}
	audioPath, err := s.saveAttachment(ctx, sub.Audio, audioFolder, audioPrefix, defaultAudioExt)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	record := &domain.Downtime{
		MachineID:       machineID,
		Reason:          utils.OrDefault(utils.SanitizeString(sub.Reason), defaultReason),
		Category:        utils.OrDefault(utils.SanitizeString(sub.Category), defaultCategory),
		Description:     utils.SanitizeString(sub.Description),
		DurationMinutes: sub.DurationMinutes,
		ImagePath:       imagePath,
		AudioPath:       audioPath,
		OperatorID:      sub.OperatorID,
		OperatorEmail:   utils.NormalizeEmail(sub.OperatorEmail),
		Status:          domain.StatusOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
		StartTime:       now,
	}

	stored, insertErr := s.insert(ctx, record)
	if insertErr != nil {
		return s.enqueue(ctx, record, insertErr)
	}
	s.changed()

	result := &domain.IngestResult{Status: domain.IngestSaved, Downtime: stored}

	if s.opts.AsyncAnalysis {
		detached := context.WithoutCancel(ctx)
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			enriched := *stored
			verdict := s.enrich(detached, &enriched)
			s.notifyNew(&enriched, verdict)
		}()
		return result, nil
	}

	result.Verdict = s.enrich(ctx, stored)
	s.notifyNew(stored, result.Verdict)
	return result, nil
}

func validateText(sub domain.Submission) error {
	if err := validation.ValidateStringLength(sub.Reason, 0, validation.MaxReasonLength, "reason"); err != nil {
		return err
	}
	if err := validation.ValidateStringLength(sub.Category, 0, validation.MaxCategoryLength, "category"); err != nil {
		return err
	}
	if err := validation.ValidateStringLength(sub.Description, 0, validation.MaxDescriptionLength, "description"); err != nil {
		return err
	}
	if sub.DurationMinutes != nil && *sub.DurationMinutes < 0 {
		return errors.New("duration_minutes must not be negative")
	}
	return nil
}

func (s *IngestionService) insert(ctx context.Context, record *domain.Downtime) (*domain.Downtime, error) {
	ctx, span := tracing.TraceIngestStage(ctx, "remote_insert", record.MachineID)
	defer span.End()

	stored, err := s.downtimes.Insert(ctx, record)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(tracing.DowntimeIDKey.Int64(int64(stored.ID)))
	return stored, nil
}

// enqueue keeps a record that the store refused. Only a failed queue write is
// returned as an error.
func (s *IngestionService) enqueue(ctx context.Context, record *domain.Downtime, cause error) (*domain.IngestResult, error) {
	ctx, span := tracing.TraceIngestStage(ctx, "local_queue", record.MachineID)
	defer span.End()

	name, err := s.queue.Enqueue(ctx, record)
	if err != nil {
		s.logger.Errorw("failed to queue submission locally",
			"machine_id", record.MachineID,
			"remote_error", cause,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrQueue, err)
	}
	span.SetAttributes(tracing.QueueFileKey.String(name))

	s.logger.Warnw("record store unavailable, submission queued",
		"machine_id", record.MachineID,
		"queued_file", name,
		"error", cause,
	)
	return &domain.IngestResult{
		Status:     domain.IngestQueued,
		QueuedFile: name,
		Error:      cause.Error(),
	}, nil
}

// enrich runs the analyzer over d and writes the verdict back. Failures are
// logged and leave d unchanged; the verdict is nil in that case.
func (s *IngestionService) enrich(ctx context.Context, d *domain.Downtime) *domain.Verdict {
	if s.analyzer == nil {
		return nil
	}

	ctx, span := tracing.TraceIngestStage(ctx, "analysis", d.MachineID)
	defer span.End()

	verdict, err := s.analyze(ctx, d, s.opts.HistoryWindow, "created_at")
	if err != nil {
		span.RecordError(err)
		s.logger.Warnw("analysis skipped",
			"downtime_id", d.ID,
			"machine_id", d.MachineID,
			"error", err,
		)
		return nil
	}

	if s.analyses != nil {
		if err := s.analyses.Insert(ctx, domain.NewAnalysis(d.ID, verdict, s.now().UTC())); err != nil {
			s.logger.Warnw("failed to store analysis", "downtime_id", d.ID, "error", err)
		}
	}

	severity := verdict.Severity
	rootCause := verdict.RootCause
	updated, err := s.downtimes.Update(ctx, d.ID, domain.DowntimePatch{
		Severity:  &severity,
		RootCause: &rootCause,
	})
	if err != nil {
		s.logger.Warnw("failed to apply analysis to record", "downtime_id", d.ID, "error", err)
		return verdict
	}
	*d = *updated
	s.changed()
	return verdict
}

// analyze calls the analyzer with the most recent records as history, bounded
// by the analyzer timeout. A failed history read leaves the history empty.
func (s *IngestionService) analyze(ctx context.Context, d *domain.Downtime, window int, orderBy string) (*domain.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.AnalyzerTimeout)
	defer cancel()

	history, err := s.downtimes.Query(ctx, domain.DowntimeFilter{
		OrderBy: orderBy,
		Desc:    true,
		Limit:   window,
	})
	if err != nil {
		s.logger.Debugw("history unavailable for analysis", "downtime_id", d.ID, "error", err)
		history = nil
	}

	start := time.Now()
	verdict, err := s.analyzer.Analyze(ctx, d, history)
	if s.metrics != nil {
		s.metrics.RecordAnalysis(time.Since(start), err)
	}
	if err != nil {
		if !errors.Is(err, domain.ErrAnalyzer) {
			err = fmt.Errorf("%w: %w", domain.ErrAnalyzer, err)
		}
		return nil, err
	}
	return verdict, nil
}

// notifyNew pushes a new record to managers, to its machine channel and, when
// enabled, to the legacy global socket. Delivery is best effort.
func (s *IngestionService) notifyNew(d *domain.Downtime, verdict *domain.Verdict) {
	if s.notifier == nil {
		return
	}

	event := domain.NewDowntimeEventFrom(d)
	if _, err := s.notifier.BroadcastManagers(event); err != nil {
		s.logger.Warnw("failed to encode downtime event", "downtime_id", d.ID, "error", err)
		return
	}
	_, _ = s.notifier.BroadcastChannel(domain.MachineChannel(d.MachineID), event)

	if s.opts.LegacyBroadcast {
		_, _ = s.notifier.Broadcast(domain.LegacyDowntimeEvent{
			Type:       domain.EventNewDowntimeWithAI,
			Downtime:   d,
			AIAnalysis: verdict,
		})
	}
}

// SyncQueued replays every queued record into the store. Files that fail stay
// queued and are reported in the summary. Only a failure to list the queue, or
// ctx ending mid-pass, is returned as an error.
func (s *IngestionService) SyncQueued(ctx context.Context) (*domain.SyncSummary, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	ctx, span := tracing.TraceIngestStage(ctx, "sync", "")
	defer span.End()

	names, err := s.queue.ListPending(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list queued records: %w", err)
	}

	summary := &domain.SyncSummary{Errors: []domain.SyncError{}}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			s.finishSync(summary)
			return summary, err
		}

		replayed, err := s.replay(ctx, name)
		if err != nil {
			summary.Errors = append(summary.Errors, domain.SyncError{File: name, Error: err.Error()})
			continue
		}
		if replayed {
			summary.Synced++
		}
	}

	s.finishSync(summary)
	return summary, nil
}

// replay inserts one queued record and removes its file. A file that vanished
// between listing and loading was taken by another replaying process and is
// skipped without error.
func (s *IngestionService) replay(ctx context.Context, name string) (bool, error) {
	record, err := s.queue.Load(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Debugw("queued record already replayed elsewhere", "queued_file", name)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := s.downtimes.Insert(ctx, record); err != nil {
		s.logger.Warnw("queued record replay failed", "queued_file", name, "error", err)
		return false, fmt.Errorf("%w: %w", domain.ErrQueueReplay, err)
	}

	if err := s.queue.Ack(ctx, name); err != nil {
		s.logger.Warnw("replayed record could not be removed from the queue",
			"queued_file", name,
			"error", err,
		)
	}
	return true, nil
}

func (s *IngestionService) finishSync(summary *domain.SyncSummary) {
	if summary.Synced > 0 {
		s.changed()
	}
	if s.metrics != nil {
		s.metrics.RecordSync(summary.Synced, len(summary.Errors))
	}
	if summary.Synced > 0 || len(summary.Errors) > 0 {
		s.logger.Infow("queue sync finished",
			"synced", summary.Synced,
			"failed", len(summary.Errors),
		)
	}
}

// Resolve closes a record on behalf of actor and tells both roles about it.
func (s *IngestionService) Resolve(ctx context.Context, id domain.DowntimeID, actor *domain.User, notes string) (*domain.Downtime, error) {
	if actor == nil || actor.ID == "" {
		return nil, domain.ErrUnauthorized
	}

	ctx, span := tracing.TraceIngestStage(ctx, "resolve", "")
	defer span.End()

	now := s.now().UTC()
	status := domain.StatusResolved
	resolvedBy := actor.ID
	notes = utils.TruncateString(utils.SanitizeString(notes), validation.MaxNotesLength)

	updated, err := s.downtimes.Update(ctx, id, domain.DowntimePatch{
		Status:          &status,
		ResolvedBy:      &resolvedBy,
		ResolvedAt:      &now,
		ResolutionNotes: &notes,
		EndTime:         &now,
		UpdatedAt:       &now,
	})
	if err != nil {
		span.RecordError(err)
		return nil, remoteError(err)
	}

	s.changed()
	if s.metrics != nil {
		s.metrics.RecordResolution()
	}

	if s.notifier != nil {
		event := domain.DowntimeResolvedEvent{
			Type:       domain.EventDowntimeResolved,
			ID:         updated.ID,
			ResolvedBy: resolvedBy,
			ResolvedAt: now,
		}
		_, _ = s.notifier.BroadcastManagers(event)
		_, _ = s.notifier.BroadcastOperators(event)
	}

	return updated, nil
}

// Analyze produces a fresh verdict for a stored record without persisting it.
func (s *IngestionService) Analyze(ctx context.Context, id domain.DowntimeID) (*domain.Verdict, error) {
	if s.analyzer == nil {
		return nil, fmt.Errorf("%w: no analyzer configured", domain.ErrAnalyzer)
	}

	d, err := s.downtimes.GetByID(ctx, id)
	if err != nil {
		return nil, remoteError(err)
	}
	return s.analyze(ctx, d, onDemandHistoryWindow, "start_time")
}

// Wait blocks until background analyses started by Submit have finished.
func (s *IngestionService) Wait() {
	s.inflight.Wait()
}

func (s *IngestionService) changed() {
	if s.listener != nil {
		s.listener.RecordsChanged()
	}
}

// remoteError classifies a store error for callers: missing records stay as
// they are, everything else reports the store as unavailable.
func remoteError(err error) error {
	if errors.Is(err, domain.ErrDowntimeNotFound) || errors.Is(err, domain.ErrRemoteStore) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrRemoteStore, err)
}
