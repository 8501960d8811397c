package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/core/ports"
	"quickdowntime/pkg/cache"
	"quickdowntime/pkg/utils"
	"quickdowntime/pkg/validation"

	"go.uber.org/zap"
)

const (
	kpiCacheKey = "kpis"

	defaultPerPage     = 25
	defaultMaxPageSize = 200
	defaultAlertLimit  = 5
	defaultTopN        = 10
	weeklyTopN         = 5
	weeklyRecentEvents = 10

	dailyTrendDays   = 30
	weeklyTrendWeeks = 12
	historyDays      = 30
	heartbeatHours   = 24

	noIncidentsToday = "No downtimes recorded today. All machines are running smoothly."
	noIncidentsWeek  = "No downtimes recorded in the last 7 days."
)

type ReportingOptions struct {
	KPICacheTTL time.Duration
	AlertLimit  int
	MaxPageSize int
	// Machines is the plant's machine list for MachineStatus. When empty the
	// machines seen during the last week are reported.
	Machines []string
}

// ListQuery selects one page of records. Page is 1-based.
type ListQuery struct {
	Filter  domain.DowntimeFilter
	Page    int
	PerPage int
}

// ReportingService answers the dashboard reads. Every store failure surfaces as
// domain.ErrRemoteStore.
type ReportingService struct {
	downtimes ports.DowntimeRepository
	analyzer  ports.Analyzer
	kpis      *cache.Cache[*domain.KPIs]
	opts      ReportingOptions
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewReportingService(downtimes ports.DowntimeRepository, analyzer ports.Analyzer, opts ReportingOptions, logger *zap.SugaredLogger) *ReportingService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.AlertLimit <= 0 {
		opts.AlertLimit = defaultAlertLimit
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = defaultMaxPageSize
	}

	return &ReportingService{
		downtimes: downtimes,
		analyzer:  analyzer,
		kpis:      cache.New[*domain.KPIs](opts.KPICacheTTL),
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordsChanged drops cached aggregates.
func (s *ReportingService) RecordsChanged() {
	s.kpis.Invalidate("")
}

func (s *ReportingService) KPIs(ctx context.Context) (*domain.KPIs, error) {
	return s.kpis.GetOrLoad(ctx, kpiCacheKey, s.loadKPIs)
}

func (s *ReportingService) loadKPIs(ctx context.Context) (*domain.KPIs, error) {
	records, err := s.query(ctx, domain.DowntimeFilter{})
	if err != nil {
		return nil, err
	}

	k := &domain.KPIs{
		TotalDowntimes:    len(records),
		CategoryBreakdown: make(map[string]int),
		MachineBreakdown:  make(map[string]int),
	}
	for _, d := range records {
		switch d.Status {
		case domain.StatusResolved:
			k.ResolvedDowntimes++
		default:
			k.OpenDowntimes++
		}
		if d.Severity == domain.SeverityHigh || d.Severity == domain.SeverityCritical {
			k.Critical++
		}
		if d.RootCause != "" {
			k.Analyzed++
		}
		if !d.Seen {
			k.UnseenAlerts++
		}
		k.CategoryBreakdown[utils.OrDefault(d.Category, defaultCategory)]++
		k.MachineBreakdown[d.MachineID]++
	}
	return k, nil
}

// ListDowntimes returns one page of the records matching q.Filter together
// with the total number of matches.
func (s *ReportingService) ListDowntimes(ctx context.Context, q ListQuery) (*domain.Page, error) {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PerPage == 0 {
		q.PerPage = defaultPerPage
	}
	if err := validation.ValidatePage(q.Page, q.PerPage, s.opts.MaxPageSize); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err)
	}
	if err := validation.ValidateOneOf(string(q.Filter.Status), "status",
		string(domain.StatusOpen), string(domain.StatusResolved)); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidQuery, err)
	}

	filter := q.Filter
	filter.Offset = (q.Page - 1) * q.PerPage
	filter.Limit = q.PerPage

	records, err := s.query(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.downtimes.Count(ctx, q.Filter)
	if err != nil {
		return nil, remoteError(err)
	}

	return &domain.Page{
		Page:    q.Page,
		PerPage: q.PerPage,
		Total:   total,
		Data:    records,
	}, nil
}

func (s *ReportingService) GetDowntime(ctx context.Context, id domain.DowntimeID) (*domain.Downtime, error) {
	d, err := s.downtimes.GetByID(ctx, id)
	if err != nil {
		return nil, remoteError(err)
	}
	return d, nil
}

// Alerts returns the most recently created records, newest first. With
// onlyUnseen set, alerts a manager already acknowledged are left out.
func (s *ReportingService) Alerts(ctx context.Context, limit int, onlyUnseen bool) ([]*domain.Downtime, error) {
	if limit <= 0 {
		limit = s.opts.AlertLimit
	}
	return s.query(ctx, domain.DowntimeFilter{
		Unseen:  onlyUnseen,
		OrderBy: "created_at",
		Desc:    true,
		Limit:   limit,
	})
}

func (s *ReportingService) UnseenCount(ctx context.Context) (int, error) {
	n, err := s.downtimes.Count(ctx, domain.DowntimeFilter{Unseen: true})
	if err != nil {
		return 0, remoteError(err)
	}
	return n, nil
}

// MarkSeen acknowledges one alert on behalf of the manager.
func (s *ReportingService) MarkSeen(ctx context.Context, id domain.DowntimeID, actor *domain.User) (*domain.Downtime, error) {
	d, err := s.downtimes.Update(ctx, id, seenPatch(actor, s.now().UTC()))
	if err != nil {
		return nil, remoteError(err)
	}
	s.RecordsChanged()
	return d, nil
}

// MarkAllSeen acknowledges every unseen alert and returns how many were
// marked. A record that fails to update is logged and skipped.
func (s *ReportingService) MarkAllSeen(ctx context.Context, actor *domain.User) (int, error) {
	unseen, err := s.query(ctx, domain.DowntimeFilter{Unseen: true, OrderBy: "id"})
	if err != nil {
		return 0, err
	}

	patch := seenPatch(actor, s.now().UTC())
	marked := 0
	for _, d := range unseen {
		if err := ctx.Err(); err != nil {
			return marked, err
		}
		if _, err := s.downtimes.Update(ctx, d.ID, patch); err != nil {
			s.logger.Warnw("failed to mark alert as seen",
				"downtime_id", d.ID,
				"error", err,
			)
			continue
		}
		marked++
	}

	if marked > 0 {
		s.RecordsChanged()
	}
	return marked, nil
}

func seenPatch(actor *domain.User, at time.Time) domain.DowntimePatch {
	seen := true
	patch := domain.DowntimePatch{Seen: &seen, SeenAt: &at}
	if actor != nil {
		by := actor.ID
		patch.SeenBy = &by
	}
	return patch
}

// TopMachines ranks machines by their number of records.
func (s *ReportingService) TopMachines(ctx context.Context, n int) ([]domain.MachineCount, error) {
	records, err := s.query(ctx, domain.DowntimeFilter{})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, d := range records {
		counts[d.MachineID]++
	}

	out := make([]domain.MachineCount, 0, len(counts))
	for _, kv := range rank(counts, topN(n)) {
		out = append(out, domain.MachineCount{MachineID: kv.key, Count: kv.count})
	}
	return out, nil
}

// TopRootCauses ranks the analyzer's root causes. Records without one are skipped.
func (s *ReportingService) TopRootCauses(ctx context.Context, n int) ([]domain.RootCauseCount, error) {
	records, err := s.query(ctx, domain.DowntimeFilter{})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, d := range records {
		if d.RootCause != "" {
			counts[d.RootCause]++
		}
	}

	out := make([]domain.RootCauseCount, 0, len(counts))
	for _, kv := range rank(counts, topN(n)) {
		out = append(out, domain.RootCauseCount{RootCause: kv.key, Count: kv.count})
	}
	return out, nil
}

// MachineStatus reports every machine with today's and this week's stoppage
// counts. A machine is down while its latest stoppage of the day is open.
func (s *ReportingService) MachineStatus(ctx context.Context) ([]domain.MachineStatus, error) {
	now := s.now().UTC()
	dayStart := utils.StartOfDay(now)
	weekStart := now.AddDate(0, 0, -7)

	week, err := s.query(ctx, domain.DowntimeFilter{CreatedAfter: &weekStart})
	if err != nil {
		return nil, err
	}

	machines := s.opts.Machines
	if len(machines) == 0 {
		machines = distinctMachines(week)
	}

	latestToday := make(map[string]*domain.Downtime)
	todayCount := make(map[string]int)
	weekCount := make(map[string]int)
	for _, d := range week {
		weekCount[d.MachineID]++
		if d.CreatedAt.Before(dayStart) {
			continue
		}
		todayCount[d.MachineID]++
		if cur, ok := latestToday[d.MachineID]; !ok || d.CreatedAt.After(cur.CreatedAt) {
			latestToday[d.MachineID] = d
		}
	}

	out := make([]domain.MachineStatus, 0, len(machines))
	for _, m := range machines {
		st := domain.MachineStatus{
			MachineID:          m,
			Status:             domain.MachineRunning,
			TodayDowntimeCount: todayCount[m],
			WeekDowntimeCount:  weekCount[m],
			Priority:           domain.PriorityFor(weekCount[m]),
		}
		if latest, ok := latestToday[m]; ok {
			at := latest.CreatedAt
			reason := latest.Reason
			st.LastDowntime = &at
			st.LastReason = &reason
			if latest.Status == domain.StatusOpen {
				st.Status = domain.MachineDown
			}
		}
		out = append(out, st)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority.Before(out[j].Priority)
		}
		return out[i].TodayDowntimeCount > out[j].TodayDowntimeCount
	})
	return out, nil
}

// HourlyTrend counts today's stoppages by the UTC hour they started in. Every
// hour from "0" to "23" is present.
func (s *ReportingService) HourlyTrend(ctx context.Context) (map[string]int, error) {
	since := utils.StartOfDay(s.now().UTC())
	rows, err := s.query(ctx, domain.DowntimeFilter{StartAfter: &since})
	if err != nil {
		return nil, err
	}

	hours := make(map[string]int, 24)
	for h := 0; h < 24; h++ {
		hours[strconv.Itoa(h)] = 0
	}
	for _, d := range rows {
		hours[strconv.Itoa(d.StartTime.UTC().Hour())]++
	}
	return hours, nil
}

// DailyTrend counts the last 30 days of stoppages per start day. Days without
// any are omitted.
func (s *ReportingService) DailyTrend(ctx context.Context) ([]domain.DayCount, error) {
	since := s.now().UTC().AddDate(0, 0, -dailyTrendDays)
	rows, err := s.query(ctx, domain.DowntimeFilter{StartAfter: &since})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, d := range rows {
		counts[d.StartTime.UTC().Format(time.DateOnly)]++
	}

	out := make([]domain.DayCount, 0, len(counts))
	for _, day := range sortedKeys(counts) {
		out = append(out, domain.DayCount{Day: day, Count: counts[day]})
	}
	return out, nil
}

// WeeklyTrend counts the last 12 weeks of stoppages per Monday-based week.
func (s *ReportingService) WeeklyTrend(ctx context.Context) ([]domain.WeekCount, error) {
	since := s.now().UTC().AddDate(0, 0, -7*weeklyTrendWeeks)
	rows, err := s.query(ctx, domain.DowntimeFilter{StartAfter: &since})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, d := range rows {
		counts[utils.StartOfWeek(d.StartTime.UTC()).Format(time.DateOnly)]++
	}

	out := make([]domain.WeekCount, 0, len(counts))
	for _, week := range sortedKeys(counts) {
		out = append(out, domain.WeekCount{WeekStart: week, Count: counts[week]})
	}
	return out, nil
}

func (s *ReportingService) MachineHistory(ctx context.Context, machineID string) (*domain.MachineHistory, error) {
	since := s.now().UTC().AddDate(0, 0, -historyDays)
	rows, err := s.query(ctx, domain.DowntimeFilter{
		MachineID:    machineID,
		CreatedAfter: &since,
		OrderBy:      "created_at",
		Desc:         true,
	})
	if err != nil {
		return nil, err
	}
	return &domain.MachineHistory{MachineID: machineID, TotalCount: len(rows), Downtimes: rows}, nil
}

// MachineHeartbeat buckets one machine's stoppages of the last 24 hours by the
// hour they were logged in. The last bucket is the current hour.
func (s *ReportingService) MachineHeartbeat(ctx context.Context, machineID string) ([]domain.HeartbeatBucket, error) {
	first := s.now().UTC().Truncate(time.Hour).Add(-(heartbeatHours - 1) * time.Hour)
	rows, err := s.query(ctx, domain.DowntimeFilter{MachineID: machineID, CreatedAfter: &first})
	if err != nil {
		return nil, err
	}

	counts := make([]int, heartbeatHours)
	for _, d := range rows {
		i := int(d.CreatedAt.Sub(first) / time.Hour)
		if i >= 0 && i < heartbeatHours {
			counts[i]++
		}
	}

	out := make([]domain.HeartbeatBucket, heartbeatHours)
	for i, n := range counts {
		out[i] = domain.HeartbeatBucket{
			Hour:          first.Add(time.Duration(i) * time.Hour).Format("15:00"),
			DowntimeCount: n,
			Status:        domain.MachineRunning,
		}
		if n > 0 {
			out[i].Status = domain.MachineDown
		}
	}
	return out, nil
}

// OperatorDowntimes lists one operator's records in the given status, newest first.
func (s *ReportingService) OperatorDowntimes(ctx context.Context, operatorID domain.UserID, status domain.Status) ([]*domain.Downtime, error) {
	return s.query(ctx, domain.DowntimeFilter{
		OperatorID: operatorID,
		Status:     status,
		OrderBy:    "created_at",
		Desc:       true,
	})
}

// Summary asks the analyzer for a narrative over today's or the last seven
// days' records. When the analyzer fails the prepared digest is returned as is.
func (s *ReportingService) Summary(ctx context.Context, period domain.SummaryPeriod) (*domain.Summary, error) {
	now := s.now().UTC()

	var since time.Time
	switch period {
	case domain.PeriodDaily:
		since = utils.StartOfDay(now)
	case domain.PeriodWeekly:
		since = now.AddDate(0, 0, -7)
	default:
		return nil, fmt.Errorf("%w: unknown summary period %q", domain.ErrInvalidQuery, period)
	}

	rows, err := s.query(ctx, domain.DowntimeFilter{StartAfter: &since, OrderBy: "start_time", Desc: true})
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		if period == domain.PeriodDaily {
			return &domain.Summary{Analysis: noIncidentsToday}, nil
		}
		return &domain.Summary{
			Analysis:     noIncidentsWeek,
			MachineStats: map[string]int{},
			CauseStats:   map[string]int{},
		}, nil
	}

	summary := &domain.Summary{TotalIncidents: len(rows), Events: rows}
	var digest string
	if period == domain.PeriodDaily {
		digest = dailyDigest(rows, now)
	} else {
		summary.MachineStats, summary.CauseStats = weeklyStats(rows)
		digest = weeklyDigest(rows, summary.MachineStats, summary.CauseStats, now)
	}

	summary.Analysis = s.summarize(ctx, period, digest)
	return summary, nil
}

func (s *ReportingService) summarize(ctx context.Context, period domain.SummaryPeriod, digest string) string {
	if s.analyzer == nil {
		return digest
	}

	text, err := s.analyzer.Summarize(ctx, digest)
	if err != nil || strings.TrimSpace(text) == "" {
		s.logger.Warnw("summary analysis unavailable, returning digest",
			"period", period,
			"error", err,
		)
		return digest
	}
	return text
}

func (s *ReportingService) query(ctx context.Context, f domain.DowntimeFilter) ([]*domain.Downtime, error) {
	records, err := s.downtimes.Query(ctx, f)
	if err != nil {
		return nil, remoteError(err)
	}
	return records, nil
}

func dailyDigest(rows []*domain.Downtime, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Today's downtime analysis (%d incidents):\n\n", len(rows))
	for i, d := range rows {
		fmt.Fprintf(&b, "%d. Machine: %s\n", i+1, d.MachineID)
		fmt.Fprintf(&b, "   Reason: %s (%s)\n", d.Reason, d.Category)
		fmt.Fprintf(&b, "   Root Cause: %s\n", utils.OrDefault(d.RootCause, "Unknown"))
		fmt.Fprintf(&b, "   Duration: %s\n", incidentDuration(d, now))
		fmt.Fprintf(&b, "   Description: %s\n\n", utils.OrDefault(d.Description, "N/A"))
	}
	return b.String()
}

func weeklyStats(rows []*domain.Downtime) (machines, causes map[string]int) {
	machines = make(map[string]int)
	causes = make(map[string]int)
	for _, d := range rows {
		machines[utils.OrDefault(d.MachineID, "Unknown")]++
		causes[utils.OrDefault(d.RootCause, "Unknown")]++
	}
	return machines, causes
}

func weeklyDigest(rows []*domain.Downtime, machines, causes map[string]int, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Weekly downtime analysis (last 7 days, %d total incidents):\n\n", len(rows))

	b.WriteString("Top Affected Machines:\n")
	for _, kv := range rank(machines, weeklyTopN) {
		fmt.Fprintf(&b, "  - %s: %d incidents\n", kv.key, kv.count)
	}

	b.WriteString("\nTop Root Causes:\n")
	for _, kv := range rank(causes, weeklyTopN) {
		fmt.Fprintf(&b, "  - %s: %d incidents\n", kv.key, kv.count)
	}

	b.WriteString("\nRecent Events:\n")
	for i, d := range rows {
		if i == weeklyRecentEvents {
			break
		}
		fmt.Fprintf(&b, "%d. %s - %s, Duration: %s\n",
			i+1, d.MachineID, utils.OrDefault(d.RootCause, "Unknown"), incidentDuration(d, now))
	}
	return b.String()
}

// incidentDuration renders how long a stoppage lasted, or "Ongoing".
func incidentDuration(d *domain.Downtime, now time.Time) string {
	if d.EndTime == nil {
		if d.DurationMinutes != nil {
			return fmt.Sprintf("%dm (reported)", *d.DurationMinutes)
		}
		return "Ongoing"
	}
	if d.StartTime.IsZero() {
		return "Unknown"
	}

	span := d.EndTime.Sub(d.StartTime)
	if span < 0 {
		return "Unknown"
	}
	hours := int(span / time.Hour)
	minutes := int(span%time.Hour) / int(time.Minute)
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

type keyCount struct {
	key   string
	count int
}

// rank orders counts descending, ties by key, and keeps at most n entries.
func rank(counts map[string]int, n int) []keyCount {
	out := make([]keyCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, keyCount{key: k, count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func topN(n int) int {
	if n <= 0 {
		return defaultTopN
	}
	return n
}

func sortedKeys(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func distinctMachines(records []*domain.Downtime) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range records {
		if !seen[d.MachineID] {
			seen[d.MachineID] = true
			out = append(out, d.MachineID)
		}
	}
	sort.Strings(out)
	return out
}
