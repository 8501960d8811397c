package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/core/ports"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const downtimeColumns = `id, machine_id, reason, category, description, duration_minutes,
	image_path, audio_path, operator_id, operator_email, status, severity, root_cause,
	created_at, updated_at, start_time, end_time, resolved_at, resolved_by, resolution_notes,
	seen, seen_at, seen_by`

type DowntimeRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewDowntimeRepository(pool *pgxpool.Pool, timeout time.Duration) *DowntimeRepository {
	return &DowntimeRepository{pool: pool, timeout: timeout}
}

var _ ports.DowntimeRepository = (*DowntimeRepository)(nil)

func (r *DowntimeRepository) Insert(ctx context.Context, d *domain.Downtime) (*domain.Downtime, error) {
	ctx, done := startOp(ctx, r.timeout, "insert", "downtime_events")
	defer done()

	now := time.Now().UTC()
	created := d.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := d.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	start := d.StartTime
	if start.IsZero() {
		start = created
	}
	status := d.Status
	if status == "" {
		status = domain.StatusOpen
	}

	var stored domain.Downtime
	err := pgxscan.Get(ctx, r.pool, &stored, `
INSERT INTO downtime_events (machine_id, reason, category, description, duration_minutes,
	image_path, audio_path, operator_id, operator_email, status, severity, root_cause,
	created_at, updated_at, start_time, end_time, resolved_at, resolved_by, resolution_notes,
	seen, seen_at, seen_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
RETURNING `+downtimeColumns,
		d.MachineID, d.Reason, d.Category, d.Description, d.DurationMinutes,
		d.ImagePath, d.AudioPath, string(d.OperatorID), d.OperatorEmail, string(status), string(d.Severity), d.RootCause,
		created, updated, start, d.EndTime, d.ResolvedAt, string(d.ResolvedBy), d.ResolutionNotes,
		d.Seen, d.SeenAt, string(d.SeenBy),
	)
	if err != nil {
		return nil, failOp(ctx, fmt.Errorf("failed to insert downtime: %w", err))
	}
	return &stored, nil
}

func (r *DowntimeRepository) Update(ctx context.Context, id domain.DowntimeID, patch domain.DowntimePatch) (*domain.Downtime, error) {
	set, args := buildPatch(patch)
	if len(set) == 0 {
		return r.GetByID(ctx, id)
	}

	ctx, done := startOp(ctx, r.timeout, "update", "downtime_events")
	defer done()

	args = append(args, int64(id))
	query := fmt.Sprintf(`UPDATE downtime_events SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(set, ", "), len(args), downtimeColumns)

	var updated domain.Downtime
	if err := pgxscan.Get(ctx, r.pool, &updated, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDowntimeNotFound
		}
		return nil, failOp(ctx, fmt.Errorf("failed to update downtime %d: %w", id, err))
	}
	return &updated, nil
}

func (r *DowntimeRepository) GetByID(ctx context.Context, id domain.DowntimeID) (*domain.Downtime, error) {
	ctx, done := startOp(ctx, r.timeout, "select", "downtime_events")
	defer done()

	var d domain.Downtime
	err := pgxscan.Get(ctx, r.pool, &d, `SELECT `+downtimeColumns+` FROM downtime_events WHERE id = $1`, int64(id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrDowntimeNotFound
	}
	if err != nil {
		return nil, failOp(ctx, fmt.Errorf("failed to get downtime %d: %w", id, err))
	}
	return &d, nil
}

func (r *DowntimeRepository) Query(ctx context.Context, filter domain.DowntimeFilter) ([]*domain.Downtime, error) {
	ctx, done := startOp(ctx, r.timeout, "select", "downtime_events")
	defer done()

	where, args := buildWhere(filter)
	query := `SELECT ` + downtimeColumns + ` FROM downtime_events` + where + orderClause(filter)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var out []*domain.Downtime
	if err := pgxscan.Select(ctx, r.pool, &out, query, args...); err != nil {
		return nil, failOp(ctx, fmt.Errorf("failed to query downtimes: %w", err))
	}
	if out == nil {
		out = []*domain.Downtime{}
	}
	return out, nil
}

func (r *DowntimeRepository) Count(ctx context.Context, filter domain.DowntimeFilter) (int, error) {
	ctx, done := startOp(ctx, r.timeout, "count", "downtime_events")
	defer done()

	where, args := buildWhere(filter)
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM downtime_events`+where, args...).Scan(&n); err != nil {
		return 0, failOp(ctx, fmt.Errorf("failed to count downtimes: %w", err))
	}
	return n, nil
}

func (r *DowntimeRepository) Ping(ctx context.Context) error {
	ctx, done := startOp(ctx, r.timeout, "ping", "downtime_events")
	defer done()
	if err := r.pool.Ping(ctx); err != nil {
		return failOp(ctx, err)
	}
	return nil
}

// buildWhere renders the filter criteria as a parameterized WHERE clause.
func buildWhere(f domain.DowntimeFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(expr string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}

	if f.ID != nil {
		add("id = $%d", int64(*f.ID))
	}
	if f.MachineID != "" {
		add("machine_id = $%d", f.MachineID)
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Reason != "" {
		add("reason = $%d", f.Reason)
	}
	if f.Severity != "" {
		add("severity = $%d", f.Severity)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.OperatorID != "" {
		add("operator_id = $%d", string(f.OperatorID))
	}
	if f.OperatorEmail != "" {
		add("operator_email = $%d", f.OperatorEmail)
	}
	if f.StartAfter != nil {
		add("start_time >= $%d", *f.StartAfter)
	}
	if f.StartBefore != nil {
		add("start_time <= $%d", *f.StartBefore)
	}
	if f.CreatedAfter != nil {
		add("created_at >= $%d", *f.CreatedAfter)
	}
	if f.Unseen {
		conds = append(conds, "NOT seen")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// orderClause only ever emits a whitelisted column name.
func orderClause(f domain.DowntimeFilter) string {
	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	col := f.OrderColumn()
	if col == "id" {
		return fmt.Sprintf(" ORDER BY id %s", dir)
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", col, dir, dir)
}

func buildPatch(p domain.DowntimePatch) ([]string, []any) {
	var (
		set  []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.Severity != nil {
		add("severity", string(*p.Severity))
	}
	if p.RootCause != nil {
		add("root_cause", *p.RootCause)
	}
	if p.ResolvedBy != nil {
		add("resolved_by", string(*p.ResolvedBy))
	}
	if p.ResolvedAt != nil {
		add("resolved_at", *p.ResolvedAt)
	}
	if p.ResolutionNotes != nil {
		add("resolution_notes", *p.ResolutionNotes)
	}
	if p.EndTime != nil {
		add("end_time", *p.EndTime)
	}
	if p.Seen != nil {
		add("seen", *p.Seen)
	}
	if p.SeenAt != nil {
		add("seen_at", *p.SeenAt)
	}
	if p.SeenBy != nil {
		add("seen_by", string(*p.SeenBy))
	}
	if len(set) == 0 {
		return nil, nil
	}
	if p.UpdatedAt != nil {
		add("updated_at", *p.UpdatedAt)
	} else {
		set = append(set, "updated_at = now()")
	}
	return set, args
}
