package domain

import (
	"sort"
	"strings"
	"time"
)

type DowntimeID int64

type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	SeverityUnknown  Severity = "unknown"
)

// NormalizeSeverity maps free-form analyzer output onto the known levels.
func NormalizeSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow
	case SeverityMedium:
		return SeverityMedium
	case SeverityHigh:
		return SeverityHigh
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityUnknown
	}
}

// Downtime is one stoppage incident as stored in the remote record store.
type Downtime struct {
	ID              DowntimeID `json:"id,omitempty" db:"id"`
	MachineID       string     `json:"machine_id" db:"machine_id"`
	Reason          string     `json:"reason" db:"reason"`
	Category        string     `json:"category" db:"category"`
	Description     string     `json:"description" db:"description"`
	DurationMinutes *int       `json:"duration_minutes,omitempty" db:"duration_minutes"`
	ImagePath       string     `json:"image_path,omitempty" db:"image_path"`
	AudioPath       string     `json:"audio_path,omitempty" db:"audio_path"`
	OperatorID      UserID     `json:"operator_id,omitempty" db:"operator_id"`
	OperatorEmail   string     `json:"operator_email,omitempty" db:"operator_email"`
	Status          Status     `json:"status" db:"status"`
	Severity        Severity   `json:"severity,omitempty" db:"severity"`
	RootCause       string     `json:"root_cause,omitempty" db:"root_cause"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
	StartTime       time.Time  `json:"start_time" db:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty" db:"end_time"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy      UserID     `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolutionNotes string     `json:"resolution_notes,omitempty" db:"resolution_notes"`
	Seen            bool       `json:"seen" db:"seen"`
	SeenAt          *time.Time `json:"seen_at,omitempty" db:"seen_at"`
	SeenBy          UserID     `json:"seen_by,omitempty" db:"seen_by"`
}

// DowntimePatch carries the fields an update may change. Nil means untouched.
type DowntimePatch struct {
	Status          *Status
	Severity        *Severity
	RootCause       *string
	ResolvedBy      *UserID
	ResolvedAt      *time.Time
	ResolutionNotes *string
	EndTime         *time.Time
	Seen            *bool
	SeenAt          *time.Time
	SeenBy          *UserID
	UpdatedAt       *time.Time
}

// Apply writes the non-nil fields of p onto d.
func (p DowntimePatch) Apply(d *Downtime) {
	if p.Status != nil {
		d.Status = *p.Status
	}
	if p.Severity != nil {
		d.Severity = *p.Severity
	}
	if p.RootCause != nil {
		d.RootCause = *p.RootCause
	}
	if p.ResolvedBy != nil {
		d.ResolvedBy = *p.ResolvedBy
	}
	if p.ResolvedAt != nil {
		t := *p.ResolvedAt
		d.ResolvedAt = &t
	}
	if p.ResolutionNotes != nil {
		d.ResolutionNotes = *p.ResolutionNotes
	}
	if p.EndTime != nil {
		t := *p.EndTime
		d.EndTime = &t
	}
	if p.Seen != nil {
		d.Seen = *p.Seen
	}
	if p.SeenAt != nil {
		t := *p.SeenAt
		d.SeenAt = &t
	}
	if p.SeenBy != nil {
		d.SeenBy = *p.SeenBy
	}
	if p.UpdatedAt != nil {
		d.UpdatedAt = *p.UpdatedAt
	}
}

// DowntimeFilter selects and orders records for a query.
type DowntimeFilter struct {
	ID            *DowntimeID
	MachineID     string
	Category      string
	Reason        string
	Severity      string
	Status        Status
	OperatorID    UserID
	OperatorEmail string
	StartAfter    *time.Time
	StartBefore   *time.Time
	CreatedAfter  *time.Time
	// Unseen keeps only alerts no manager has acknowledged yet.
	Unseen        bool

	OrderBy string
	Desc    bool
	Offset  int
	Limit   int
}

var orderableColumns = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
	"start_time": true,
	"machine_id": true,
	"severity":   true,
	"status":     true,
}

// OrderColumn returns the sort column, falling back to created_at for unknown names.
func (f DowntimeFilter) OrderColumn() string {
	if orderableColumns[f.OrderBy] {
		return f.OrderBy
	}
	return "created_at"
}

// Matches reports whether d satisfies every set criterion of f.
func (f DowntimeFilter) Matches(d *Downtime) bool {
	switch {
	case f.ID != nil && d.ID != *f.ID:
		return false
	case f.MachineID != "" && d.MachineID != f.MachineID:
		return false
	case f.Category != "" && d.Category != f.Category:
		return false
	case f.Reason != "" && d.Reason != f.Reason:
		return false
	case f.Severity != "" && string(d.Severity) != f.Severity:
		return false
	case f.Status != "" && d.Status != f.Status:
		return false
	case f.OperatorID != "" && d.OperatorID != f.OperatorID:
		return false
	case f.OperatorEmail != "" && d.OperatorEmail != f.OperatorEmail:
		return false
	case f.StartAfter != nil && d.StartTime.Before(*f.StartAfter):
		return false
	case f.StartBefore != nil && d.StartTime.After(*f.StartBefore):
		return false
	case f.CreatedAfter != nil && d.CreatedAt.Before(*f.CreatedAfter):
		return false
	case f.Unseen && d.Seen:
		return false
	}
	return true
}

// Apply filters, sorts and pages an in-memory slice. Used by stores that cannot
// push the query down.
func (f DowntimeFilter) Apply(records []*Downtime) []*Downtime {
	out := make([]*Downtime, 0, len(records))
	for _, d := range records {
		if f.Matches(d) {
			out = append(out, d)
		}
	}

	col := f.OrderColumn()
	sort.SliceStable(out, func(i, j int) bool {
		if f.Desc {
			return lessBy(col, out[j], out[i])
		}
		return lessBy(col, out[i], out[j])
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*Downtime{}
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func lessBy(col string, a, b *Downtime) bool {
	switch col {
	case "id":
		return a.ID < b.ID
	case "updated_at":
		return a.UpdatedAt.Before(b.UpdatedAt)
	case "start_time":
		return a.StartTime.Before(b.StartTime)
	case "machine_id":
		return a.MachineID < b.MachineID
	case "severity":
		return a.Severity < b.Severity
	case "status":
		return a.Status < b.Status
	default:
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	}
}
