package domain

import "time"

// KPIs is the manager dashboard headline over every stored record.
type KPIs struct {
	TotalDowntimes    int            `json:"total_downtimes"`
	OpenDowntimes     int            `json:"open_downtimes"`
	ResolvedDowntimes int            `json:"resolved_downtimes"`
	Critical          int            `json:"critical"`
	Analyzed          int            `json:"analyzed"`
	UnseenAlerts      int            `json:"unseen_alerts"`
	CategoryBreakdown map[string]int `json:"category_breakdown"`
	MachineBreakdown  map[string]int `json:"machine_breakdown"`
}

// Page is one slice of a filtered listing. Total counts every match.
type Page struct {
	Page    int         `json:"page"`
	PerPage int         `json:"per_page"`
	Total   int         `json:"total"`
	Data    []*Downtime `json:"data"`
}

type MachineCount struct {
	MachineID string `json:"machine_id"`
	Count     int    `json:"count"`
}

type RootCauseCount struct {
	RootCause string `json:"root_cause"`
	Count     int    `json:"count"`
}

type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// WeekCount buckets stoppages by the Monday their week starts on.
type WeekCount struct {
	WeekStart string `json:"week_start"`
	Count     int    `json:"count"`
}

// MachineHistory lists one machine's records over the last 30 days, newest first.
type MachineHistory struct {
	MachineID  string      `json:"machine_id"`
	TotalCount int         `json:"total_count"`
	Downtimes  []*Downtime `json:"downtimes"`
}

// HeartbeatBucket is one hour of a machine's heartbeat graph.
type HeartbeatBucket struct {
	Hour          string       `json:"hour"`
	DowntimeCount int          `json:"downtime_count"`
	Status        MachineState `json:"status"`
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// PriorityFor grades a machine by its stoppages over the last week.
func PriorityFor(weekCount int) Priority {
	switch {
	case weekCount >= 10:
		return PriorityHigh
	case weekCount >= 5:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// Before orders higher priorities first.
func (p Priority) Before(other Priority) bool {
	return p.rank() < other.rank()
}

type MachineState string

const (
	MachineRunning MachineState = "running"
	MachineDown    MachineState = "down"
)

// MachineStatus is the live view of one configured machine.
type MachineStatus struct {
	MachineID          string       `json:"machine_id"`
	Status             MachineState `json:"status"`
	TodayDowntimeCount int          `json:"today_downtime_count"`
	WeekDowntimeCount  int          `json:"week_downtime_count"`
	Priority           Priority     `json:"priority"`
	LastDowntime       *time.Time   `json:"last_downtime"`
	LastReason         *string      `json:"last_reason"`
}

type SummaryPeriod string

const (
	PeriodDaily  SummaryPeriod = "daily"
	PeriodWeekly SummaryPeriod = "weekly"
)

// Summary is an analyzer-written narrative over a period. Machine and cause
// stats are filled for weekly summaries only.
type Summary struct {
	Analysis       string         `json:"analysis"`
	TotalIncidents int            `json:"total_incidents"`
	MachineStats   map[string]int `json:"machine_stats,omitempty"`
	CauseStats     map[string]int `json:"cause_stats,omitempty"`
	Events         []*Downtime    `json:"events,omitempty"`
}
