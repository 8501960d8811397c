package domain

import (
	"encoding/json"
	"time"
)

const (
	EventNewDowntime       = "new_downtime"
	EventNewDowntimeWithAI = "new_downtime_with_ai"
	EventDowntimeResolved  = "downtime_resolved"
)

// NewDowntimeEvent is pushed to managers when an operator reports a stoppage.
type NewDowntimeEvent struct {
	Type          string     `json:"type"`
	ID            DowntimeID `json:"id"`
	MachineID     string     `json:"machine_id"`
	Reason        string     `json:"reason"`
	Category      string     `json:"category"`
	Description   string     `json:"description"`
	Severity      Severity   `json:"severity"`
	CreatedAt     time.Time  `json:"created_at"`
	OperatorEmail string     `json:"operator_email"`
}

func NewDowntimeEventFrom(d *Downtime) NewDowntimeEvent {
	sev := d.Severity
	if sev == "" {
		sev = SeverityUnknown
	}
	return NewDowntimeEvent{
		Type:          EventNewDowntime,
		ID:            d.ID,
		MachineID:     d.MachineID,
		Reason:        d.Reason,
		Category:      d.Category,
		Description:   d.Description,
		Severity:      sev,
		CreatedAt:     d.CreatedAt,
		OperatorEmail: d.OperatorEmail,
	}
}

// LegacyDowntimeEvent is the payload of the global management socket.
type LegacyDowntimeEvent struct {
	Type       string    `json:"type"`
	Downtime   *Downtime `json:"downtime"`
	AIAnalysis *Verdict  `json:"ai_analysis"`
}

// MarshalJSON writes a missing verdict as an empty object, the shape legacy
// dashboards read.
func (e LegacyDowntimeEvent) MarshalJSON() ([]byte, error) {
	type plain LegacyDowntimeEvent
	out := struct {
		plain
		AIAnalysis any `json:"ai_analysis"`
	}{plain: plain(e), AIAnalysis: struct{}{}}
	if e.AIAnalysis != nil {
		out.AIAnalysis = e.AIAnalysis
	}
	return json.Marshal(out)
}

type DowntimeResolvedEvent struct {
	Type       string     `json:"type"`
	ID         DowntimeID `json:"id"`
	ResolvedBy UserID     `json:"resolved_by"`
	ResolvedAt time.Time  `json:"resolved_at"`
}

// MachineChannel names the broadcast channel of one machine.
func MachineChannel(machineID string) string {
	return "machine:" + machineID
}

// DeliveryReport summarizes one broadcast. Dropped connections were removed from
// the registry.
type DeliveryReport struct {
	Target    string
	Delivered int
	Dropped   int
}
