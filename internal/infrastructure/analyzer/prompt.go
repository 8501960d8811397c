package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"quickdowntime/internal/core/domain"
)

const systemPrompt = "You are an expert manufacturing reliability engineer. You answer with strict JSON only."

// promptEvent is the subset of a record the model sees.
type promptEvent struct {
	ID          domain.DowntimeID `json:"id,omitempty"`
	MachineID   string            `json:"machine_id"`
	Reason      string            `json:"reason"`
	Category    string            `json:"category"`
	Description string            `json:"description,omitempty"`
	Status      domain.Status     `json:"status,omitempty"`
	Severity    domain.Severity   `json:"severity,omitempty"`
	RootCause   string            `json:"root_cause,omitempty"`
	StartTime   string            `json:"start_time,omitempty"`
	HasImage    bool              `json:"has_image,omitempty"`
	HasAudio    bool              `json:"has_audio,omitempty"`
}

func toPromptEvent(d *domain.Downtime) promptEvent {
	e := promptEvent{
		ID:          d.ID,
		MachineID:   d.MachineID,
		Reason:      d.Reason,
		Category:    d.Category,
		Description: d.Description,
		Status:      d.Status,
		Severity:    d.Severity,
		RootCause:   d.RootCause,
		HasImage:    d.ImagePath != "",
		HasAudio:    d.AudioPath != "",
	}
	if !d.StartTime.IsZero() {
		e.StartTime = d.StartTime.UTC().Format("2006-01-02T15:04:05Z")
	}
	return e
}

func buildAnalysisPrompt(event *domain.Downtime, history []*domain.Downtime, maxHistory int) string {
	if maxHistory > 0 && len(history) > maxHistory {
		history = history[:maxHistory]
	}
	hist := make([]promptEvent, 0, len(history))
	for _, h := range history {
		hist = append(hist, toPromptEvent(h))
	}

	eventJSON, _ := json.MarshalIndent(toPromptEvent(event), "", "  ")
	histJSON, _ := json.MarshalIndent(hist, "", "  ")

	var b strings.Builder
	b.WriteString("Analyze the machine downtime below and return strict JSON only.\n")
	b.WriteString("confidence_score is a percentage between 1 and 100.\n\n")
	fmt.Fprintf(&b, "Current event:\n%s\n\n", eventJSON)
	fmt.Fprintf(&b, "Recent history (newest first):\n%s\n\n", histJSON)
	b.WriteString(`Return exactly this shape:
{
  "root_cause": "",
  "is_maintenance_required": true,
  "recommended_actions": [""],
  "preventive_measures": [""],
  "severity": "low|medium|high|critical",
  "predicted_next_failure": "",
  "confidence_score": 0
}
No markdown, no code fences, no commentary.`)
	return b.String()
}

func buildSummaryPrompt(summary string) string {
	return `You are a manufacturing analyst for a steel plant.

Analyze the following downtime data and give actionable insights:

` + summary + `

Cover, briefly:
1. Key patterns
2. Critical issues needing immediate attention
3. Likely root causes
4. Specific preventive actions
5. Estimated production impact

Plain text only. No markdown.`
}
