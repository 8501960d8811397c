package domain

import "time"

// Verdict is the structured output of the analyzer for one event.
type Verdict struct {
	RootCause             string   `json:"root_cause"`
	IsMaintenanceRequired bool     `json:"is_maintenance_required"`
	RecommendedActions    []string `json:"recommended_actions"`
	PreventiveMeasures    []string `json:"preventive_measures"`
	Severity              Severity `json:"severity"`
	PredictedNextFailure  string   `json:"predicted_next_failure"`
	ConfidenceScore       float64  `json:"confidence_score"`
}

// Analysis is a verdict persisted next to the downtime it describes.
type Analysis struct {
	ID                    int64      `json:"id,omitempty" db:"id"`
	DowntimeID            DowntimeID `json:"downtime_id" db:"downtime_id"`
	RootCause             string     `json:"root_cause" db:"root_cause"`
	ImmediateActions      []string   `json:"immediate_actions" db:"immediate_actions"`
	PreventiveMeasures    []string   `json:"preventive_measures" db:"preventive_measures"`
	Severity              Severity   `json:"severity" db:"severity"`
	PredictedNextFailure  string     `json:"predicted_next_failure" db:"predicted_next_failure"`
	ConfidenceScore       float64    `json:"confidence_score" db:"confidence_score"`
	IsMaintenanceRequired bool       `json:"is_maintenance_required" db:"is_maintenance_required"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
}

// NewAnalysis builds the persisted form of v for downtime id.
func NewAnalysis(id DowntimeID, v *Verdict, now time.Time) *Analysis {
	return &Analysis{
		DowntimeID:            id,
		RootCause:             v.RootCause,
		ImmediateActions:      v.RecommendedActions,
		PreventiveMeasures:    v.PreventiveMeasures,
		Severity:              v.Severity,
		PredictedNextFailure:  v.PredictedNextFailure,
		ConfidenceScore:       v.ConfidenceScore,
		IsMaintenanceRequired: v.IsMaintenanceRequired,
		CreatedAt:             now,
	}
}
