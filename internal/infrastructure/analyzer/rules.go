package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"quickdowntime/internal/core/domain"
)

type rule struct {
	keywords    []string
	rootCause   string
	severity    domain.Severity
	maintenance bool
	actions     []string
	prevention  []string
}

// Checked in order; the first rule with a matching keyword wins.
var defaultRules = []rule{
	{
		keywords:    []string{"fire", "smoke", "explosion", "injury", "gas leak"},
		rootCause:   "Safety incident",
		severity:    domain.SeverityCritical,
		maintenance: true,
		actions:     []string{"Stop the line and isolate the machine", "Notify the safety officer"},
		prevention:  []string{"Review lockout/tagout procedure", "Schedule a safety audit"},
	},
	{
		keywords:    []string{"overheat", "temperature", "hot", "coolant"},
		rootCause:   "Thermal overload or cooling failure",
		severity:    domain.SeverityHigh,
		maintenance: true,
		actions:     []string{"Check coolant level and flow", "Inspect fans and heat exchangers"},
		prevention:  []string{"Add temperature alarms", "Clean cooling circuits on a fixed schedule"},
	},
	{
		keywords:    []string{"motor", "bearing", "vibration", "gearbox", "shaft", "noise"},
		rootCause:   "Rotating equipment wear",
		severity:    domain.SeverityHigh,
		maintenance: true,
		actions:     []string{"Inspect bearings and alignment", "Measure vibration levels"},
		prevention:  []string{"Start vibration trend monitoring", "Lubricate per OEM interval"},
	},
	{
		keywords:    []string{"electrical", "power", "short", "fuse", "breaker", "trip", "sensor", "plc"},
		rootCause:   "Electrical or control fault",
		severity:    domain.SeverityMedium,
		maintenance: true,
		actions:     []string{"Check supply, fuses and breakers", "Read PLC fault log"},
		prevention:  []string{"Thermographic inspection of panels", "Keep spare sensors on site"},
	},
	{
		keywords:    []string{"jam", "stuck", "blocked", "belt", "conveyor", "misalign"},
		rootCause:   "Material handling jam",
		severity:    domain.SeverityMedium,
		maintenance: false,
		actions:     []string{"Clear the jam and inspect guides", "Verify belt tension"},
		prevention:  []string{"Improve feed alignment", "Add jam detection sensor"},
	},
	{
		keywords:    []string{"material", "shortage", "waiting", "changeover", "setup", "break"},
		rootCause:   "Planned or logistics stop",
		severity:    domain.SeverityLow,
		maintenance: false,
		actions:     []string{"Confirm material availability with logistics"},
		prevention:  []string{"Align production plan with supply", "Reduce changeover time"},
	},
}

// RulesAnalyzer derives a verdict from keywords in the report and from how
// often the machine stopped recently. It needs no network access.
type RulesAnalyzer struct {
	rules []rule
	// Repeats at or above this count within the history escalate severity one level.
	repeatThreshold int
}

func NewRulesAnalyzer() *RulesAnalyzer {
	return &RulesAnalyzer{rules: defaultRules, repeatThreshold: 3}
}

func (r *RulesAnalyzer) Analyze(ctx context.Context, event *domain.Downtime, history []*domain.Downtime) (*domain.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAnalyzer, err)
	}

	text := strings.ToLower(strings.Join([]string{event.Reason, event.Category, event.Description}, " "))

	v := &domain.Verdict{
		RootCause:            "Undetermined, manual inspection needed",
		Severity:             domain.SeverityLow,
		RecommendedActions:   []string{"Inspect the machine and add details to the report"},
		PreventiveMeasures:   []string{},
		PredictedNextFailure: "unknown",
		ConfidenceScore:      30,
	}
	for _, rl := range r.rules {
		if containsAny(text, rl.keywords) {
			v.RootCause = rl.rootCause
			v.Severity = rl.severity
			v.IsMaintenanceRequired = rl.maintenance
			v.RecommendedActions = append([]string(nil), rl.actions...)
			v.PreventiveMeasures = append([]string(nil), rl.prevention...)
			v.ConfidenceScore = 60
			break
		}
	}

	repeats := 0
	for _, h := range history {
		if h.ID != event.ID && h.MachineID == event.MachineID {
			repeats++
		}
	}
	if repeats >= r.repeatThreshold {
		v.Severity = escalate(v.Severity)
		v.IsMaintenanceRequired = true
		v.PredictedNextFailure = "likely within days: recurring stoppages on this machine"
		v.PreventiveMeasures = append(v.PreventiveMeasures, "Open a root cause investigation for repeated stops")
		v.ConfidenceScore += 15
	}
	return v, nil
}

// Summarize returns the input with a short ranked digest appended.
func (r *RulesAnalyzer) Summarize(ctx context.Context, summary string) (string, error) {
	lines := strings.Split(summary, "\n")
	counts := map[string]int{}
	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, rl := range r.rules {
			if containsAny(lower, rl.keywords) {
				counts[rl.rootCause]++
				break
			}
		}
	}

	type kv struct {
		cause string
		n     int
	}
	ranked := make([]kv, 0, len(counts))
	for c, n := range counts {
		ranked = append(ranked, kv{c, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n == ranked[j].n {
			return ranked[i].cause < ranked[j].cause
		}
		return ranked[i].n > ranked[j].n
	})

	var b strings.Builder
	b.WriteString(strings.TrimSpace(summary))
	b.WriteString("\n\nLikely cause groups:\n")
	if len(ranked) == 0 {
		b.WriteString("- none recognized, review the reports manually\n")
	}
	for _, e := range ranked {
		fmt.Fprintf(&b, "- %s: %d\n", e.cause, e.n)
	}
	return strings.TrimSpace(b.String()), nil
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func escalate(s domain.Severity) domain.Severity {
	switch s {
	case domain.SeverityLow:
		return domain.SeverityMedium
	case domain.SeverityMedium:
		return domain.SeverityHigh
	default:
		return domain.SeverityCritical
	}
}
