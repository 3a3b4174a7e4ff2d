package phase

import (
	"fmt"
	"sort"
	"time"

	"github.com/mshams/portfolio-pulse/internal/domain"
)

// Bottleneck flags a phase where open issues pile up or linger.
type Bottleneck struct {
	Phase      domain.Phase `json:"phase"`
	Count      int          `json:"count"`
	AvgDays    int          `json:"avgDays"`
	Severity   string       `json:"severity"` // high | medium | low
	RootCauses []string     `json:"rootCauses"`
	Actions    []string     `json:"actions"`
}

// DetectBottlenecks groups open issues by phase, sorts by volume, and flags
// phases per the severity rules: high for the top phase with more than 5
// issues, medium for average tenure over two weeks, low for more than 3.
func (e *Engine) DetectBottlenecks(issues []domain.Issue, now time.Time) []Bottleneck {
	type agg struct {
		count int
		days  int
	}
	byPhase := map[domain.Phase]*agg{}
	for i := range issues {
		is := &issues[i]
		if is.Closed() { continue }
		p := e.Classify(is)
		a := byPhase[p]
		if a == nil {
			a = &agg{}
			byPhase[p] = a
		}
		a.count++
		a.days += TimeInCurrentPhase(is, now)
	}

	var ordered []Bottleneck
	for p, a := range byPhase {
		ordered = append(ordered, Bottleneck{Phase: p, Count: a.count, AvgDays: a.days / a.count})
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Count != ordered[j].Count { return ordered[i].Count > ordered[j].Count }
		return ordered[i].Phase < ordered[j].Phase
	})

	var out []Bottleneck
	for idx, b := range ordered {
		switch {
		case idx == 0 && b.Count > 5:
			b.Severity = "high"
		case b.AvgDays > 14:
			b.Severity = "medium"
		case b.Count > 3:
			b.Severity = "low"
		default:
			continue
		}
		b.RootCauses, b.Actions = diagnose(b)
		out = append(out, b)
	}
	return out
}

// diagnose synthesizes phase-specific causes and actions, with generic
// fallbacks for sheer volume or long tenure.
func diagnose(b Bottleneck) (causes, actions []string) {
	switch b.Phase {
	case domain.PhaseTesting:
		if b.AvgDays > 7 {
			causes = append(causes, "QA backlog: issues wait over a week in testing")
			actions = append(actions, "rebalance QA capacity or pair developers on test execution")
		}
	case domain.PhaseInProgress:
		if b.Count > 8 {
			causes = append(causes, "work in progress exceeds team bandwidth")
			actions = append(actions, fmt.Sprintf("introduce a WIP limit below %d and finish before starting", b.Count))
		}
	case domain.PhaseReview:
		if b.Count > 4 {
			causes = append(causes, "review queue outpaces reviewer availability")
			actions = append(actions, "rotate reviewers or timebox review turnaround")
		}
	case domain.PhaseBlocked:
		causes = append(causes, "external or cross-team dependencies are unresolved")
		actions = append(actions, "escalate blockers older than a sprint to the portfolio owner")
	case domain.PhaseAwaitingRelease:
		causes = append(causes, "completed work queues behind the release cadence")
		actions = append(actions, "consider more frequent releases or feature flags")
	}
	if len(causes) == 0 {
		if b.Count > 5 {
			causes = append(causes, fmt.Sprintf("high volume: %d open issues in %s", b.Count, b.Phase))
			actions = append(actions, "split or reprioritize the queue for this phase")
		}
		if b.AvgDays > 14 {
			causes = append(causes, fmt.Sprintf("long tenure: issues average %d days in %s", b.AvgDays, b.Phase))
			actions = append(actions, "review the oldest issues for hidden blockers or stale scope")
		}
	}
	return causes, actions
}
