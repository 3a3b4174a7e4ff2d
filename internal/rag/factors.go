package rag

import (
	"fmt"
	"time"

	"github.com/mshams/portfolio-pulse/internal/domain"
)

// synthesize runs the critical and warning trigger tables over the derived
// metrics and emits each factor with its paired action.
func synthesize(epic *domain.Epic, issues []domain.Issue, m Metrics, now time.Time) ([]Factor, []Action) {
	var fs []Factor
	var as []Action
	add := func(f Factor, a Action) {
		fs = append(fs, f)
		as = append(as, a)
	}

	if m.IsOverdue && m.OpenIssues > 0 {
		add(Factor{
			Severity: SeverityCritical, Category: "schedule",
			Title:       "Epic overdue",
			Description: fmt.Sprintf("due date passed %d days ago with %d issues still open", -m.DaysUntilDue, m.OpenIssues),
			Impact:      "committed delivery date has been missed",
		}, Action{
			Priority: "critical", Title: "Re-plan the epic",
			Description:     "agree a new end date with stakeholders or cut remaining scope",
			EstimatedEffort: "1-2 hours with stakeholders",
			Impact:          "restores a credible delivery commitment",
		})
	}
	if m.IsOverdue && m.OpenIssues == 0 && epic.EndDate != nil && anyClosedAfter(issues, epic.EndDate.Time) {
		add(Factor{
			Severity: SeverityWarning, Category: "schedule",
			Title:       "Completed late",
			Description: "all issues closed, but some only after the epic's end date",
			Impact:      "delivery slipped past the committed date",
		}, Action{
			Priority: "low", Title: "Capture the slip in retrospective",
			Description:     "review why the final issues ran past the end date",
			EstimatedEffort: "30 minutes",
			Impact:          "feeds the next planning cycle",
		})
	}
	if m.VelocityRatio < 0.7 && m.RequiredVelocity > 0 {
		add(Factor{
			Severity: SeverityCritical, Category: "velocity",
			Title:       "Velocity crisis",
			Description: fmt.Sprintf("closing %.1f issues/iteration but %.1f are needed to hit the end date", m.CurrentVelocity, m.RequiredVelocity),
			Impact:      "the epic cannot finish on time at the current pace",
		}, Action{
			Priority: "critical", Title: "Increase capacity or reduce scope",
			Description:     fmt.Sprintf("add contributors or descope; the gap is %.1f issues per iteration", m.RequiredVelocity-m.CurrentVelocity),
			EstimatedEffort: "planning session",
			Impact:          "closes the gap between pace and commitment",
		})
	}
	if m.OldBlockedCount > 0 || m.BlockedCount >= 4 {
		add(Factor{
			Severity: SeverityCritical, Category: "blockers",
			Title:       "Blocker crisis",
			Description: fmt.Sprintf("%d blocked issues, %d blocked for over %d days", m.BlockedCount, m.OldBlockedCount, oldBlockDays),
			Impact:      "stalled work is silently eating the remaining runway",
		}, Action{
			Priority: "critical", Title: "Escalate long-standing blockers",
			Description:     "walk the blocked list with the owning teams and set unblock dates",
			EstimatedEffort: "half a day",
			Impact:          "returns stalled issues to the flow",
		})
	}
	if m.WeightVarianceKnown && m.WeightVariance < -40 {
		add(Factor{
			Severity: SeverityCritical, Category: "estimation",
			Title:       "Severe underestimation",
			Description: fmt.Sprintf("remaining weight is %.0f%% below what history suggests this much work needs", -m.WeightVariance),
			Impact:      "the plan is built on estimates history contradicts",
		}, Action{
			Priority: "high", Title: "Re-estimate remaining issues",
			Description:     "re-point the open issues against recent actuals before trusting the forecast",
			EstimatedEffort: "one refinement session",
			Impact:          "realigns the plan with observed delivery cost",
		})
	}
	if m.IterationsKnown && m.RemainingIterations < 1 && m.OpenIssues > 3 {
		add(Factor{
			Severity: SeverityCritical, Category: "schedule",
			Title:       "Insufficient time remaining",
			Description: fmt.Sprintf("under one iteration left for %d open issues", m.OpenIssues),
			Impact:      "remaining scope does not fit the remaining calendar",
		}, Action{
			Priority: "critical", Title: "Cut scope now",
			Description:     "pick the issues that must ship and move the rest out of the epic",
			EstimatedEffort: "1 hour with the product owner",
			Impact:          "protects the essential slice of the delivery",
		})
	}
	if m.IterationsKnown && m.ProgressPercent < 30 && m.RemainingIterations < 3 {
		add(Factor{
			Severity: SeverityCritical, Category: "progress",
			Title:       "Critically behind",
			Description: fmt.Sprintf("%.0f%% done with %.1f iterations left", m.ProgressPercent, m.RemainingIterations),
			Impact:      "most of the work remains with little calendar left",
		}, Action{
			Priority: "high", Title: "Review epic viability",
			Description:     "decide whether to extend, descope, or stop this epic",
			EstimatedEffort: "1 hour",
			Impact:          "avoids sinking further effort into an unreachable plan",
		})
	}

	// Warning tier.
	if m.RequiredVelocity > 0 && m.VelocityRatio >= 0.7 && m.VelocityRatio < 1.0 {
		add(Factor{
			Severity: SeverityWarning, Category: "velocity",
			Title:       "Velocity below target",
			Description: fmt.Sprintf("pace covers %.0f%% of what the end date requires", m.VelocityRatio*100),
			Impact:      "small slips will push the epic past its date",
		}, Action{
			Priority: "medium", Title: "Watch throughput weekly",
			Description:     "track closures per iteration and intervene if the gap widens",
			EstimatedEffort: "ongoing",
			Impact:          "catches drift before it becomes a crisis",
		})
	}
	if m.BlockedCount >= 2 && m.BlockedCount < 4 {
		add(Factor{
			Severity: SeverityWarning, Category: "blockers",
			Title:       "Blocked work accumulating",
			Description: fmt.Sprintf("%d issues currently blocked", m.BlockedCount),
			Impact:      "throughput will drop if blockers age",
		}, Action{
			Priority: "medium", Title: "Review blockers in standup",
			Description:     "assign an owner and a next step to each blocked issue",
			EstimatedEffort: "15 minutes daily",
			Impact:          "keeps blockers from hardening",
		})
	}
	if m.WeightVarianceKnown && m.WeightVariance >= -40 && m.WeightVariance < -20 {
		add(Factor{
			Severity: SeverityWarning, Category: "estimation",
			Title:       "Scope lighter than history suggests",
			Description: fmt.Sprintf("remaining weight is %.0f%% below the historical estimate", -m.WeightVariance),
			Impact:      "estimates may be optimistic",
		}, Action{
			Priority: "low", Title: "Spot-check recent estimates",
			Description:     "compare a few closed issues' weights against their actual cycle time",
			EstimatedEffort: "30 minutes",
			Impact:          "validates whether the optimism is real",
		})
	}
	if m.IterationsKnown && m.RemainingIterations <= 1.5 && m.OpenIssues > 0 {
		add(Factor{
			Severity: SeverityWarning, Category: "schedule",
			Title:       "Tight runway",
			Description: fmt.Sprintf("%.1f iterations left for %d open issues", m.RemainingIterations, m.OpenIssues),
			Impact:      "no slack remains for surprises",
		}, Action{
			Priority: "medium", Title: "Freeze scope",
			Description:     "stop adding issues to this epic until it closes",
			EstimatedEffort: "decision only",
			Impact:          "protects the remaining runway",
		})
	}
	if m.IterationsKnown && m.ProgressPercent < 50 && m.RemainingIterations >= 3 && m.RemainingIterations < 4 {
		add(Factor{
			Severity: SeverityWarning, Category: "progress",
			Title:       "Progress lagging",
			Description: fmt.Sprintf("%.0f%% done at the halfway mark", m.ProgressPercent),
			Impact:      "the back half must run faster than the front half did",
		}, Action{
			Priority: "medium", Title: "Identify the slowdown",
			Description:     "check whether early issues were underestimated or the team was diverted",
			EstimatedEffort: "1 hour",
			Impact:          "targets the fix at the real cause",
		})
	}
	if m.OverallocatedMembers >= 1 {
		add(Factor{
			Severity: SeverityWarning, Category: "capacity",
			Title:       "Overallocated members",
			Description: fmt.Sprintf("%d members carry more open weight than an iteration holds", m.OverallocatedMembers),
			Impact:      "overloaded assignees become the delivery bottleneck",
		}, Action{
			Priority: "medium", Title: "Rebalance assignments",
			Description:     "move open issues from overloaded members to members with spare capacity",
			EstimatedEffort: "30 minutes",
			Impact:          "spreads the remaining work evenly",
		})
	}
	return fs, as
}

func anyClosedAfter(issues []domain.Issue, cutoff time.Time) bool {
	for i := range issues {
		if c := issues[i].ClosedAt; c != nil && c.After(cutoff) { return true }
	}
	return false
}
