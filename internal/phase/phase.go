/* Copyright (c) 2026 M. Shams
 * SPDX-License-Identifier: BSD-3-Clause */

// Package phase classifies issues into lifecycle phases from their labels
// and computes lead/cycle-time metrics over a snapshot.
package phase

import (
	"strings"
	"time"

	"github.com/mshams/portfolio-pulse/internal/domain"
)

// PatternSet maps a phase to the case-insensitive label substrings that
// select it.
type PatternSet map[domain.Phase][]string

// DefaultPatterns mirrors the label conventions of the tracked projects.
func DefaultPatterns() PatternSet {
	return PatternSet{
		domain.PhaseCancelled:       {"cancelled", "canceled", "won't do", "wontfix"},
		domain.PhaseReleased:        {"released", "in production", "deployed"},
		domain.PhaseBlocked:         {"blocked", "on hold", "waiting"},
		domain.PhaseAwaitingRelease: {"awaiting release", "ready for release", "release pending"},
		domain.PhaseAwaitingTesting: {"awaiting testing", "ready for test", "to test"},
		domain.PhaseTesting:         {"testing", "in test", "qa"},
		domain.PhaseReview:          {"review", "in review", "code review"},
		domain.PhaseInProgress:      {"in progress", "in-progress", "doing", "wip"},
		domain.PhaseAnalysis:        {"analysis", "refinement", "investigating", "spike"},
		domain.PhaseDone:            {"done", "complete"},
		domain.PhaseBacklog:         {"backlog", "to do", "todo"},
	}
}

// classifyOrder is the fixed priority; the first phase whose pattern matches
// any label wins, so overlapping substrings resolve deterministically.
var classifyOrder = []domain.Phase{
	domain.PhaseCancelled,
	domain.PhaseReleased,
	domain.PhaseBlocked,
	domain.PhaseAwaitingRelease,
	domain.PhaseAwaitingTesting,
	domain.PhaseTesting,
	domain.PhaseReview,
	domain.PhaseInProgress,
	domain.PhaseAnalysis,
	domain.PhaseDone,
	domain.PhaseBacklog,
}

// WorkStartPhases are the phases whose label arrival marks the start of
// active work (used by the accurate cycle-time replay).
var WorkStartPhases = []domain.Phase{
	domain.PhaseAnalysis, domain.PhaseInProgress, domain.PhaseReview, domain.PhaseTesting,
}

type Engine struct {
	patterns PatternSet
}

func NewEngine(patterns PatternSet) *Engine {
	if patterns == nil { patterns = DefaultPatterns() }
	return &Engine{patterns: patterns}
}

// Classify picks the issue's phase from its labels. Label list order is
// irrelevant; only the fixed phase priority decides overlaps. Without any
// match, closed issues are done and open issues are backlog.
func (e *Engine) Classify(issue *domain.Issue) domain.Phase {
	if p, ok := e.MatchLabels(issue.Labels); ok { return p }
	if issue.Closed() { return domain.PhaseDone }
	return domain.PhaseBacklog
}

// MatchLabels resolves a label set against the pattern priority.
func (e *Engine) MatchLabels(labels []string) (domain.Phase, bool) {
	lowered := make([]string, len(labels))
	for i, l := range labels { lowered[i] = strings.ToLower(l) }
	for _, p := range classifyOrder {
		for _, pat := range e.patterns[p] {
			for _, l := range lowered {
				if strings.Contains(l, pat) { return p, true }
			}
		}
	}
	return "", false
}

// MatchesWorkStart reports whether a single label belongs to a work-start
// phase pattern.
func (e *Engine) MatchesWorkStart(label string) bool {
	l := strings.ToLower(label)
	for _, p := range WorkStartPhases {
		for _, pat := range e.patterns[p] {
			if strings.Contains(l, pat) { return true }
		}
	}
	return false
}

// LeadTime is creation to closure (or to now for open issues), in
// ceil-rounded days.
func LeadTime(issue *domain.Issue, now time.Time) int {
	end := now
	if issue.ClosedAt != nil { end = *issue.ClosedAt }
	d := domain.DaysBetween(issue.CreatedAt, end)
	if d < 0 { return 0 }
	return d
}

// TimeInCurrentPhase approximates phase tenure from the last update.
func TimeInCurrentPhase(issue *domain.Issue, now time.Time) int {
	d := domain.DaysBetween(issue.UpdatedAt, now)
	if d < 0 { return 0 }
	return d
}

// EstimatedCycleTime estimates work-start to closure for a closed issue
// without label history, using the first applicable strategy:
//  1. milestone start date strictly inside the issue's lifetime;
//  2. updated_at when the create→update gap is over a day yet under half
//     the lead time;
//  3. an implicit 20% wait after creation.
// Returns 0, false for open issues. The result never exceeds the lead time.
func EstimatedCycleTime(issue *domain.Issue, now time.Time) (int, bool) {
	if issue.ClosedAt == nil { return 0, false }
	closed := *issue.ClosedAt
	lead := LeadTime(issue, now)

	var workStarted time.Time
	switch {
	case issue.Milestone != nil && issue.Milestone.StartDate != nil &&
		issue.CreatedAt.Before(issue.Milestone.StartDate.Time) &&
		issue.Milestone.StartDate.Before(closed):
		workStarted = issue.Milestone.StartDate.Time
	case issue.UpdatedAt.After(issue.CreatedAt) &&
		issue.UpdatedAt.Sub(issue.CreatedAt) > 24*time.Hour &&
		domain.DaysBetween(issue.CreatedAt, issue.UpdatedAt) < lead/2:
		workStarted = issue.UpdatedAt
	default:
		total := closed.Sub(issue.CreatedAt)
		workStarted = issue.CreatedAt.Add(time.Duration(float64(total) * 0.20))
	}

	ct := domain.DaysBetween(workStarted, closed)
	if ct < 0 { ct = 0 }
	if ct > lead { ct = lead }
	return ct, true
}
