/* Copyright (c) 2026 M. Shams
 * SPDX-License-Identifier: BSD-3-Clause */

// Package rag evaluates per-epic delivery health into Red/Amber/Green with
// root-cause factors, recommended actions, and a completion projection.
package rag

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/mshams/portfolio-pulse/internal/domain"
	"github.com/mshams/portfolio-pulse/internal/phase"
)

// HistoricalData is snapshot-wide context from the cycle-time engine.
type HistoricalData struct {
	AvgCycleTime    int `json:"avgCycleTime"`
	MedianCycleTime int `json:"medianCycleTime"`
}

// Severity of a factor.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Factor is one finding behind the status.
type Factor struct {
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Impact      string   `json:"impact"`
}

// Action is the recommendation paired with a factor.
type Action struct {
	Priority        string `json:"priority"` // critical | high | medium | low
	Title           string `json:"title"`
	Description     string `json:"description"`
	EstimatedEffort string `json:"estimatedEffort"`
	Impact          string `json:"impact"`
}

// Metrics are the derived numbers the factor tables evaluate.
type Metrics struct {
	TotalIssues          int     `json:"totalIssues"`
	ClosedIssues         int     `json:"closedIssues"`
	OpenIssues           int     `json:"openIssues"`
	ProgressPercent      float64 `json:"progressPercent"`
	RemainingIterations  float64 `json:"remainingIterations"`
	IterationsKnown      bool    `json:"iterationsKnown"`
	CurrentVelocity      float64 `json:"currentVelocity"`
	RequiredVelocity     float64 `json:"requiredVelocity"`
	VelocityRatio        float64 `json:"velocityRatio"`
	BlockedCount         int     `json:"blockedCount"`
	OldBlockedCount      int     `json:"oldBlockedCount"`
	TotalWeight          int     `json:"totalWeight"`
	WeightVariance       float64 `json:"weightVariance"`
	WeightVarianceKnown  bool    `json:"weightVarianceKnown"`
	DaysUntilDue         int     `json:"daysUntilDue"`
	HasDueDate           bool    `json:"hasDueDate"`
	IsOverdue            bool    `json:"isOverdue"`
	OverallocatedMembers int     `json:"overallocatedMembers"`
}

// Projection is the expected completion given current velocity.
type Projection struct {
	IterationsNeeded int       `json:"iterationsNeeded"`
	ProjectedDate    time.Time `json:"projectedDate"`
	DaysVariance     int       `json:"daysVariance"`
	OnTime           bool      `json:"onTime"`
}

// Health is the full evaluation for one epic.
type Health struct {
	EpicID     int64       `json:"epicId"`
	EpicTitle  string      `json:"epicTitle"`
	Status     string      `json:"status"` // red | amber | green
	Reason     string      `json:"reason"`
	Factors    []Factor    `json:"factors"`
	Actions    []Action    `json:"actions"`
	Metrics    Metrics     `json:"metrics"`
	Projection *Projection `json:"projection,omitempty"`
}

type Evaluator struct {
	phases *phase.Engine
	log    zerolog.Logger
}

func NewEvaluator(p *phase.Engine, log zerolog.Logger) *Evaluator {
	return &Evaluator{phases: p, log: log}
}

const (
	iterationLengthDays = 14
	oldBlockDays        = 15
	assumedIterDays     = 10
)

// Evaluate derives the metrics, runs the factor tables, and aggregates
// status, reason, and projection for one epic.
func (e *Evaluator) Evaluate(epic *domain.Epic, issues []domain.Issue, hist HistoricalData, now time.Time) *Health {
	h := &Health{EpicID: epic.ID, EpicTitle: epic.Title}
	m := e.deriveMetrics(epic, issues, hist, now)
	h.Metrics = m

	h.Factors, h.Actions = synthesize(epic, issues, m, now)
	sortFactors(h.Factors)
	sortActions(h.Actions)

	switch {
	case hasSeverity(h.Factors, SeverityCritical):
		h.Status = "red"
	case hasSeverity(h.Factors, SeverityWarning):
		h.Status = "amber"
	default:
		h.Status = "green"
	}
	if h.Status == "green" {
		h.Reason = fmt.Sprintf("on track: velocity %.1f vs required %.1f issues/iteration", m.CurrentVelocity, m.RequiredVelocity)
	} else if len(h.Factors) > 0 {
		h.Reason = h.Factors[0].Title
	}

	if m.IterationsKnown && m.CurrentVelocity > 0 && m.OpenIssues > 0 {
		needed := int(math.Ceil(float64(m.OpenIssues) / m.CurrentVelocity))
		proj := Projection{
			IterationsNeeded: needed,
			ProjectedDate:    now.AddDate(0, 0, needed*iterationLengthDays),
		}
		if epic.EndDate != nil {
			proj.DaysVariance = domain.DaysBetween(epic.EndDate.Time, proj.ProjectedDate)
			proj.OnTime = proj.DaysVariance <= 0
		}
		h.Projection = &proj
	}
	e.log.Debug().Int64("epic", epic.ID).Str("status", h.Status).Int("factors", len(h.Factors)).Msg("epic evaluated")
	return h
}

func (e *Evaluator) deriveMetrics(epic *domain.Epic, issues []domain.Issue, hist HistoricalData, now time.Time) Metrics {
	var m Metrics
	m.TotalIssues = len(issues)
	memberWeight := map[string]int{}
	for i := range issues {
		is := &issues[i]
		if is.Closed() {
			m.ClosedIssues++
			continue
		}
		m.OpenIssues++
		m.TotalWeight += is.Weight
		for _, a := range is.Assignees { memberWeight[a.Username] += is.Weight }
		if is.Assignee != nil && len(is.Assignees) == 0 { memberWeight[is.Assignee.Username] += is.Weight }
		if e.phases.Classify(is) == domain.PhaseBlocked {
			m.BlockedCount++
			if domain.DaysBetween(is.UpdatedAt, now) > oldBlockDays { m.OldBlockedCount++ }
		}
	}
	if m.TotalIssues > 0 {
		m.ProgressPercent = float64(m.ClosedIssues) / float64(m.TotalIssues) * 100
	}
	for _, w := range memberWeight {
		if float64(w)/assumedIterDays > 1.2 { m.OverallocatedMembers++ }
	}

	if epic.EndDate != nil {
		m.HasDueDate = true
		m.DaysUntilDue = domain.DaysBetween(now, epic.EndDate.Time)
		m.IsOverdue = m.DaysUntilDue < 0
		m.IterationsKnown = true
		if future := distinctFutureIterations(issues, now, epic.EndDate.Time); future > 0 {
			m.RemainingIterations = float64(future)
		} else if m.DaysUntilDue > 0 {
			m.RemainingIterations = math.Floor(float64(m.DaysUntilDue) / iterationLengthDays)
		}
	}

	m.CurrentVelocity = currentVelocity(issues)
	if m.RemainingIterations > 0 {
		m.RequiredVelocity = float64(m.OpenIssues) / m.RemainingIterations
	} else {
		m.RequiredVelocity = float64(m.OpenIssues)
	}
	if m.RequiredVelocity > 0 {
		m.VelocityRatio = m.CurrentVelocity / m.RequiredVelocity
	}

	if hist.AvgCycleTime > 0 && m.OpenIssues > 0 {
		est := float64(hist.AvgCycleTime * m.OpenIssues)
		m.WeightVariance = (float64(m.TotalWeight) - est) / est * 100
		m.WeightVarianceKnown = true
	}
	return m
}

// distinctFutureIterations counts iteration titles whose start falls inside
// (now, end].
func distinctFutureIterations(issues []domain.Issue, now, end time.Time) int {
	seen := map[string]bool{}
	for i := range issues {
		it := issues[i].Iteration
		if it == nil || it.StartDate == nil { continue }
		s := it.StartDate.Time
		if s.After(now) && !s.After(end) { seen[it.Title] = true }
	}
	return len(seen)
}

// currentVelocity averages closures per iteration over the last three
// iterations with dates; without iteration data every closure counts as one
// iteration's output.
func currentVelocity(issues []domain.Issue) float64 {
	type iter struct {
		end    time.Time
		closed int
	}
	byName := map[string]*iter{}
	closedTotal := 0
	for i := range issues {
		is := &issues[i]
		if !is.Closed() { continue }
		closedTotal++
		if is.Iteration == nil || is.Iteration.DueDate == nil { continue }
		a := byName[is.Iteration.Title]
		if a == nil {
			a = &iter{end: is.Iteration.DueDate.Time}
			byName[is.Iteration.Title] = a
		}
		a.closed++
	}
	if len(byName) == 0 { return float64(closedTotal) }
	all := make([]*iter, 0, len(byName))
	for _, a := range byName { all = append(all, a) }
	sort.SliceStable(all, func(i, j int) bool { return all[i].end.After(all[j].end) })
	if len(all) > 3 { all = all[:3] }
	sum := 0
	for _, a := range all { sum += a.closed }
	return float64(sum) / float64(len(all))
}

func hasSeverity(fs []Factor, s Severity) bool {
	for _, f := range fs {
		if f.Severity == s { return true }
	}
	return false
}

var severityRank = map[Severity]int{SeverityCritical: 0, SeverityWarning: 1, SeverityInfo: 2}
var priorityRank = map[string]int{"critical": 0, "high": 1, "medium": 2, "low": 3}

func sortFactors(fs []Factor) {
	sort.SliceStable(fs, func(i, j int) bool { return severityRank[fs[i].Severity] < severityRank[fs[j].Severity] })
}

func sortActions(as []Action) {
	sort.SliceStable(as, func(i, j int) bool { return priorityRank[as[i].Priority] < priorityRank[as[j].Priority] })
}
