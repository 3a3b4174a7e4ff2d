/* Copyright (c) 2026 M. Shams
 * SPDX-License-Identifier: BSD-3-Clause */

// Package velocity derives per-member hours-per-story-point from completed
// iterations, with team-average and static fallbacks, and sprint capacity
// adjusted for planned absences.
package velocity

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mshams/portfolio-pulse/internal/domain"
	"github.com/mshams/portfolio-pulse/internal/store"
)

// DefaultLookback is how many recent iterations feed a member's velocity.
const DefaultLookback = 3

var spLabelRe = regexp.MustCompile(`(?i)^sp::(\d+)$`)

type Engine struct {
	store  store.Store
	log    zerolog.Logger
	static float64 // configured hours-per-story-point fallback
}

func NewEngine(st store.Store, log zerolog.Logger, staticHoursPerPoint float64) *Engine {
	if staticHoursPerPoint <= 0 { staticHoursPerPoint = 6 }
	return &Engine{store: st, log: log, static: staticHoursPerPoint}
}

// IterationVelocity is one iteration's contribution to a member's velocity.
type IterationVelocity struct {
	Name           string      `json:"name"`
	StartDate      domain.Date `json:"startDate"`
	EndDate        domain.Date `json:"endDate"`
	StoryPoints    int         `json:"storyPoints"`
	WorkDays       int         `json:"workDays"`
	AvailableHours float64     `json:"availableHours"`
}

// MemberVelocity is the per-member result. HoursPerStoryPoint is nil when
// history is too thin to trust.
type MemberVelocity struct {
	Username            string              `json:"username"`
	HoursPerStoryPoint  *float64            `json:"hoursPerStoryPoint"`
	IterationsAnalyzed  int                 `json:"iterationsAnalyzed"`
	TotalStoryPoints    int                 `json:"totalStoryPoints"`
	TotalAvailableHours float64             `json:"totalAvailableHours"`
	DataQuality         string              `json:"dataQuality"`
	Iterations          []IterationVelocity `json:"iterations,omitempty"`
}

// StoryPoints extracts an issue's points: an sp::<n> label wins over weight.
func StoryPoints(issue *domain.Issue) int {
	for _, l := range issue.Labels {
		if m := spLabelRe.FindStringSubmatch(l); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil { return n }
		}
	}
	return issue.Weight
}

// iterationName prefers a sprint/iteration label over the iteration title so
// manually labeled issues group with their labeled sprint.
func iterationName(issue *domain.Issue) string {
	for _, l := range issue.Labels {
		ll := strings.ToLower(l)
		if strings.HasPrefix(ll, "sprint") || strings.HasPrefix(ll, "iteration") { return l }
	}
	if issue.Iteration != nil { return issue.Iteration.Title }
	return ""
}

// CalculateMemberVelocity computes hours per story point for one member over
// the last lookback completed iterations.
func (e *Engine) CalculateMemberVelocity(ctx context.Context, username string, issues []domain.Issue, weeklyHours float64, lookback int) MemberVelocity {
	if lookback <= 0 { lookback = DefaultLookback }
	mv := MemberVelocity{Username: username}

	assigned := 0
	type iterAgg struct {
		start, end domain.Date
		points     int
	}
	byIter := map[string]*iterAgg{}
	for i := range issues {
		is := &issues[i]
		if !is.Closed() || !is.AssignedTo(username) { continue }
		assigned++
		if is.Iteration == nil || is.Iteration.StartDate == nil || is.Iteration.DueDate == nil { continue }
		pts := StoryPoints(is)
		if pts <= 0 { continue }
		name := iterationName(is)
		if name == "" { continue }
		a := byIter[name]
		if a == nil {
			a = &iterAgg{start: *is.Iteration.StartDate, end: *is.Iteration.DueDate}
			byIter[name] = a
		}
		a.points += pts
	}
	if assigned == 0 {
		mv.DataQuality = "no-history"
		return mv
	}
	if len(byIter) == 0 {
		mv.DataQuality = "no-completed-work"
		return mv
	}

	absences, err := e.loadAbsences(ctx)
	if err != nil { e.log.Warn().Err(err).Msg("absence records unavailable; assuming full availability") }

	names := make([]string, 0, len(byIter))
	for n := range byIter { names = append(names, n) }
	sort.SliceStable(names, func(i, j int) bool {
		return byIter[names[i]].end.Time.After(byIter[names[j]].end.Time)
	})
	if len(names) > lookback { names = names[:lookback] }

	for _, n := range names {
		a := byIter[n]
		workDays := domain.WorkingDays(a.start.Time, a.end.Time)
		capacity := float64(workDays) * weeklyHours / 5
		available := math.Max(0, capacity-AbsenceHours(absences, username, a.start, a.end, weeklyHours))
		mv.Iterations = append(mv.Iterations, IterationVelocity{
			Name: n, StartDate: a.start, EndDate: a.end,
			StoryPoints: a.points, WorkDays: workDays, AvailableHours: available,
		})
		mv.TotalStoryPoints += a.points
		mv.TotalAvailableHours += available
	}
	mv.IterationsAnalyzed = len(mv.Iterations)

	if mv.TotalStoryPoints == 0 || mv.TotalAvailableHours == 0 {
		mv.DataQuality = "insufficient"
		return mv
	}
	hps := math.Round(mv.TotalAvailableHours/float64(mv.TotalStoryPoints)*10) / 10
	mv.HoursPerStoryPoint = &hps
	switch {
	case mv.IterationsAnalyzed >= 3:
		mv.DataQuality = "excellent"
	case mv.IterationsAnalyzed == 2:
		mv.DataQuality = "moderate"
	default:
		mv.DataQuality = "low"
	}
	return mv
}

// TeamAverage is the mean over members with enough history.
type TeamAverage struct {
	HoursPerStoryPoint *float64 `json:"hoursPerStoryPoint"`
	MembersAnalyzed    int      `json:"membersAnalyzed"`
	Quality            string   `json:"quality"` // good | moderate
}

// CalculateTeamAverage averages member velocities that are backed by at
// least two iterations.
func CalculateTeamAverage(members []MemberVelocity) TeamAverage {
	ta := TeamAverage{Quality: "moderate"}
	sum := 0.0
	for _, m := range members {
		if m.HoursPerStoryPoint == nil || m.IterationsAnalyzed < 2 { continue }
		sum += *m.HoursPerStoryPoint
		ta.MembersAnalyzed++
	}
	if ta.MembersAnalyzed == 0 { return ta }
	avg := math.Round(sum/float64(ta.MembersAnalyzed)*10) / 10
	ta.HoursPerStoryPoint = &avg
	if ta.MembersAnalyzed >= 3 { ta.Quality = "good" }
	return ta
}

// Lookup is a resolved hours-per-story-point value with its provenance.
type Lookup struct {
	Value  float64 `json:"value"`
	Source string  `json:"source"` // individual | team-average | static
}

// GetHoursPerStoryPoint resolves the conversion rate for a member: their own
// history when it spans at least two iterations, else the team average, else
// the configured constant.
func (e *Engine) GetHoursPerStoryPoint(ctx context.Context, username string, issues []domain.Issue, team []domain.TeamMember, weeklyHours float64) Lookup {
	own := e.CalculateMemberVelocity(ctx, username, issues, weeklyHours, DefaultLookback)
	if own.HoursPerStoryPoint != nil && own.IterationsAnalyzed >= 2 {
		return Lookup{Value: *own.HoursPerStoryPoint, Source: "individual"}
	}
	var all []MemberVelocity
	for _, tm := range team {
		hours := tm.DefaultCapacity
		if hours <= 0 { hours = weeklyHours }
		all = append(all, e.CalculateMemberVelocity(ctx, tm.Username, issues, hours, DefaultLookback))
	}
	if ta := CalculateTeamAverage(all); ta.HoursPerStoryPoint != nil {
		return Lookup{Value: *ta.HoursPerStoryPoint, Source: "team-average"}
	}
	return Lookup{Value: e.static, Source: "static"}
}

// HistoricalVelocity is the project-level conversion rate from recorded
// time tracking.
type HistoricalVelocity struct {
	HoursPerStoryPoint *float64 `json:"hoursPerStoryPoint"`
	Samples            int      `json:"samples"`
	Confidence         string   `json:"confidence"` // high | medium | low
}

// CalculateHistoricalVelocity divides total recorded hours by total weight
// over closed, weighted issues with time spent.
func CalculateHistoricalVelocity(issues []domain.Issue) HistoricalVelocity {
	hv := HistoricalVelocity{Confidence: "low"}
	totalHours, totalWeight := 0.0, 0
	for i := range issues {
		is := &issues[i]
		if !is.Closed() || is.Weight <= 0 || is.TimeSpentSeconds <= 0 { continue }
		totalHours += float64(is.TimeSpentSeconds) / 3600
		totalWeight += is.Weight
		hv.Samples++
	}
	if totalWeight == 0 { return hv }
	hps := math.Round(totalHours/float64(totalWeight)*10) / 10
	hv.HoursPerStoryPoint = &hps
	switch {
	case hv.Samples >= 50:
		hv.Confidence = "high"
	case hv.Samples >= 20:
		hv.Confidence = "medium"
	}
	return hv
}

func (e *Engine) loadAbsences(ctx context.Context) ([]domain.Absence, error) {
	var out []domain.Absence
	if _, err := e.store.Get(ctx, store.KeyAbsences, &out); err != nil { return nil, err }
	return out, nil
}

// AbsenceHours sums the hours a member is unavailable inside [start, end],
// counting working days only. A record without hoursPerDay costs a full
// working day.
func AbsenceHours(absences []domain.Absence, username string, start, end domain.Date, weeklyHours float64) float64 {
	daily := weeklyHours / 5
	total := 0.0
	for _, a := range absences {
		if a.Username != username { continue }
		from, to := a.From.Time, a.To.Time
		if from.Before(start.Time) { from = start.Time }
		if to.After(end.Time) { to = end.Time }
		if to.Before(from) { continue }
		days := domain.WorkingDays(from, to)
		perDay := a.HoursPerDay
		if perDay <= 0 || perDay > daily { perDay = daily }
		total += float64(days) * perDay
	}
	return total
}
