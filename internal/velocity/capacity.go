package velocity

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/mshams/portfolio-pulse/internal/domain"
	"github.com/mshams/portfolio-pulse/internal/store"
)

// CapacityResult is a resolved per-sprint capacity with its provenance.
type CapacityResult struct {
	Hours  float64 `json:"hours"`
	Source string  `json:"source"` // manual | absence-adjusted | default
	Reason string  `json:"reason,omitempty"`
}

// GetSprintMemberCapacity resolves one member's hours for a sprint. A manual
// entry in the sprint capacity record wins; otherwise the default weekly
// capacity is reduced by absences overlapping the sprint span; otherwise the
// default stands as-is.
func (e *Engine) GetSprintMemberCapacity(ctx context.Context, sprintID, username string, defaultHours float64, sprint *domain.IterationRef) CapacityResult {
	var records []domain.SprintCapacity
	if _, err := e.store.Get(ctx, store.KeySprintCapacity, &records); err != nil {
		e.log.Warn().Err(err).Msg("sprint capacity records unavailable")
	}
	for _, rec := range records {
		if rec.SprintID != sprintID { continue }
		for _, mc := range rec.MemberCapacity {
			if mc.Username == username {
				return CapacityResult{Hours: mc.AvailableHours, Source: "manual", Reason: mc.Reason}
			}
		}
	}
	if sprint != nil && sprint.StartDate != nil && sprint.DueDate != nil {
		absences, err := e.loadAbsences(ctx)
		if err == nil {
			lost := AbsenceHours(absences, username, *sprint.StartDate, *sprint.DueDate, defaultHours)
			if lost > 0 {
				return CapacityResult{
					Hours:  math.Max(0, defaultHours-lost),
					Source: "absence-adjusted",
					Reason: fmt.Sprintf("%.1fh absence during sprint", lost),
				}
			}
		}
	}
	return CapacityResult{Hours: defaultHours, Source: "default"}
}

// MemberLoad is one member's utilization for the balancer.
type MemberLoad struct {
	Username      string  `json:"username"`
	CapacityHours float64 `json:"capacityHours"`
	AssignedHours float64 `json:"assignedHours"`
	Utilization   float64 `json:"utilization"` // percent
	Status        string  `json:"status"`      // critical | overallocated | full | ok | underutilized
	OpenIssues    int     `json:"openIssues"`
}

// Move is one rebalance recommendation.
type Move struct {
	IssueID    int64   `json:"issueId"`
	IssueTitle string  `json:"issueTitle"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	Hours      float64 `json:"hours"`
}

// WorkloadReport is the balancer's output.
type WorkloadReport struct {
	Members []MemberLoad `json:"members"`
	Moves   []Move       `json:"moves"`
}

func utilizationStatus(pct float64) string {
	switch {
	case pct > 120:
		return "critical"
	case pct > 100:
		return "overallocated"
	case pct > 80:
		return "full"
	case pct >= 50:
		return "ok"
	default:
		return "underutilized"
	}
}

// AnalyzeWorkload measures each team member's utilization over the open
// issues and proposes moves from overloaded members to underutilized ones.
// Issue effort is story points times the resolved hours-per-point rate;
// moves pick the smallest issues first and stop near half the excess.
func (e *Engine) AnalyzeWorkload(ctx context.Context, issues []domain.Issue, team []domain.TeamMember, sprintID string, sprint *domain.IterationRef, weeklyHours float64) WorkloadReport {
	type openIssue struct {
		id    int64
		title string
		hours float64
	}
	loadOf := map[string]*MemberLoad{}
	issuesOf := map[string][]openIssue{}
	var report WorkloadReport

	for _, tm := range team {
		def := tm.DefaultCapacity
		if def <= 0 { def = weeklyHours }
		cap := e.GetSprintMemberCapacity(ctx, sprintID, tm.Username, def, sprint)
		loadOf[tm.Username] = &MemberLoad{Username: tm.Username, CapacityHours: cap.Hours}
	}

	for i := range issues {
		is := &issues[i]
		if is.Closed() { continue }
		pts := StoryPoints(is)
		if pts <= 0 { continue }
		for username, ml := range loadOf {
			if !is.AssignedTo(username) { continue }
			rate := e.GetHoursPerStoryPoint(ctx, username, issues, team, weeklyHours)
			hours := float64(pts) * rate.Value
			ml.AssignedHours += hours
			ml.OpenIssues++
			issuesOf[username] = append(issuesOf[username], openIssue{id: is.ID, title: is.Title, hours: hours})
		}
	}

	usernames := make([]string, 0, len(loadOf))
	for u := range loadOf { usernames = append(usernames, u) }
	sort.Strings(usernames)
	for _, u := range usernames {
		ml := loadOf[u]
		if ml.CapacityHours > 0 {
			ml.Utilization = math.Round(ml.AssignedHours/ml.CapacityHours*1000) / 10
		}
		ml.Status = utilizationStatus(ml.Utilization)
		report.Members = append(report.Members, *ml)
	}

	// Receivers ordered most idle first.
	var receivers []*MemberLoad
	for _, u := range usernames {
		if loadOf[u].Status == "underutilized" { receivers = append(receivers, loadOf[u]) }
	}
	sort.SliceStable(receivers, func(i, j int) bool { return receivers[i].Utilization < receivers[j].Utilization })
	if len(receivers) == 0 { return report }

	for _, u := range usernames {
		ml := loadOf[u]
		if ml.Status != "critical" && ml.Status != "overallocated" { continue }
		excess := ml.AssignedHours - ml.CapacityHours
		target := excess / 2
		candidates := issuesOf[u]
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].hours < candidates[j].hours })
		moved := 0.0
		for _, c := range candidates {
			if moved >= target { break }
			var to *MemberLoad
			for _, r := range receivers {
				if r.AssignedHours+c.hours <= r.CapacityHours {
					to = r
					break
				}
			}
			if to == nil { break }
			report.Moves = append(report.Moves, Move{IssueID: c.id, IssueTitle: c.title, From: u, To: to.Username, Hours: c.hours})
			to.AssignedHours += c.hours
			moved += c.hours
		}
	}
	return report
}
