/* Copyright (c) 2026 M. Shams
 * SPDX-License-Identifier: BSD-3-Clause */
package domain

import "time"

// IssueState mirrors the upstream two-state model.
type IssueState string

const (
	StateOpened IssueState = "opened"
	StateClosed IssueState = "closed"
)

// Phase is the lifecycle phase derived from an issue's labels.
type Phase string

const (
	PhaseBacklog         Phase = "backlog"
	PhaseAnalysis        Phase = "analysis"
	PhaseInProgress      Phase = "inProgress"
	PhaseReview          Phase = "review"
	PhaseTesting         Phase = "testing"
	PhaseAwaitingTesting Phase = "awaitingTesting"
	PhaseAwaitingRelease Phase = "awaitingRelease"
	PhaseReleased        Phase = "released"
	PhaseCancelled       Phase = "cancelled"
	PhaseDone            Phase = "done"
	PhaseBlocked         Phase = "blocked"
)

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type MilestoneRef struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	StartDate *Date  `json:"start_date,omitempty"`
	DueDate   *Date  `json:"due_date,omitempty"`
}

type IterationRef struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	StartDate *Date  `json:"start_date,omitempty"`
	DueDate   *Date  `json:"due_date,omitempty"`
}

type EpicRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type Issue struct {
	ID          int64         `json:"id"`
	IID         int64         `json:"iid"`
	Title       string        `json:"title"`
	State       IssueState    `json:"state"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	ClosedAt    *time.Time    `json:"closed_at,omitempty"`
	DueDate     *Date         `json:"due_date,omitempty"`
	Labels      []string      `json:"labels"`
	Assignee    *User         `json:"assignee,omitempty"`
	Assignees   []User        `json:"assignees,omitempty"`
	Weight      int           `json:"weight"`
	Milestone   *MilestoneRef `json:"milestone,omitempty"`
	Iteration   *IterationRef `json:"iteration,omitempty"`
	Epic        *EpicRef      `json:"epic,omitempty"`
	ProjectID   int64         `json:"project_id"`
	NamespaceID int64         `json:"namespace_id,omitempty"`
	Description string        `json:"description,omitempty"`
	WebURL      string        `json:"web_url"`
	// TimeSpentSeconds comes from time tracking stats when the upstream
	// includes them; 0 means "not recorded".
	TimeSpentSeconds int `json:"time_spent_seconds,omitempty"`

	// Provenance, filled by the aggregator.
	Source      string `json:"_source,omitempty"`
	ProjectPath string `json:"_projectPath,omitempty"`
}

// Closed reports whether the issue reached a terminal state.
func (i *Issue) Closed() bool { return i.State == StateClosed }

// AssignedTo matches the direct assignee or any entry in the assignees list.
func (i *Issue) AssignedTo(username string) bool {
	if i.Assignee != nil && i.Assignee.Username == username {
		return true
	}
	for _, a := range i.Assignees {
		if a.Username == username {
			return true
		}
	}
	return false
}

type Milestone struct {
	ID        int64      `json:"id"`
	IID       int64      `json:"iid"`
	ProjectID int64      `json:"project_id"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	StartDate *Date      `json:"start_date,omitempty"`
	DueDate   *Date      `json:"due_date,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	WebURL    string     `json:"web_url,omitempty"`

	Source string `json:"_source,omitempty"`
}

type Epic struct {
	ID        int64      `json:"id"`
	IID       int64      `json:"iid"`
	ParentID  *int64     `json:"parent_id,omitempty"`
	Title     string     `json:"title"`
	State     string     `json:"state,omitempty"`
	StartDate *Date      `json:"start_date,omitempty"`
	EndDate   *Date      `json:"end_date,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	Labels    []string   `json:"labels,omitempty"`
	GroupID   int64      `json:"group_id"`
	WebURL    string     `json:"web_url"`

	Source string `json:"_source,omitempty"`
}

type Project struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	NamespaceID       int64  `json:"namespace_id,omitempty"`
	WebURL            string `json:"web_url,omitempty"`
}

// LabelEventAction is either "add" or "remove".
type LabelEventAction string

const (
	LabelAdd    LabelEventAction = "add"
	LabelRemove LabelEventAction = "remove"
)

type LabelEvent struct {
	ID        int64            `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Action    LabelEventAction `json:"action"`
	LabelName string           `json:"label_name"`
}

// SourceMeta records the outcome of one aggregation source.
type SourceMeta struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"` // project | group | project-group
	ProjectID  int64    `json:"project_id,omitempty"`
	GroupPaths []string `json:"group_paths,omitempty"`
	Failed     bool     `json:"failed"`
	Error      string   `json:"error,omitempty"`
	IssueCount int      `json:"issue_count"`
}

// SnapshotStats are the run-level counters derived at aggregation time.
type SnapshotStats struct {
	TotalIssues     int `json:"total_issues"`
	OpenIssues      int `json:"open_issues"`
	ClosedIssues    int `json:"closed_issues"`
	TotalMilestones int `json:"total_milestones"`
	TotalEpics      int `json:"total_epics"`
	ProjectCount    int `json:"project_count"`
	SourceCount     int `json:"source_count"`
	FailedSources   int `json:"failed_sources"`
}

// Snapshot is the immutable output of one aggregation run. Downstream
// engines treat it as read-only input.
type Snapshot struct {
	Issues         []Issue       `json:"issues"`
	Milestones     []Milestone   `json:"milestones"`
	Epics          []Epic        `json:"epics"`
	Projects       []Project     `json:"projects"`
	SourceMetadata []SourceMeta  `json:"source_metadata"`
	Statistics     SnapshotStats `json:"statistics"`
	Errors         []string      `json:"errors,omitempty"`
	FetchedAt      time.Time     `json:"fetched_at"`
}

// TeamMember holds the configured defaults for one person.
type TeamMember struct {
	Username        string  `json:"username" yaml:"username"`
	Name            string  `json:"name" yaml:"name,omitempty"`
	Role            string  `json:"role" yaml:"role,omitempty"`
	DefaultCapacity float64 `json:"defaultCapacity" yaml:"defaultCapacity,omitempty"` // hours per week
}

type MemberCapacity struct {
	Username       string  `json:"username"`
	AvailableHours float64 `json:"availableHours"`
	Reason         string  `json:"reason,omitempty"`
}

type SprintCapacity struct {
	SprintID       string           `json:"sprintId"`
	SprintName     string           `json:"sprintName"`
	MemberCapacity []MemberCapacity `json:"memberCapacity"`
}

// Absence is a planned unavailability window for one member.
type Absence struct {
	Username    string  `json:"username" yaml:"username"`
	From        Date    `json:"from" yaml:"from"`
	To          Date    `json:"to" yaml:"to"`
	HoursPerDay float64 `json:"hoursPerDay,omitempty" yaml:"hoursPerDay,omitempty"` // 0 means full days
	Reason      string  `json:"reason,omitempty" yaml:"reason,omitempty"`
}

type ForecastType string

const (
	ForecastMilestone  ForecastType = "milestone"
	ForecastSprint     ForecastType = "sprint"
	ForecastEpic       ForecastType = "epic"
	ForecastInitiative ForecastType = "initiative"
)

type ForecastStatus string

const (
	ForecastPending   ForecastStatus = "pending"
	ForecastCompleted ForecastStatus = "completed"
	ForecastMissed    ForecastStatus = "missed"
	ForecastCancelled ForecastStatus = "cancelled"
)

type ForecastAccuracy struct {
	DiffDays        int     `json:"diffDays"`
	PercentageError float64 `json:"percentageError"`
	WasEarly        bool    `json:"wasEarly"`
	WasOnTime       bool    `json:"wasOnTime"`
	WasLate         bool    `json:"wasLate"`
}

type Forecast struct {
	ID              string            `json:"id"`
	Type            ForecastType      `json:"type"`
	TargetID        int64             `json:"targetId"`
	TargetName      string            `json:"targetName"`
	CreatedAt       time.Time         `json:"createdAt"`
	TargetDate      time.Time         `json:"targetDate"`
	ScopeSize       int               `json:"scopeSize"`
	ConfidenceScore int               `json:"confidenceScore"` // 0..100
	Metadata        map[string]any    `json:"metadata,omitempty"`
	ActualDate      *time.Time        `json:"actualDate,omitempty"`
	Status          ForecastStatus    `json:"status"`
	Accuracy        *ForecastAccuracy `json:"accuracy,omitempty"`
}
