/* Copyright (c) 2026 M. Shams
 * SPDX-License-Identifier: BSD-3-Clause */

// Package linker joins the snapshot's issues to epics, builds the epic
// hierarchy, and detects cross-project relations.
package linker

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mshams/portfolio-pulse/internal/domain"
)

// EpicNode is one epic in the hierarchy with derived placement fields.
// Parents are reached through EpicMap[ParentID]; children hold ids only so
// the structure stays an arena rather than a pointer graph.
type EpicNode struct {
	Epic     domain.Epic `json:"epic"`
	Children []int64     `json:"children"`
	Level    int         `json:"level"`
	Path     []int64     `json:"path"` // root-to-self ids
}

// Hierarchy is the forest built from the snapshot's epics.
type Hierarchy struct {
	RootEpics []int64             `json:"rootEpics"`
	EpicMap   map[int64]*EpicNode `json:"epicMap"`
}

// EpicIssues groups everything linked to one epic.
type EpicIssues struct {
	Epic               domain.Epic    `json:"epic"`
	Issues             []domain.Issue `json:"issues"`
	Projects           map[int64]bool `json:"projects"`
	CrossProjectIssues []domain.Issue `json:"crossProjectIssues"`
}

// CrossProjectMeta summarizes an epic's reach across projects.
type CrossProjectMeta struct {
	IssueCount             int    `json:"issueCount"`
	ProjectCount           int    `json:"projectCount"`
	CrossProjectIssueCount int    `json:"crossProjectIssueCount"`
	Complexity             string `json:"complexity"` // low | medium | high
}

// Link is one cross-project edge.
type Link struct {
	Type      string `json:"type"`
	EpicID    int64  `json:"epicId"`
	IssueID   int64  `json:"issueId"`
	ProjectID int64  `json:"projectId"`
	GroupID   int64  `json:"groupId"`
}

// EpicDependency is an ordered pair: an issue in FromEpic blocks an issue
// in ToEpic.
type EpicDependency struct {
	FromEpic int64 `json:"fromEpic"`
	ToEpic   int64 `json:"toEpic"`
}

// Suggestion proposes an epic for an orphan issue.
type Suggestion struct {
	IssueID    int64  `json:"issueId"`
	EpicID     int64  `json:"epicId"`
	EpicTitle  string `json:"epicTitle"`
	Score      int    `json:"score"`
	Confidence string `json:"confidence"` // high | medium | low
}

// Result is the full linking output for one snapshot.
type Result struct {
	EpicIssueMap      map[int64]*EpicIssues       `json:"epicIssueMap"`
	ProjectEpicMap    map[int64]map[int64]bool    `json:"projectEpicMap"`
	CrossProjectLinks []Link                      `json:"crossProjectLinks"`
	Hierarchy         *Hierarchy                  `json:"epicHierarchy"`
	EpicDependencies  []EpicDependency            `json:"epicDependencies"`
	EpicMeta          map[int64]CrossProjectMeta  `json:"epicMeta"`
	Orphans           []domain.Issue              `json:"orphans"`
	Suggestions       map[int64][]Suggestion      `json:"suggestions"`
}

type Linker struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Linker { return &Linker{log: log} }

// Link builds every linking artifact from one snapshot. blocksBy maps an
// issue id to the ids of issues it blocks (extracted by the deps package);
// nil is fine when dependency edges are not needed.
func (l *Linker) Link(snap *domain.Snapshot, blocksBy map[int64][]int64) *Result {
	res := &Result{
		EpicIssueMap:   map[int64]*EpicIssues{},
		ProjectEpicMap: map[int64]map[int64]bool{},
		EpicMeta:       map[int64]CrossProjectMeta{},
		Suggestions:    map[int64][]Suggestion{},
	}
	res.Hierarchy = BuildEpicHierarchy(snap.Epics)

	for _, e := range snap.Epics {
		res.EpicIssueMap[e.ID] = &EpicIssues{Epic: e, Projects: map[int64]bool{}}
	}

	issueEpic := map[int64]int64{} // issue id -> epic id, for dependency edges
	for i := range snap.Issues {
		is := snap.Issues[i]
		if is.Epic == nil {
			if isOrphanCandidate(&is) { res.Orphans = append(res.Orphans, is) }
			continue
		}
		bucket, ok := res.EpicIssueMap[is.Epic.ID]
		if !ok {
			// Epic referenced by the issue but absent from the aggregation:
			// still an orphan candidate for suggestion purposes.
			if isOrphanCandidate(&is) { res.Orphans = append(res.Orphans, is) }
			continue
		}
		issueEpic[is.ID] = is.Epic.ID
		bucket.Issues = append(bucket.Issues, is)
		bucket.Projects[is.ProjectID] = true
		if res.ProjectEpicMap[is.ProjectID] == nil {
			res.ProjectEpicMap[is.ProjectID] = map[int64]bool{}
		}
		res.ProjectEpicMap[is.ProjectID][bucket.Epic.ID] = true

		if is.NamespaceID != 0 && bucket.Epic.GroupID != is.NamespaceID {
			bucket.CrossProjectIssues = append(bucket.CrossProjectIssues, is)
			res.CrossProjectLinks = append(res.CrossProjectLinks, Link{
				Type: "cross-project", EpicID: bucket.Epic.ID, IssueID: is.ID,
				ProjectID: is.ProjectID, GroupID: bucket.Epic.GroupID,
			})
		}
	}

	for id, bucket := range res.EpicIssueMap {
		res.EpicMeta[id] = crossProjectMeta(bucket)
	}
	res.EpicDependencies = epicDependencies(issueEpic, blocksBy)

	for _, orphan := range res.Orphans {
		sugg := SuggestEpics(&orphan, snap.Epics)
		if len(sugg) > 0 { res.Suggestions[orphan.ID] = sugg }
	}
	l.log.Debug().
		Int("epics", len(res.EpicIssueMap)).
		Int("cross_project_links", len(res.CrossProjectLinks)).
		Int("orphans", len(res.Orphans)).
		Msg("linking done")
	return res
}

// BuildEpicHierarchy normalizes parent references into a forest. An epic
// whose parent is missing from the input becomes a root; children are
// ordered by start date, then title.
func BuildEpicHierarchy(epics []domain.Epic) *Hierarchy {
	h := &Hierarchy{EpicMap: map[int64]*EpicNode{}}
	for _, e := range epics {
		if _, dup := h.EpicMap[e.ID]; dup { continue }
		h.EpicMap[e.ID] = &EpicNode{Epic: e, Level: 0, Path: []int64{e.ID}}
	}
	// Attach children where the parent actually exists.
	for id, node := range h.EpicMap {
		pid := node.Epic.ParentID
		if pid == nil { continue }
		if parent, ok := h.EpicMap[*pid]; ok && *pid != id {
			parent.Children = append(parent.Children, id)
		}
	}
	// Levels and paths via BFS from the roots.
	for id, node := range h.EpicMap {
		if !hasPresentParent(h, node) {
			h.RootEpics = append(h.RootEpics, id)
		}
	}
	sortEpicIDs(h, h.RootEpics)
	queue := append([]int64{}, h.RootEpics...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		node := h.EpicMap[id]
		sortEpicIDs(h, node.Children)
		for _, cid := range node.Children {
			child := h.EpicMap[cid]
			child.Level = node.Level + 1
			child.Path = append(append([]int64{}, node.Path...), cid)
			queue = append(queue, cid)
		}
	}
	return h
}

func hasPresentParent(h *Hierarchy, node *EpicNode) bool {
	pid := node.Epic.ParentID
	if pid == nil || *pid == node.Epic.ID { return false }
	_, ok := h.EpicMap[*pid]
	return ok
}

func sortEpicIDs(h *Hierarchy, ids []int64) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := h.EpicMap[ids[i]].Epic, h.EpicMap[ids[j]].Epic
		switch {
		case a.StartDate != nil && b.StartDate != nil && !a.StartDate.Equal(b.StartDate.Time):
			return a.StartDate.Before(b.StartDate.Time)
		case a.StartDate != nil && b.StartDate == nil:
			return true
		case a.StartDate == nil && b.StartDate != nil:
			return false
		}
		return a.Title < b.Title
	})
}

func crossProjectMeta(b *EpicIssues) CrossProjectMeta {
	m := CrossProjectMeta{
		IssueCount:             len(b.Issues),
		ProjectCount:           len(b.Projects),
		CrossProjectIssueCount: len(b.CrossProjectIssues),
	}
	switch {
	case m.ProjectCount > 2 || m.CrossProjectIssueCount > 5:
		m.Complexity = "high"
	case m.ProjectCount == 2 || m.CrossProjectIssueCount > 0:
		m.Complexity = "medium"
	default:
		m.Complexity = "low"
	}
	return m
}

func epicDependencies(issueEpic map[int64]int64, blocksBy map[int64][]int64) []EpicDependency {
	seen := map[[2]int64]bool{}
	var out []EpicDependency
	ids := make([]int64, 0, len(blocksBy))
	for id := range blocksBy { ids = append(ids, id) }
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, from := range ids {
		fromEpic, ok := issueEpic[from]
		if !ok { continue }
		for _, to := range blocksBy[from] {
			toEpic, ok := issueEpic[to]
			if !ok || toEpic == fromEpic { continue }
			key := [2]int64{fromEpic, toEpic}
			if seen[key] { continue }
			seen[key] = true
			out = append(out, EpicDependency{FromEpic: fromEpic, ToEpic: toEpic})
		}
	}
	return out
}

func isOrphanCandidate(i *domain.Issue) bool {
	for _, l := range i.Labels {
		ll := strings.ToLower(l)
		if strings.Contains(ll, "epic") || strings.Contains(ll, "feature") { return true }
	}
	return false
}

// SuggestEpics scores each epic against an orphan issue and keeps the top 3
// positive matches. Weights: 10 per shared label, 20 for a shared milestone
// title, 5 per significant shared title word, 15 for any shared assignee.
func SuggestEpics(issue *domain.Issue, epics []domain.Epic) []Suggestion {
	var out []Suggestion
	issueLabels := lowerSet(issue.Labels)
	issueWords := significantWords(issue.Title)
	for _, e := range epics {
		score := 0
		for _, l := range e.Labels {
			if issueLabels[strings.ToLower(l)] { score += 10 }
		}
		if issue.Milestone != nil && strings.EqualFold(issue.Milestone.Title, e.Title) { score += 20 }
		for w := range significantWords(e.Title) {
			if issueWords[w] { score += 5 }
		}
		if sharesAssignee(issue, &e) { score += 15 }
		if score <= 0 { continue }
		conf := "low"
		if score > 30 { conf = "high" } else if score > 15 { conf = "medium" }
		out = append(out, Suggestion{IssueID: issue.ID, EpicID: e.ID, EpicTitle: e.Title, Score: score, Confidence: conf})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > 3 { out = out[:3] }
	return out
}

func sharesAssignee(issue *domain.Issue, e *domain.Epic) bool {
	// Epics carry no assignees upstream; match against labels of the form
	// "assignee::<username>" which some teams use to mirror ownership.
	for _, l := range e.Labels {
		ll := strings.ToLower(l)
		name, ok := strings.CutPrefix(ll, "assignee::")
		if !ok { continue }
		if issue.AssignedTo(name) { return true }
	}
	return false
}

func lowerSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss { m[strings.ToLower(s)] = true }
	return m
}

func significantWords(title string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(title)) {
		w = strings.Trim(w, ".,:;()[]\"'")
		if len(w) > 3 { out[w] = true }
	}
	return out
}
