/* Copyright (c) 2026 M. Shams
 * SPDX-License-Identifier: BSD-3-Clause */

// Package aggregate drives the upstream fetcher across a set of sources and
// produces the immutable Snapshot every analytics engine consumes.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mshams/portfolio-pulse/internal/config"
	"github.com/mshams/portfolio-pulse/internal/domain"
)

// Fetcher is the upstream contract the aggregator needs. The GitLab adapter
// satisfies it; tests plug in fakes.
type Fetcher interface {
	GetProject(ctx context.Context, projectID int64) (*domain.Project, error)
	ListIssues(ctx context.Context, projectID int64, page int) ([]domain.Issue, error)
	ListMilestones(ctx context.Context, projectID int64, page int) ([]domain.Milestone, error)
	ListGroupEpics(ctx context.Context, groupPath string, page int) ([]domain.Epic, error)
	ListGroupProjects(ctx context.Context, groupPath string, page int) ([]domain.Project, error)
}

// maxSourceWorkers bounds parallel source fetches to avoid upstream
// rate-limit storms.
const maxSourceWorkers = 5

type Aggregator struct {
	fetch        Fetcher
	log          zerolog.Logger
	filterByYear int
	workers      int
}

func New(cfg config.Config, log zerolog.Logger, f Fetcher) *Aggregator {
	w := cfg.MaxSourceWorkers
	if w <= 0 || w > maxSourceWorkers { w = maxSourceWorkers }
	return &Aggregator{fetch: f, log: log, filterByYear: cfg.FilterByYear, workers: w}
}

type sourceResult struct {
	meta       domain.SourceMeta
	issues     []domain.Issue
	milestones []domain.Milestone
	epics      []domain.Epic
	projects   []domain.Project
	err        error
}

// FetchAll runs every source with bounded parallelism and merges results.
// Per-source upstream failures mark the source failed and are recorded in
// Snapshot.Errors; auth and config failures abort the whole run. On context
// cancellation partial results are discarded.
func (a *Aggregator) FetchAll(ctx context.Context, sources []config.Source) (*domain.Snapshot, error) {
	if len(sources) == 0 {
		return nil, &domain.ConfigError{Field: "sources", Msg: "no sources configured"}
	}

	jobs := make(chan int)
	results := make(chan sourceResult, len(sources))
	var wg sync.WaitGroup
	for w := 0; w < a.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results <- a.fetchSource(ctx, sources[idx])
			}
		}()
	}
	go func() {
		defer close(jobs)
		for i := range sources {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() { wg.Wait(); close(results) }()

	snap := &domain.Snapshot{FetchedAt: time.Now().UTC()}
	var fatal error
	collected := make([]sourceResult, 0, len(sources))
	for res := range results {
		if res.err != nil && domain.Fatal(res.err) && fatal == nil {
			fatal = res.err
		}
		collected = append(collected, res)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fatal != nil {
		return nil, fatal
	}

	// Deterministic merge order regardless of worker completion order.
	sort.Slice(collected, func(i, j int) bool { return collected[i].meta.Name < collected[j].meta.Name })

	seenEpic := map[int64]bool{}
	seenMilestone := map[int64]bool{}
	seenProject := map[int64]bool{}
	for _, res := range collected {
		snap.SourceMetadata = append(snap.SourceMetadata, res.meta)
		if res.meta.Failed {
			snap.Errors = append(snap.Errors, fmt.Sprintf("source %s: %s", res.meta.Name, res.meta.Error))
			continue
		}
		snap.Issues = append(snap.Issues, res.issues...)
		for _, m := range res.milestones {
			if seenMilestone[m.ID] { continue }
			seenMilestone[m.ID] = true
			snap.Milestones = append(snap.Milestones, m)
		}
		for _, e := range res.epics {
			if seenEpic[e.ID] { continue }
			seenEpic[e.ID] = true
			snap.Epics = append(snap.Epics, e)
		}
		for _, p := range res.projects {
			if seenProject[p.ID] { continue }
			seenProject[p.ID] = true
			snap.Projects = append(snap.Projects, p)
		}
	}

	snap.Statistics = a.statistics(snap)
	a.log.Info().
		Int("issues", snap.Statistics.TotalIssues).
		Int("milestones", snap.Statistics.TotalMilestones).
		Int("epics", snap.Statistics.TotalEpics).
		Int("failed_sources", snap.Statistics.FailedSources).
		Msg("aggregation done")
	return snap, nil
}

func (a *Aggregator) statistics(s *domain.Snapshot) domain.SnapshotStats {
	st := domain.SnapshotStats{
		TotalIssues:     len(s.Issues),
		TotalMilestones: len(s.Milestones),
		TotalEpics:      len(s.Epics),
		SourceCount:     len(s.SourceMetadata),
	}
	for i := range s.Issues {
		if s.Issues[i].Closed() { st.ClosedIssues++ } else { st.OpenIssues++ }
	}
	projects := map[int64]bool{}
	for i := range s.Issues { projects[s.Issues[i].ProjectID] = true }
	for _, p := range s.Projects { projects[p.ID] = true }
	st.ProjectCount = len(projects)
	for _, m := range s.SourceMetadata {
		if m.Failed { st.FailedSources++ }
	}
	return st
}

func (a *Aggregator) fetchSource(ctx context.Context, src config.Source) sourceResult {
	res := sourceResult{meta: domain.SourceMeta{
		Name: src.Name, Type: string(src.Type), ProjectID: src.ProjectID, GroupPaths: src.GroupPaths,
	}}

	fail := func(err error) sourceResult {
		res.err = err
		res.meta.Failed = true
		res.meta.Error = err.Error()
		if hint := domain.Remediation(err); hint != "" {
			res.meta.Error += " (" + hint + ")"
		}
		a.log.Error().Err(err).Str("source", src.Name).Msg("source fetch failed")
		return res
	}

	if src.Type == config.SourceProject || src.Type == config.SourceProjectGroup {
		proj, err := a.fetch.GetProject(ctx, src.ProjectID)
		if err != nil { return fail(err) }
		res.projects = append(res.projects, *proj)

		// Issues and milestones fetch concurrently within the source.
		var wg sync.WaitGroup
		var issues []domain.Issue
		var milestones []domain.Milestone
		var issueErr, msErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			issues, issueErr = a.fetchAllIssues(ctx, src, proj)
		}()
		go func() {
			defer wg.Done()
			milestones, msErr = a.fetchAllMilestones(ctx, src)
		}()
		wg.Wait()
		if issueErr != nil { return fail(issueErr) }
		if msErr != nil { return fail(msErr) }
		res.issues = issues
		res.milestones = milestones
		res.meta.IssueCount = len(issues)
	}

	if src.Type == config.SourceGroup || src.Type == config.SourceProjectGroup {
		for _, gp := range src.GroupPaths {
			epics, err := a.fetchAllEpics(ctx, src, gp)
			if err != nil { return fail(err) }
			res.epics = append(res.epics, epics...)

			projects, err := a.fetchGroupProjects(ctx, gp)
			if err != nil {
				a.log.Warn().Err(err).Str("group", gp).Msg("group project listing failed")
			} else {
				res.projects = append(res.projects, projects...)
			}
		}
	}
	return res
}

func (a *Aggregator) fetchAllIssues(ctx context.Context, src config.Source, proj *domain.Project) ([]domain.Issue, error) {
	var out []domain.Issue
	for page := 1; ; page++ {
		batch, err := a.fetch.ListIssues(ctx, src.ProjectID, page)
		if err != nil { return nil, err }
		for _, is := range batch {
			if !a.keepIssue(&is) { continue }
			is.Source = src.Name
			if is.ProjectID == 0 { is.ProjectID = src.ProjectID }
			if proj != nil {
				is.ProjectPath = proj.PathWithNamespace
				if is.NamespaceID == 0 { is.NamespaceID = proj.NamespaceID }
			}
			out = append(out, is)
		}
		if len(batch) < 100 { break }
	}
	return out, nil
}

func (a *Aggregator) fetchAllMilestones(ctx context.Context, src config.Source) ([]domain.Milestone, error) {
	var out []domain.Milestone
	for page := 1; ; page++ {
		batch, err := a.fetch.ListMilestones(ctx, src.ProjectID, page)
		if err != nil { return nil, err }
		for _, m := range batch {
			if !a.keepMilestone(&m) { continue }
			m.Source = src.Name
			out = append(out, m)
		}
		if len(batch) < 100 { break }
	}
	return out, nil
}

// maxEpicPages caps epic pagination; portfolios past this size indicate a
// misconfigured group path rather than real scope.
const maxEpicPages = 20

func (a *Aggregator) fetchAllEpics(ctx context.Context, src config.Source, groupPath string) ([]domain.Epic, error) {
	var out []domain.Epic
	for page := 1; page <= maxEpicPages; page++ {
		batch, err := a.fetch.ListGroupEpics(ctx, groupPath, page)
		if err != nil {
			if errors.Is(err, domain.ErrFeatureUnavailable) {
				a.log.Debug().Str("group", groupPath).Msg("epics feature unavailable; treating as empty")
				return nil, nil
			}
			return nil, err
		}
		for _, e := range batch {
			if !a.keepEpic(&e) { continue }
			e.Source = src.Name
			out = append(out, e)
		}
		if len(batch) < 100 { break }
	}
	return out, nil
}

func (a *Aggregator) fetchGroupProjects(ctx context.Context, groupPath string) ([]domain.Project, error) {
	var out []domain.Project
	for page := 1; ; page++ {
		batch, err := a.fetch.ListGroupProjects(ctx, groupPath, page)
		if err != nil { return nil, err }
		out = append(out, batch...)
		if len(batch) < 100 { break }
	}
	return out, nil
}

// Year cutoff: keep an item iff any relevant date lands in or after the
// cutoff year.
func (a *Aggregator) keepIssue(i *domain.Issue) bool {
	if a.filterByYear <= 0 { return true }
	if i.CreatedAt.Year() >= a.filterByYear || i.UpdatedAt.Year() >= a.filterByYear { return true }
	if i.DueDate != nil && i.DueDate.Year() >= a.filterByYear { return true }
	return false
}

func (a *Aggregator) keepMilestone(m *domain.Milestone) bool {
	if a.filterByYear <= 0 { return true }
	if m.StartDate != nil && m.StartDate.Year() >= a.filterByYear { return true }
	if m.DueDate != nil && m.DueDate.Year() >= a.filterByYear { return true }
	if m.CreatedAt != nil && m.CreatedAt.Year() >= a.filterByYear { return true }
	return false
}

func (a *Aggregator) keepEpic(e *domain.Epic) bool {
	if a.filterByYear <= 0 { return true }
	if e.StartDate != nil && e.StartDate.Year() >= a.filterByYear { return true }
	if e.EndDate != nil && e.EndDate.Year() >= a.filterByYear { return true }
	if e.CreatedAt != nil && e.CreatedAt.Year() >= a.filterByYear { return true }
	return false
}
