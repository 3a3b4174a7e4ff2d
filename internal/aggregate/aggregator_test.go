package aggregate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mshams/portfolio-pulse/internal/config"
	"github.com/mshams/portfolio-pulse/internal/domain"
)

// fakeFetcher serves canned pages per project/group and injects errors.
type fakeFetcher struct {
	projects      map[int64]*domain.Project
	issues        map[int64][]domain.Issue
	milestones    map[int64][]domain.Milestone
	epics         map[string][]domain.Epic
	groupProjects map[string][]domain.Project

	projectErr map[int64]error
	issueErr   map[int64]error
	epicErr    map[string]error

	issuePages map[int64]int // pages served, for pagination assertions
}

func page[T any](all []T, p int) []T {
	lo := (p - 1) * 100
	if lo >= len(all) { return nil }
	hi := lo + 100
	if hi > len(all) { hi = len(all) }
	return all[lo:hi]
}

func (f *fakeFetcher) GetProject(_ context.Context, id int64) (*domain.Project, error) {
	if err := f.projectErr[id]; err != nil { return nil, err }
	if p, ok := f.projects[id]; ok { return p, nil }
	return &domain.Project{ID: id, PathWithNamespace: fmt.Sprintf("org/p%d", id), NamespaceID: 9}, nil
}

func (f *fakeFetcher) ListIssues(_ context.Context, id int64, p int) ([]domain.Issue, error) {
	if err := f.issueErr[id]; err != nil { return nil, err }
	if f.issuePages == nil { f.issuePages = map[int64]int{} }
	f.issuePages[id]++
	return page(f.issues[id], p), nil
}

func (f *fakeFetcher) ListMilestones(_ context.Context, id int64, p int) ([]domain.Milestone, error) {
	return page(f.milestones[id], p), nil
}

func (f *fakeFetcher) ListGroupEpics(_ context.Context, gp string, p int) ([]domain.Epic, error) {
	if err := f.epicErr[gp]; err != nil { return nil, err }
	return page(f.epics[gp], p), nil
}

func (f *fakeFetcher) ListGroupProjects(_ context.Context, gp string, p int) ([]domain.Project, error) {
	return page(f.groupProjects[gp], p), nil
}

func newAggregator(f Fetcher) *Aggregator {
	return New(config.Config{MaxSourceWorkers: 2}, zerolog.Nop(), f)
}

func openIssue(id int64) domain.Issue {
	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	return domain.Issue{ID: id, IID: id, State: domain.StateOpened, CreatedAt: created, UpdatedAt: created}
}

func TestFetchAllMergesAndDedupes(t *testing.T) {
	ms := domain.Milestone{ID: 7, Title: "shared"}
	f := &fakeFetcher{
		issues:     map[int64][]domain.Issue{1: {openIssue(10)}, 2: {openIssue(20)}},
		milestones: map[int64][]domain.Milestone{1: {ms}, 2: {ms}},
	}
	sources := []config.Source{
		{Name: "beta", Type: config.SourceProject, ProjectID: 2},
		{Name: "alpha", Type: config.SourceProject, ProjectID: 1},
	}
	snap, err := newAggregator(f).FetchAll(context.Background(), sources)
	require.NoError(t, err)

	assert.Len(t, snap.Milestones, 1, "shared milestone deduped by ID")
	assert.Len(t, snap.Issues, 2)
	// Merge order follows source name, not worker completion order.
	require.Len(t, snap.SourceMetadata, 2)
	assert.Equal(t, "alpha", snap.SourceMetadata[0].Name)
	assert.Equal(t, "beta", snap.SourceMetadata[1].Name)
	assert.Equal(t, int64(10), snap.Issues[0].ID)

	assert.Equal(t, 2, snap.Statistics.TotalIssues)
	assert.Equal(t, 2, snap.Statistics.OpenIssues)
	assert.Equal(t, 2, snap.Statistics.SourceCount)
	assert.Zero(t, snap.Statistics.FailedSources)
}

func TestFetchAllPartialFailure(t *testing.T) {
	f := &fakeFetcher{
		issues:   map[int64][]domain.Issue{1: {openIssue(10)}},
		issueErr: map[int64]error{2: domain.ErrNetwork},
	}
	sources := []config.Source{
		{Name: "good", Type: config.SourceProject, ProjectID: 1},
		{Name: "bad", Type: config.SourceProject, ProjectID: 2},
	}
	snap, err := newAggregator(f).FetchAll(context.Background(), sources)
	require.NoError(t, err, "a plain upstream failure does not abort the run")

	assert.Len(t, snap.Issues, 1, "failed source contributes no data")
	require.Len(t, snap.Errors, 1)
	assert.Contains(t, snap.Errors[0], "source bad:")
	assert.Equal(t, 1, snap.Statistics.FailedSources)
	for _, m := range snap.SourceMetadata {
		if m.Name == "bad" { assert.True(t, m.Failed) }
	}
}

func TestFetchAllAuthFailureAborts(t *testing.T) {
	f := &fakeFetcher{
		issues:   map[int64][]domain.Issue{1: {openIssue(10)}},
		issueErr: map[int64]error{2: domain.ErrAuth},
	}
	sources := []config.Source{
		{Name: "good", Type: config.SourceProject, ProjectID: 1},
		{Name: "bad", Type: config.SourceProject, ProjectID: 2},
	}
	snap, err := newAggregator(f).FetchAll(context.Background(), sources)
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, domain.ErrAuth)
}

func TestFetchAllNoSources(t *testing.T) {
	_, err := newAggregator(&fakeFetcher{}).FetchAll(context.Background(), nil)
	var ce *domain.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "sources", ce.Field)
}

func TestFetchAllCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snap, err := newAggregator(&fakeFetcher{}).FetchAll(ctx, []config.Source{
		{Name: "a", Type: config.SourceProject, ProjectID: 1},
	})
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProvenanceTagging(t *testing.T) {
	f := &fakeFetcher{
		projects: map[int64]*domain.Project{1: {ID: 1, PathWithNamespace: "org/payments", NamespaceID: 42}},
		issues:   map[int64][]domain.Issue{1: {openIssue(10)}},
	}
	snap, err := newAggregator(f).FetchAll(context.Background(), []config.Source{
		{Name: "payments", Type: config.SourceProject, ProjectID: 1},
	})
	require.NoError(t, err)
	require.Len(t, snap.Issues, 1)
	is := snap.Issues[0]
	assert.Equal(t, "payments", is.Source)
	assert.Equal(t, "org/payments", is.ProjectPath)
	assert.Equal(t, int64(1), is.ProjectID)
	assert.Equal(t, int64(42), is.NamespaceID)
}

func TestPaginationStopsOnShortPage(t *testing.T) {
	var many []domain.Issue
	for i := 0; i < 150; i++ { many = append(many, openIssue(int64(i))) }
	f := &fakeFetcher{issues: map[int64][]domain.Issue{1: many}}
	snap, err := newAggregator(f).FetchAll(context.Background(), []config.Source{
		{Name: "big", Type: config.SourceProject, ProjectID: 1},
	})
	require.NoError(t, err)
	assert.Len(t, snap.Issues, 150)
	assert.Equal(t, 2, f.issuePages[1], "second page is short, no third request")
}

func TestYearFilter(t *testing.T) {
	old := openIssue(1)
	old.CreatedAt = time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	old.UpdatedAt = old.CreatedAt
	f := &fakeFetcher{issues: map[int64][]domain.Issue{1: {old, openIssue(2)}}}
	agg := New(config.Config{FilterByYear: 2025, MaxSourceWorkers: 1}, zerolog.Nop(), f)
	snap, err := agg.FetchAll(context.Background(), []config.Source{
		{Name: "p", Type: config.SourceProject, ProjectID: 1},
	})
	require.NoError(t, err)
	require.Len(t, snap.Issues, 1)
	assert.Equal(t, int64(2), snap.Issues[0].ID)
}

func TestGroupSourceEpicsAndProjects(t *testing.T) {
	f := &fakeFetcher{
		epics: map[string][]domain.Epic{
			"org/team": {{ID: 1, Title: "Alpha"}, {ID: 2, Title: "Beta"}},
		},
		groupProjects: map[string][]domain.Project{
			"org/team": {{ID: 5, Name: "svc"}},
		},
	}
	snap, err := newAggregator(f).FetchAll(context.Background(), []config.Source{
		{Name: "team", Type: config.SourceGroup, GroupPaths: []string{"org/team"}},
	})
	require.NoError(t, err)
	assert.Len(t, snap.Epics, 2)
	assert.Equal(t, "team", snap.Epics[0].Source)
	assert.Len(t, snap.Projects, 1)
}

func TestEpicsFeatureUnavailableIsEmpty(t *testing.T) {
	f := &fakeFetcher{epicErr: map[string]error{"org/free": domain.ErrFeatureUnavailable}}
	snap, err := newAggregator(f).FetchAll(context.Background(), []config.Source{
		{Name: "free-tier", Type: config.SourceGroup, GroupPaths: []string{"org/free"}},
	})
	require.NoError(t, err)
	assert.Empty(t, snap.Epics)
	assert.Empty(t, snap.Errors)
}
