package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mshams/portfolio-pulse/internal/config"
	"github.com/mshams/portfolio-pulse/internal/domain"
	"github.com/mshams/portfolio-pulse/internal/rag"
	"github.com/mshams/portfolio-pulse/internal/store"
)

type fakeUpstream struct {
	issues []domain.Issue
	epics  []domain.Epic
}

func (f *fakeUpstream) GetProject(_ context.Context, id int64) (*domain.Project, error) {
	return &domain.Project{ID: id, PathWithNamespace: "org/app", NamespaceID: 1}, nil
}

func (f *fakeUpstream) ListIssues(_ context.Context, _ int64, page int) ([]domain.Issue, error) {
	if page > 1 { return nil, nil }
	return f.issues, nil
}

func (f *fakeUpstream) ListMilestones(_ context.Context, _ int64, page int) ([]domain.Milestone, error) {
	return nil, nil
}

func (f *fakeUpstream) ListGroupEpics(_ context.Context, _ string, page int) ([]domain.Epic, error) {
	if page > 1 { return nil, nil }
	return f.epics, nil
}

func (f *fakeUpstream) ListGroupProjects(_ context.Context, _ string, page int) ([]domain.Project, error) {
	return nil, nil
}

func (f *fakeUpstream) ListLabelEvents(_ context.Context, _, _ int64) ([]domain.LabelEvent, error) {
	return nil, nil
}

type fakeLLM struct{ calls int }

func (l *fakeLLM) Enabled() bool { return true }

func (l *fakeLLM) SummarizeEpicHealth(context.Context, *rag.Health) (string, error) {
	l.calls++
	return "epic summary", nil
}

func (l *fakeLLM) SummarizePortfolio(context.Context, []*rag.Health) (string, error) {
	l.calls++
	return "portfolio summary", nil
}

func newTestService(t *testing.T, up *fakeUpstream) *Service {
	t.Helper()
	cfg := config.Config{
		ProjectID:           1,
		GroupPaths:          []string{"org"},
		MaxSourceWorkers:    1,
		StaticHoursPerPoint: 6,
		WeeklyHoursDefault:  40,
	}
	return New(cfg, zerolog.Nop(), store.NewMemory(), up, nil)
}

func sampleUpstream() *fakeUpstream {
	now := time.Now().UTC()
	end := domain.DateOf(now.AddDate(0, 0, 30))
	closed := now.AddDate(0, 0, -3)
	return &fakeUpstream{
		epics: []domain.Epic{{ID: 9, Title: "Checkout", GroupID: 1, EndDate: &end}},
		issues: []domain.Issue{
			{ID: 1, IID: 1, Title: "a", State: domain.StateOpened,
				CreatedAt: now.AddDate(0, 0, -20), UpdatedAt: now.AddDate(0, 0, -1),
				Epic: &domain.EpicRef{ID: 9}},
			{ID: 2, IID: 2, Title: "b", State: domain.StateClosed, ClosedAt: &closed,
				CreatedAt: now.AddDate(0, 0, -15), UpdatedAt: closed,
				Epic: &domain.EpicRef{ID: 9}},
			{ID: 3, IID: 3, Title: "c", State: domain.StateOpened, Description: "blocked by #2",
				CreatedAt: now.AddDate(0, 0, -10), UpdatedAt: now.AddDate(0, 0, -1),
				Epic: &domain.EpicRef{ID: 9}},
		},
	}
}

func TestAggregateRecordsLastRun(t *testing.T) {
	svc := newTestService(t, sampleUpstream())
	ctx := context.Background()

	snap, err := svc.Aggregate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Statistics.TotalIssues)
	assert.Equal(t, 1, snap.Statistics.TotalEpics)

	lr, err := svc.LastRunInfo(ctx)
	require.NoError(t, err)
	assert.False(t, lr.Partial)
	assert.Equal(t, 3, lr.Stats.TotalIssues)
}

func TestLastRunInfoBeforeAnyRun(t *testing.T) {
	svc := newTestService(t, sampleUpstream())
	_, err := svc.LastRunInfo(context.Background())
	assert.Error(t, err)
}

func TestAnalyzeEpic(t *testing.T) {
	svc := newTestService(t, sampleUpstream())
	ctx := context.Background()

	out, err := svc.AnalyzeEpic(ctx, 9, false)
	require.NoError(t, err)
	assert.Equal(t, int64(9), out.Health.EpicID)
	assert.Contains(t, []string{"red", "amber", "green"}, out.Health.Status)
	assert.Empty(t, out.Narrative, "no LLM configured")

	t.Run("unknown epic", func(t *testing.T) {
		_, err := svc.AnalyzeEpic(ctx, 404, false)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestPortfolioHealthRanksWorstFirst(t *testing.T) {
	up := sampleUpstream()
	now := time.Now().UTC()
	past := domain.DateOf(now.AddDate(0, 0, -30))
	up.epics = append(up.epics, domain.Epic{ID: 10, Title: "Overdue", GroupID: 1, EndDate: &past})
	up.issues = append(up.issues, domain.Issue{
		ID: 4, IID: 4, Title: "d", State: domain.StateOpened,
		CreatedAt: now.AddDate(0, 0, -40), UpdatedAt: now.AddDate(0, 0, -1),
		Epic: &domain.EpicRef{ID: 10},
	})
	svc := newTestService(t, up)

	sum, err := svc.PortfolioHealth(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, sum.Healths, 2)
	assert.Equal(t, "red", sum.Healths[0].Status)
	assert.Equal(t, "Overdue", sum.Healths[0].EpicTitle)
}

func TestNarrativesUseTheLLM(t *testing.T) {
	up := sampleUpstream()
	llm := &fakeLLM{}
	cfg := config.Config{ProjectID: 1, GroupPaths: []string{"org"}, MaxSourceWorkers: 1, StaticHoursPerPoint: 6, WeeklyHoursDefault: 40}
	svc := New(cfg, zerolog.Nop(), store.NewMemory(), up, llm)
	ctx := context.Background()

	out, err := svc.AnalyzeEpic(ctx, 9, true)
	require.NoError(t, err)
	assert.Equal(t, "epic summary", out.Narrative)

	sum, err := svc.PortfolioHealth(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "portfolio summary", sum.Narrative)
	assert.Equal(t, 2, llm.calls)
}

func TestCycleTimeReport(t *testing.T) {
	svc := newTestService(t, sampleUpstream())
	rep, err := svc.CycleTime(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Stats.CycleTime.Count)
	require.NotNil(t, rep.Enhanced)
	assert.NotEmpty(t, rep.Histogram)
}

func TestDependenciesReport(t *testing.T) {
	svc := newTestService(t, sampleUpstream())
	rep, err := svc.Dependencies(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Edges, 1)
	assert.Equal(t, int64(2), rep.Edges[0].From)
	assert.Equal(t, int64(3), rep.Edges[0].To)
	assert.Empty(t, rep.Cycles)
	assert.Empty(t, rep.Blocked, "dependency #2 is closed")
}

func TestNewSeedsConfiguredAbsences(t *testing.T) {
	cfg := config.Config{
		ProjectID:        1,
		MaxSourceWorkers: 1,
		Absences: []domain.Absence{{
			Username: "dana",
			From:     domain.NewDate(2026, time.August, 3),
			To:       domain.NewDate(2026, time.August, 7),
		}},
	}
	mem := store.NewMemory()
	New(cfg, zerolog.Nop(), mem, sampleUpstream(), nil)

	var got []domain.Absence
	ok, err := mem.Get(context.Background(), store.KeyAbsences, &got)
	require.NoError(t, err)
	require.True(t, ok, "absences from the sources file land in the store")
	require.Len(t, got, 1)
	assert.Equal(t, "dana", got[0].Username)
}

func TestApplyMoveNeedsWriteCapableUpstream(t *testing.T) {
	svc := newTestService(t, sampleUpstream())
	err := svc.ApplyMove(context.Background(), 1, 1, 7)
	assert.Error(t, err, "fake upstream has no write support")
}
