package cycletime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mshams/portfolio-pulse/internal/domain"
	"github.com/mshams/portfolio-pulse/internal/phase"
)

type fakeFetcher struct {
	events map[int64][]domain.LabelEvent // keyed by issue iid
	errFor map[int64]error
	calls  atomic.Int64
}

func (f *fakeFetcher) ListLabelEvents(_ context.Context, _ int64, iid int64) ([]domain.LabelEvent, error) {
	f.calls.Add(1)
	if err := f.errFor[iid]; err != nil { return nil, err }
	return f.events[iid], nil
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil { panic(err) }
	return t
}

func tsp(s string) *time.Time {
	t := ts(s)
	return &t
}

func newTestEngine(f *fakeFetcher, ttl time.Duration) *Engine {
	return NewEngine(f, phase.NewEngine(nil), zerolog.Nop(), ttl, 0)
}

func TestNewEngineClampsWorkerCount(t *testing.T) {
	f := &fakeFetcher{}
	assert.Equal(t, maxEventWorkers, newTestEngine(f, time.Minute).workers, "zero falls back to the bound")
	assert.Equal(t, maxEventWorkers, NewEngine(f, phase.NewEngine(nil), zerolog.Nop(), time.Minute, 50).workers)
	assert.Equal(t, 3, NewEngine(f, phase.NewEngine(nil), zerolog.Nop(), time.Minute, 3).workers)
}

func closedIssue(id, iid int64, created, closed string) domain.Issue {
	return domain.Issue{
		ID: id, IID: iid, ProjectID: 1,
		CreatedAt: ts(created), UpdatedAt: ts(created),
		State: domain.StateClosed, ClosedAt: tsp(closed),
	}
}

func TestCalculateAccurateCycleTime(t *testing.T) {
	e := newTestEngine(&fakeFetcher{}, time.Minute)
	is := closedIssue(1, 1, "2026-03-01T00:00:00Z", "2026-03-21T00:00:00Z")

	t.Run("work starts at first work-start label add", func(t *testing.T) {
		events := []domain.LabelEvent{
			{CreatedAt: ts("2026-03-11T00:00:00Z"), Action: domain.LabelAdd, LabelName: "In Progress"},
			{CreatedAt: ts("2026-03-05T00:00:00Z"), Action: domain.LabelAdd, LabelName: "backlog"},
			{CreatedAt: ts("2026-03-15T00:00:00Z"), Action: domain.LabelAdd, LabelName: "review"},
		}
		res := e.CalculateAccurateCycleTime(&is, events)
		assert.Equal(t, ts("2026-03-11T00:00:00Z"), res.WorkStartedAt)
		assert.Equal(t, 10, res.CycleTime)
		assert.Equal(t, 20, res.LeadTime)
		assert.Equal(t, MethodLabelEvents, res.Method)
		// Events replayed in chronological order regardless of input order.
		require.Len(t, res.Timeline, 3)
		assert.Equal(t, "backlog", res.Timeline[0].Label)
	})

	t.Run("falls back to creation without work-start labels", func(t *testing.T) {
		events := []domain.LabelEvent{
			{CreatedAt: ts("2026-03-05T00:00:00Z"), Action: domain.LabelAdd, LabelName: "backlog"},
		}
		res := e.CalculateAccurateCycleTime(&is, events)
		assert.Equal(t, is.CreatedAt, res.WorkStartedAt)
		assert.Equal(t, res.LeadTime, res.CycleTime)
	})

	t.Run("remove events shrink the running label set", func(t *testing.T) {
		events := []domain.LabelEvent{
			{CreatedAt: ts("2026-03-05T00:00:00Z"), Action: domain.LabelAdd, LabelName: "doing"},
			{CreatedAt: ts("2026-03-10T00:00:00Z"), Action: domain.LabelRemove, LabelName: "doing"},
		}
		res := e.CalculateAccurateCycleTime(&is, events)
		require.Len(t, res.Timeline, 2)
		assert.Contains(t, res.Timeline[0].Labels, "doing")
		assert.NotContains(t, res.Timeline[1].Labels, "doing")
		// Work start is the first add even if the label is later removed.
		assert.Equal(t, ts("2026-03-05T00:00:00Z"), res.WorkStartedAt)
	})
}

func TestCacheTTLAndClear(t *testing.T) {
	f := &fakeFetcher{events: map[int64][]domain.LabelEvent{
		1: {{CreatedAt: ts("2026-03-02T00:00:00Z"), Action: domain.LabelAdd, LabelName: "wip"}},
	}}
	e := newTestEngine(f, time.Hour)
	is := closedIssue(1, 1, "2026-03-01T00:00:00Z", "2026-03-10T00:00:00Z")
	ctx := context.Background()

	first, err := e.GetOrFetchLabelEvents(ctx, &is)
	require.NoError(t, err)
	second, err := e.GetOrFetchLabelEvents(ctx, &is)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.calls.Load(), "second call within TTL must hit the cache")
	assert.Equal(t, first, second)

	e.ClearCache()
	_, err = e.GetOrFetchLabelEvents(ctx, &is)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.calls.Load())
}

func TestFetchBatchSkipsOpenAndToleratesErrors(t *testing.T) {
	f := &fakeFetcher{
		events: map[int64][]domain.LabelEvent{1: {}, 2: {}},
		errFor: map[int64]error{2: errors.New("boom")},
	}
	e := newTestEngine(f, time.Hour)
	issues := []domain.Issue{
		closedIssue(1, 1, "2026-03-01T00:00:00Z", "2026-03-05T00:00:00Z"),
		closedIssue(2, 2, "2026-03-01T00:00:00Z", "2026-03-05T00:00:00Z"),
		{ID: 3, IID: 3, State: domain.StateOpened, CreatedAt: ts("2026-03-01T00:00:00Z")},
	}
	out := e.FetchBatchLabelEvents(context.Background(), issues)
	assert.Contains(t, out, int64(1))
	assert.NotContains(t, out, int64(2), "errored issue is absent, not fatal")
	assert.NotContains(t, out, int64(3), "open issues are skipped")
}

func TestGetEnhancedCycleTimeStats(t *testing.T) {
	f := &fakeFetcher{
		events: map[int64][]domain.LabelEvent{
			1: {{CreatedAt: ts("2026-03-06T00:00:00Z"), Action: domain.LabelAdd, LabelName: "in progress"}},
		},
		errFor: map[int64]error{2: errors.New("no history")},
	}
	e := newTestEngine(f, time.Hour)
	now := ts("2026-04-01T00:00:00Z")
	issues := []domain.Issue{
		closedIssue(1, 1, "2026-03-01T00:00:00Z", "2026-03-11T00:00:00Z"),
		closedIssue(2, 2, "2026-03-01T00:00:00Z", "2026-03-11T00:00:00Z"),
	}
	stats := e.GetEnhancedCycleTimeStats(context.Background(), issues, now)
	assert.Equal(t, 1, stats.AccurateCount)
	assert.Equal(t, 1, stats.EstimatedCount)
	assert.InDelta(t, 50.0, stats.DataQuality, 0.01)
	assert.Equal(t, 2, stats.Stats.CycleTime.Count)
	assert.Equal(t, 2, stats.Stats.LeadTime.Count)
}
