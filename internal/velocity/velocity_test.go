package velocity

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mshams/portfolio-pulse/internal/domain"
	"github.com/mshams/portfolio-pulse/internal/store"
)

func newTestEngine(t *testing.T, seed map[string]any) *Engine {
	t.Helper()
	mem := store.NewMemory()
	for k, v := range seed {
		require.NoError(t, mem.Set(context.Background(), k, v))
	}
	return NewEngine(mem, zerolog.Nop(), 6)
}

func d(y int, m time.Month, day int) domain.Date { return domain.NewDate(y, m, day) }

func dp(y int, m time.Month, day int) *domain.Date {
	v := d(y, m, day)
	return &v
}

// iterIssue is a closed, assigned, weighted issue inside one iteration.
func iterIssue(id int64, user, iterTitle string, start, end *domain.Date, weight int, labels ...string) domain.Issue {
	closed := end.Time
	return domain.Issue{
		ID: id, State: domain.StateClosed, ClosedAt: &closed,
		CreatedAt: start.Time, UpdatedAt: start.Time,
		Assignee:  &domain.User{Username: user},
		Weight:    weight,
		Labels:    labels,
		Iteration: &domain.IterationRef{Title: iterTitle, StartDate: start, DueDate: end},
	}
}

func TestStoryPoints(t *testing.T) {
	assert.Equal(t, 8, StoryPoints(&domain.Issue{Weight: 3, Labels: []string{"SP::8"}}))
	assert.Equal(t, 3, StoryPoints(&domain.Issue{Weight: 3, Labels: []string{"sp::x"}}))
	assert.Equal(t, 0, StoryPoints(&domain.Issue{}))
}

func TestCalculateMemberVelocity(t *testing.T) {
	ctx := context.Background()

	t.Run("no assigned history", func(t *testing.T) {
		e := newTestEngine(t, nil)
		mv := e.CalculateMemberVelocity(ctx, "dana", nil, 40, 3)
		assert.Nil(t, mv.HoursPerStoryPoint)
		assert.Equal(t, "no-history", mv.DataQuality)
	})

	t.Run("closed work without iterations", func(t *testing.T) {
		e := newTestEngine(t, nil)
		closed := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
		issues := []domain.Issue{{
			ID: 1, State: domain.StateClosed, ClosedAt: &closed,
			Assignee: &domain.User{Username: "dana"}, Weight: 3,
		}}
		mv := e.CalculateMemberVelocity(ctx, "dana", issues, 40, 3)
		assert.Equal(t, "no-completed-work", mv.DataQuality)
	})

	t.Run("single full iteration", func(t *testing.T) {
		e := newTestEngine(t, nil)
		// Mon 2026-03-02 .. Fri 2026-03-13: 10 working days, 80h at 40h/week.
		issues := []domain.Issue{
			iterIssue(1, "dana", "Sprint 10", dp(2026, 3, 2), dp(2026, 3, 13), 5),
			iterIssue(2, "dana", "Sprint 10", dp(2026, 3, 2), dp(2026, 3, 13), 3),
		}
		mv := e.CalculateMemberVelocity(ctx, "dana", issues, 40, 3)
		require.NotNil(t, mv.HoursPerStoryPoint)
		assert.Equal(t, 8, mv.TotalStoryPoints)
		assert.InDelta(t, 80.0, mv.TotalAvailableHours, 0.001)
		assert.InDelta(t, 10.0, *mv.HoursPerStoryPoint, 0.001)
		assert.Equal(t, "low", mv.DataQuality)
	})

	t.Run("lookback keeps the three most recent iterations", func(t *testing.T) {
		e := newTestEngine(t, nil)
		var issues []domain.Issue
		starts := []int{5, 19, 2, 16} // Jan 5, Jan 19, Feb 2, Feb 16 — one week each
		months := []time.Month{time.January, time.January, time.February, time.February}
		for i := range starts {
			s := dp(2026, months[i], starts[i])
			end := dp(2026, months[i], starts[i]+4)
			issues = append(issues, iterIssue(int64(i), "dana", "Sprint "+string(rune('A'+i)), s, end, 2))
		}
		mv := e.CalculateMemberVelocity(ctx, "dana", issues, 40, 3)
		assert.Equal(t, 3, mv.IterationsAnalyzed)
		assert.Equal(t, 6, mv.TotalStoryPoints, "oldest iteration dropped")
		assert.Equal(t, "excellent", mv.DataQuality)
	})

	t.Run("absences reduce available hours", func(t *testing.T) {
		e := newTestEngine(t, map[string]any{
			store.KeyAbsences: []domain.Absence{
				{Username: "dana", From: d(2026, 3, 2), To: d(2026, 3, 6)}, // 5 working days off
			},
		})
		issues := []domain.Issue{
			iterIssue(1, "dana", "Sprint 10", dp(2026, 3, 2), dp(2026, 3, 13), 5),
		}
		mv := e.CalculateMemberVelocity(ctx, "dana", issues, 40, 3)
		require.NotNil(t, mv.HoursPerStoryPoint)
		assert.InDelta(t, 40.0, mv.TotalAvailableHours, 0.001) // 80 - 5*8
		assert.InDelta(t, 8.0, *mv.HoursPerStoryPoint, 0.001)
	})

	t.Run("sp label overrides weight", func(t *testing.T) {
		e := newTestEngine(t, nil)
		issues := []domain.Issue{
			iterIssue(1, "dana", "Sprint 10", dp(2026, 3, 2), dp(2026, 3, 13), 1, "sp::8"),
		}
		mv := e.CalculateMemberVelocity(ctx, "dana", issues, 40, 3)
		assert.Equal(t, 8, mv.TotalStoryPoints)
	})
}

func TestTeamAverageAndLookup(t *testing.T) {
	h1, h2 := 10.0, 14.0
	members := []MemberVelocity{
		{Username: "a", HoursPerStoryPoint: &h1, IterationsAnalyzed: 3},
		{Username: "b", HoursPerStoryPoint: &h2, IterationsAnalyzed: 2},
		{Username: "c", HoursPerStoryPoint: &h1, IterationsAnalyzed: 1}, // too thin, excluded
		{Username: "d"},
	}
	ta := CalculateTeamAverage(members)
	require.NotNil(t, ta.HoursPerStoryPoint)
	assert.InDelta(t, 12.0, *ta.HoursPerStoryPoint, 0.001)
	assert.Equal(t, 2, ta.MembersAnalyzed)
	assert.Equal(t, "moderate", ta.Quality)

	t.Run("static fallback when nobody has history", func(t *testing.T) {
		e := newTestEngine(t, nil)
		lk := e.GetHoursPerStoryPoint(context.Background(), "ghost", nil, nil, 40)
		assert.Equal(t, "static", lk.Source)
		assert.InDelta(t, 6.0, lk.Value, 0.001)
	})

	t.Run("individual wins with two iterations", func(t *testing.T) {
		e := newTestEngine(t, nil)
		issues := []domain.Issue{
			iterIssue(1, "dana", "Sprint 1", dp(2026, 2, 2), dp(2026, 2, 6), 5),
			iterIssue(2, "dana", "Sprint 2", dp(2026, 2, 9), dp(2026, 2, 13), 5),
		}
		lk := e.GetHoursPerStoryPoint(context.Background(), "dana", issues, nil, 40)
		assert.Equal(t, "individual", lk.Source)
	})
}

func TestCalculateHistoricalVelocity(t *testing.T) {
	closed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var issues []domain.Issue
	for i := 0; i < 25; i++ {
		issues = append(issues, domain.Issue{
			ID: int64(i), State: domain.StateClosed, ClosedAt: &closed,
			Weight: 2, TimeSpentSeconds: 4 * 3600 * 2, // 4h per point
		})
	}
	hv := CalculateHistoricalVelocity(issues)
	require.NotNil(t, hv.HoursPerStoryPoint)
	assert.InDelta(t, 4.0, *hv.HoursPerStoryPoint, 0.001)
	assert.Equal(t, 25, hv.Samples)
	assert.Equal(t, "medium", hv.Confidence)

	empty := CalculateHistoricalVelocity(nil)
	assert.Nil(t, empty.HoursPerStoryPoint)
	assert.Equal(t, "low", empty.Confidence)
}

func TestUtilizationStatus(t *testing.T) {
	cases := []struct {
		pct  float64
		want string
	}{
		{130, "critical"}, {110, "overallocated"}, {90, "full"}, {60, "ok"}, {20, "underutilized"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, utilizationStatus(tc.pct))
	}
}

func TestAnalyzeWorkloadMoves(t *testing.T) {
	e := newTestEngine(t, nil)
	team := []domain.TeamMember{
		{Username: "busy", DefaultCapacity: 40},
		{Username: "idle", DefaultCapacity: 40},
	}
	// At the static 6h/point rate: busy carries 10 points = 60h (150%),
	// idle carries nothing.
	issues := []domain.Issue{
		{ID: 1, Title: "big", State: domain.StateOpened, Weight: 6, Assignee: &domain.User{Username: "busy"}},
		{ID: 2, Title: "small", State: domain.StateOpened, Weight: 4, Assignee: &domain.User{Username: "busy"}},
	}
	rep := e.AnalyzeWorkload(context.Background(), issues, team, "", nil, 40)
	require.Len(t, rep.Members, 2)
	byUser := map[string]MemberLoad{}
	for _, m := range rep.Members { byUser[m.Username] = m }
	assert.Equal(t, "critical", byUser["busy"].Status)
	assert.Equal(t, "underutilized", byUser["idle"].Status)

	require.NotEmpty(t, rep.Moves)
	assert.Equal(t, "busy", rep.Moves[0].From)
	assert.Equal(t, "idle", rep.Moves[0].To)
	assert.Equal(t, int64(2), rep.Moves[0].IssueID, "smallest issue moves first")
}
