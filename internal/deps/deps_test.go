package deps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mshams/portfolio-pulse/internal/domain"
)

func TestExtractDependencies(t *testing.T) {
	cases := []struct {
		name string
		desc string
		want []int64
	}{
		{"blocked by", "This is blocked by #12", []int64{12}},
		{"depends on", "depends on #7 and depends on #8", []int64{7, 8}},
		{"requires", "Requires #3", []int64{3}},
		{"waiting for", "waiting for #44 to land", []int64{44}},
		{"case insensitive", "BLOCKED BY #5", []int64{5}},
		{"dedupes across patterns", "blocked by #9, depends on #9", []int64{9}},
		{"no references", "just a normal description", nil},
		{"plain hash is not a dependency", "see #10 for context", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractDependencies(tc.desc))
		})
	}
}

func TestBuildGraphEdgesPointDependencyToDependent(t *testing.T) {
	issues := []domain.Issue{
		{IID: 2, Description: "blocked by #1"},
		{IID: 3, Description: "depends on #1"},
	}
	g := BuildGraph(issues)
	require.Len(t, g.Edges, 2)
	assert.ElementsMatch(t, []Edge{{From: 1, To: 2}, {From: 1, To: 3}}, g.Edges)
	assert.ElementsMatch(t, []int64{2, 3}, g.Outgoing[1])
}

func TestFindCircularDependencies(t *testing.T) {
	issues := []domain.Issue{
		{IID: 1, Description: "blocked by #2"},
		{IID: 2, Description: "blocked by #1"},
	}
	g := BuildGraph(issues)
	cycles := g.FindCircularDependencies()
	require.NotEmpty(t, cycles)
	found := false
	for _, e := range cycles {
		if (e.From == 1 && e.To == 2) || (e.From == 2 && e.To == 1) { found = true }
	}
	assert.True(t, found, "expected an edge within the 1<->2 cycle, got %v", cycles)
}

func TestCriticalPathDepths(t *testing.T) {
	// Chain: 1 -> 2 -> 3, plus independent 10.
	issues := []domain.Issue{
		{IID: 2, Description: "blocked by #1"},
		{IID: 3, Description: "blocked by #2"},
		{IID: 10, Description: ""},
	}
	depths := BuildGraph(issues).CriticalPathDepths()
	assert.Equal(t, 0, depths[1])
	assert.Equal(t, 1, depths[2])
	assert.Equal(t, 2, depths[3])
}

func TestCriticalPathDepthsTerminatesOnCycles(t *testing.T) {
	issues := []domain.Issue{
		{IID: 1, Description: "blocked by #2"},
		{IID: 2, Description: "blocked by #1"},
		{IID: 3, Description: "blocked by #2"},
	}
	depths := BuildGraph(issues).CriticalPathDepths()
	assert.Equal(t, 0, depths[1])
	assert.Equal(t, 0, depths[2])
	// Node 3 depends on a cycle member; the cycle contributes zero depth.
	assert.Equal(t, 1, depths[3])
}

func TestBlockedIssues(t *testing.T) {
	closed := domain.Issue{IID: 1, State: domain.StateClosed}
	issues := []domain.Issue{
		closed,
		{IID: 2, State: domain.StateOpened},
		{IID: 3, State: domain.StateOpened, Description: "blocked by #2"},  // open dep -> blocked
		{IID: 4, State: domain.StateOpened, Description: "blocked by #1"},  // closed dep -> not blocked
		{IID: 5, State: domain.StateClosed, Description: "blocked by #2"},  // closed itself -> ignored
	}
	out := BlockedIssues(issues)
	require.Len(t, out, 1)
	assert.Equal(t, int64(3), out[0].IID)
}
