package phase

import (
	"math"
	"sort"
	"time"

	"github.com/mshams/portfolio-pulse/internal/domain"
)

// Summary is the five-number report over a day-count series.
type Summary struct {
	Count  int `json:"count"`
	Avg    int `json:"avg"`
	Median int `json:"median"`
	Min    int `json:"min"`
	Max    int `json:"max"`
}

// CycleTimeStats aggregates lead and estimated cycle times.
type CycleTimeStats struct {
	LeadTime    Summary `json:"leadTime"`
	CycleTime   Summary `json:"cycleTime"`
	AvgWaitTime int     `json:"avgWaitTime"`
}

// Summarize computes the five-number report; an empty series yields zeros.
func Summarize(values []int) Summary {
	if len(values) == 0 { return Summary{} }
	sorted := append([]int{}, values...)
	sort.Ints(sorted)
	sum := 0
	for _, v := range sorted { sum += v }
	s := Summary{
		Count:  len(sorted),
		Avg:    int(math.Round(float64(sum) / float64(len(sorted)))),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		s.Median = sorted[mid]
	} else {
		s.Median = int(math.Round(float64(sorted[mid-1]+sorted[mid]) / 2))
	}
	return s
}

// GetCycleTimeStats reports lead-time statistics over every issue and
// cycle-time statistics over closed issues with a defined estimate.
func (e *Engine) GetCycleTimeStats(issues []domain.Issue, now time.Time) CycleTimeStats {
	var leads, cycles []int
	for i := range issues {
		leads = append(leads, LeadTime(&issues[i], now))
		if ct, ok := EstimatedCycleTime(&issues[i], now); ok {
			cycles = append(cycles, ct)
		}
	}
	st := CycleTimeStats{LeadTime: Summarize(leads), CycleTime: Summarize(cycles)}
	if wait := st.LeadTime.Avg - st.CycleTime.Avg; wait > 0 { st.AvgWaitTime = wait }
	return st
}

// HistogramBucket is one inclusive-upper-bound bin of the lead-time
// distribution.
type HistogramBucket struct {
	Label string `json:"label"`
	Max   int    `json:"max"` // inclusive; -1 means unbounded
	Count int    `json:"count"`
}

// Histogram bins day counts into the fixed 0-7/8-14/15-30/31-60/61-90/90+
// buckets.
func Histogram(values []int) []HistogramBucket {
	buckets := []HistogramBucket{
		{Label: "0-7", Max: 7},
		{Label: "8-14", Max: 14},
		{Label: "15-30", Max: 30},
		{Label: "31-60", Max: 60},
		{Label: "61-90", Max: 90},
		{Label: "90+", Max: -1},
	}
	for _, v := range values {
		for i := range buckets {
			if buckets[i].Max < 0 || v <= buckets[i].Max {
				buckets[i].Count++
				break
			}
		}
	}
	return buckets
}

// ControlPoint is one closed issue on the control chart.
type ControlPoint struct {
	ClosedAt time.Time `json:"closedAt"`
	Value    int       `json:"value"`
	IssueID  int64     `json:"issueId"`
}

// ControlChart carries the chart series plus its control limits.
type ControlChart struct {
	Points     []ControlPoint `json:"points"`
	P85        int            `json:"p85"`
	P95        int            `json:"p95"`
	Mean       float64        `json:"mean"`
	StdDev     float64        `json:"stdDev"`
	UpperLimit float64        `json:"upperLimit"` // mean + 3σ
	LowerLimit float64        `json:"lowerLimit"` // max(0, mean - 3σ)
}

// BuildControlChart plots lead time per closed issue ordered by close date,
// with nearest-rank (floor) percentiles and 3σ limits clamped at zero.
func (e *Engine) BuildControlChart(issues []domain.Issue, now time.Time) ControlChart {
	var chart ControlChart
	for i := range issues {
		is := &issues[i]
		if is.ClosedAt == nil { continue }
		chart.Points = append(chart.Points, ControlPoint{
			ClosedAt: *is.ClosedAt, Value: LeadTime(is, now), IssueID: is.ID,
		})
	}
	sort.SliceStable(chart.Points, func(i, j int) bool {
		return chart.Points[i].ClosedAt.Before(chart.Points[j].ClosedAt)
	})
	if len(chart.Points) == 0 { return chart }

	values := make([]int, len(chart.Points))
	sum := 0.0
	for i, p := range chart.Points {
		values[i] = p.Value
		sum += float64(p.Value)
	}
	sort.Ints(values)
	chart.P85 = values[percentileIndex(len(values), 85)]
	chart.P95 = values[percentileIndex(len(values), 95)]
	chart.Mean = sum / float64(len(values))
	variance := 0.0
	for _, v := range values {
		variance += (float64(v) - chart.Mean) * (float64(v) - chart.Mean)
	}
	chart.StdDev = math.Sqrt(variance / float64(len(values)))
	chart.UpperLimit = chart.Mean + 3*chart.StdDev
	chart.LowerLimit = math.Max(0, chart.Mean-3*chart.StdDev)
	return chart
}

func percentileIndex(n, pct int) int {
	idx := n * pct / 100
	if idx >= n { idx = n - 1 }
	return idx
}
